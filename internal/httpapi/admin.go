package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/service"
)

type creditsRequest struct {
	Credits int `json:"credits"`
}

type planChangeRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleSetCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req creditsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Credits < 0 {
		s.writeError(w, http.StatusBadRequest, "credits must not be negative")
		return
	}
	s.respondAccount(w, r, id, s.accounts.AdminSetCredits(r.Context(), id, req.Credits))
}

func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req planChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	plan, err := models.ParsePlan(req.Plan)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.respondAccount(w, r, id, s.accounts.AdminSetPlan(r.Context(), id, plan))
}

func (s *Server) handleResetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	s.respondAccount(w, r, id, s.accounts.AdminReset(r.Context(), id))
}

// respondAccount turns the outcome of an admin change into a response carrying
// the account as it is now.
func (s *Server) respondAccount(w http.ResponseWriter, r *http.Request, id int64, err error) {
	if errors.Is(err, service.ErrAccountNotFound) {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	account, err := s.accounts.Get(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

type packageRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"price_minor_units"`
	Credits         int    `json:"credits"`
	UpgradePlan     string `json:"upgrade_plan"`
	IsActive        *bool  `json:"is_active"`
}

type packageUpdateRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	Credits         *int    `json:"credits"`
	UpgradePlan     *string `json:"upgrade_plan"`
	IsActive        *bool   `json:"is_active"`
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.packages.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packages)
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	pkg, err := s.packages.Create(r.Context(), service.CreatePackageInput{
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		UpgradePlan:     req.UpgradePlan,
		IsActive:        req.IsActive,
	})
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req packageUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	pkg, err := s.packages.Update(r.Context(), id, service.UpdatePackageInput{
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		UpgradePlan:     req.UpgradePlan,
		IsActive:        req.IsActive,
	})
	if errors.Is(err, service.ErrPackageNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.packages.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promoRequest struct {
	Code    string `json:"code"`
	MaxUses int    `json:"max_uses"`
	Credits int    `json:"credits"`
}

type promoUpdateRequest struct {
	Code    *string `json:"code"`
	MaxUses *int    `json:"max_uses"`
	Uses    *int    `json:"uses"`
	Credits *int    `json:"credits"`
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.promos.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	promo, err := s.promos.Create(r.Context(), req.Code, req.MaxUses, req.Credits)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req promoUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	existing, err := s.promos.GetByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if existing == nil {
		s.writeError(w, http.StatusNotFound, "promo not found")
		return
	}
	if req.Code != nil && *req.Code != "" {
		existing.Code = *req.Code
	}
	if req.MaxUses != nil && *req.MaxUses > 0 {
		existing.MaxUses = *req.MaxUses
	}
	if req.Uses != nil && *req.Uses >= 0 {
		existing.Uses = *req.Uses
	}
	if req.Credits != nil && *req.Credits > 0 {
		existing.Credits = *req.Credits
	}
	promo, err := s.promos.Update(r.Context(), existing)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.promos.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
