package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/LincolnGameplays/emprataai/internal/imaging"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/service"
	"github.com/LincolnGameplays/emprataai/internal/session"
)

const maxUploadBytes = 20 << 20

type signupRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.badRequest(w, err)
			return
		}
	}
	account, err := s.accounts.Signup(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	account, err := s.accounts.Get(r.Context(), id)
	if errors.Is(err, service.ErrAccountNotFound) {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	sess, err := s.sessions.Login(r.Context(), id)
	if errors.Is(err, session.ErrAccountNotFound) {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account": sess.Account(),
		"style":   sess.Style(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	if !s.sessions.Logout(id) {
		s.writeError(w, http.StatusNotFound, "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// liveSession answers 409 itself when the account has not logged in.
func (s *Server) liveSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := s.accountID(w, r)
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		s.writeError(w, http.StatusConflict, "no active session")
		return nil, false
	}
	return sess, true
}

type generateResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url,omitempty"`
	Provider string `json:"provider,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Credits  int    `json:"credits"`
}

// handleGenerate takes a multipart form with an optional "image" file and the
// style fields. Missing fields fall back to what the session already holds.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSession(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.badRequest(w, fmt.Errorf("parse form: %w", err))
		return
	}

	source, err := formImage(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if source != nil {
		sess.SetSource(source)
	} else {
		source = sess.Source()
	}

	style, err := formStyle(r, sess.Style())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, generateResponse{Reason: service.ReasonInvalidStyle, Credits: sess.Ledger().Balance()})
		return
	}
	if err := style.Validate(); err == nil {
		sess.SetStyle(style)
	}

	res := s.generation.Attempt(r.Context(), sess, service.GenerationRequest{Source: source, Style: style})
	resp := generateResponse{
		Success:  res.Success,
		Provider: res.Provider,
		Reason:   res.Reason,
		Credits:  res.Credits,
	}
	if !res.Success {
		s.writeJSON(w, statusForReason(res.Reason), resp)
		return
	}
	resp.ImageURL = imageURL(res.Image)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSession(w, r)
	if !ok {
		return
	}
	last := sess.LastImage()
	if last == nil {
		s.writeError(w, http.StatusConflict, "nothing generated yet")
		return
	}

	written := false
	sink := service.SinkFunc(func(_ context.Context, a service.Artifact) error {
		w.Header().Set("Content-Type", a.Mime)
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
		w.Header().Set("X-Emprata-Watermarked", strconv.FormatBool(a.Watermarked))
		w.WriteHeader(http.StatusOK)
		written = true
		_, err := io.Copy(w, a.Body)
		return err
	})

	req := service.ExportRequest{
		Image:    last,
		Plan:     sess.Ledger().Plan(),
		Format:   r.URL.Query().Get("format"),
		Filename: r.URL.Query().Get("filename"),
	}
	err := s.exports.Export(r.Context(), req, sink)
	if err == nil || written {
		return
	}
	var exportErr *imaging.ExportError
	if errors.As(err, &exportErr) {
		switch exportErr.Stage {
		case imaging.StageIdle:
			s.badRequest(w, err)
			return
		case imaging.StageLoading:
			s.log.Error("export source unavailable", "account_id", sess.AccountID(), "err", err)
			s.writeError(w, http.StatusBadGateway, "generated image unavailable")
			return
		}
	}
	s.internalError(w, err)
}

type promoRedeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req promoRedeemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	credits, err := s.promos.Apply(r.Context(), id, req.Code)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]int{"credits_added": credits})
	case errors.Is(err, service.ErrPromoInvalid):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPromoExhausted), errors.Is(err, service.ErrPromoAlreadyRedeemed):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, err)
	}
}

type checkoutRequest struct {
	PackageID int64 `json:"package_id"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.badRequest(w, err)
			return
		}
	}
	checkout, err := s.payments.CreateCheckout(r.Context(), id, req.PackageID)
	if errors.Is(err, service.ErrPackageNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, checkout)
}

// handleCheckoutWebhook is the public endpoint the payment gateway calls on
// every status change.
func (s *Server) handleCheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.payments.HandleCheckoutWebhook(r.Context(), body); err != nil {
		s.log.Error("checkout webhook", "err", err)
		if errors.Is(err, service.ErrPaymentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func formImage(r *http.Request) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

func formStyle(r *http.Request, base models.StyleParams) (models.StyleParams, error) {
	style := base
	if v := strings.TrimSpace(r.FormValue("vibe")); v != "" {
		style.Vibe = v
	}
	if v := strings.TrimSpace(r.FormValue("angle")); v != "" {
		style.Angle = v
	}
	if v := strings.TrimSpace(r.FormValue("light")); v != "" {
		light, err := strconv.Atoi(v)
		if err != nil {
			return style, fmt.Errorf("light must be a number: %w", err)
		}
		style.Light = light
	}
	return style, nil
}

func statusForReason(reason string) int {
	switch reason {
	case service.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case service.ReasonInvalidImage, service.ReasonInvalidStyle:
		return http.StatusBadRequest
	case service.ReasonGenerationInProgress:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// imageURL prefers the provider URL and otherwise inlines the bytes.
func imageURL(img *models.Image) string {
	if img == nil {
		return ""
	}
	if img.URL != "" {
		return img.URL
	}
	mime := img.Mime
	if mime == "" {
		mime = http.DetectContentType(img.Bytes)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Bytes)
}
