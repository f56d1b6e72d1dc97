package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/repository"
	"github.com/LincolnGameplays/emprataai/internal/service"
	"github.com/LincolnGameplays/emprataai/internal/session"
	"github.com/LincolnGameplays/emprataai/pkg/logger"
)

type memoryStore struct {
	mu       sync.Mutex
	accounts map[int64]models.Account
}

func (m *memoryStore) FindByID(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (m *memoryStore) SaveBalance(_ context.Context, id int64, plan models.Plan, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accounts[id]
	acc.Plan, acc.Credits = plan, credits
	m.accounts[id] = acc
	return nil
}

type stubGenerator struct {
	image []byte
	err   error
}

func (g stubGenerator) Generate(context.Context, generator.Request) (*generator.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &generator.Result{Image: &models.Image{Bytes: g.image, Mime: "image/png"}, Provider: "stub"}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	server   *httptest.Server
	registry *session.Registry
	store    *memoryStore
}

func newFixture(t *testing.T, gen service.ImageGenerator, accounts ...models.Account) *fixture {
	t.Helper()
	log := logger.Discard()
	m := metrics.New()

	store := &memoryStore{accounts: map[int64]models.Account{}}
	for _, acc := range accounts {
		store.accounts[acc.ID] = acc
	}
	registry := session.NewRegistry(store, 16, log, m)
	t.Cleanup(registry.Close)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	accountSvc := service.NewAccountService(repository.NewAccountRepository(db), registry, models.StartingCredits, log)
	generation := service.NewGenerationService(log, gen, nil, nil, m, 540)
	exports := service.NewExportService(log, m, 540, 0, time.Second)

	srv := NewServer(":0", "admin", "secret", log, m, accountSvc, registry, generation, exports, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, registry: registry, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func multipartImage(t *testing.T, image []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		part, err := mw.CreateFormFile("image", "dish.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeGenerate(t *testing.T, resp *http.Response) generateResponse {
	t.Helper()
	var out generateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, stubGenerator{})

	resp := f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "insufficient_credits_total")
}

func TestLoginAndLogout(t *testing.T) {
	f := newFixture(t, stubGenerator{}, models.Account{ID: 7, Plan: models.PlanFree, Credits: 2})

	resp := f.do(t, http.MethodPost, "/api/v1/accounts/99/session", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/accounts/abc/session", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/accounts/7/session", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, live := f.registry.Get(7)
	assert.True(t, live)

	resp = f.do(t, http.MethodDelete, "/api/v1/accounts/7/session", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/v1/accounts/7/session", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateThenExport(t *testing.T) {
	f := newFixture(t, stubGenerator{image: pngBytes(t, 300, 300)}, models.Account{ID: 1, Plan: models.PlanFree, Credits: 1})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/accounts/1/session", nil, "").StatusCode)

	resp := f.do(t, http.MethodPost, "/api/v1/accounts/1/export", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "nothing to export yet")

	body, ct := multipartImage(t, pngBytes(t, 800, 400), map[string]string{"vibe": "gourmet", "light": "70"})
	resp = f.do(t, http.MethodPost, "/api/v1/accounts/1/generate", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeGenerate(t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, 0, out.Credits)
	assert.Equal(t, "stub", out.Provider)
	assert.True(t, strings.HasPrefix(out.ImageURL, "data:image/png;base64,"))

	sess, ok := f.registry.Get(1)
	require.True(t, ok)
	assert.Equal(t, "gourmet", sess.Style().Vibe)
	assert.Equal(t, 70, sess.Style().Light)

	resp = f.do(t, http.MethodPost, "/api/v1/accounts/1/export?format=gif", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/accounts/1/export?format=jpeg&filename=prato", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="prato.jpg"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "true", resp.Header.Get("X-Emprata-Watermarked"))
	jpeg, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(jpeg))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 540, cfg.Width)
	assert.Equal(t, 540, cfg.Height)
}

func TestExportUnreachableResultIsBadGateway(t *testing.T) {
	f := newFixture(t, stubGenerator{}, models.Account{ID: 1, Plan: models.PlanPro})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/accounts/1/session", nil, "").StatusCode)

	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()
	sess, ok := f.registry.Get(1)
	require.True(t, ok)
	sess.SetLastImage(&models.Image{URL: gone.URL + "/result.png"})

	resp := f.do(t, http.MethodPost, "/api/v1/accounts/1/export", nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestGenerateReasons(t *testing.T) {
	f := newFixture(t, stubGenerator{err: generator.ErrMalformedOutput},
		models.Account{ID: 1, Plan: models.PlanFree, Credits: 0},
		models.Account{ID: 2, Plan: models.PlanStarter, Credits: 3},
	)

	body, ct := multipartImage(t, pngBytes(t, 100, 100), nil)
	resp := f.do(t, http.MethodPost, "/api/v1/accounts/1/generate", body, ct)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no session yet")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/accounts/1/session", nil, "").StatusCode)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/accounts/2/session", nil, "").StatusCode)

	body, ct = multipartImage(t, pngBytes(t, 100, 100), nil)
	resp = f.do(t, http.MethodPost, "/api/v1/accounts/1/generate", body, ct)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, service.ReasonInsufficientCredits, decodeGenerate(t, resp).Reason)

	body, ct = multipartImage(t, nil, map[string]string{"light": "bright"})
	resp = f.do(t, http.MethodPost, "/api/v1/accounts/2/generate", body, ct)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, service.ReasonInvalidStyle, decodeGenerate(t, resp).Reason)

	body, ct = multipartImage(t, nil, nil)
	resp = f.do(t, http.MethodPost, "/api/v1/accounts/2/generate", body, ct)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, service.ReasonInvalidImage, decodeGenerate(t, resp).Reason)

	body, ct = multipartImage(t, pngBytes(t, 100, 100), nil)
	resp = f.do(t, http.MethodPost, "/api/v1/accounts/2/generate", body, ct)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out := decodeGenerate(t, resp)
	assert.Equal(t, service.ReasonGenerationFailed, out.Reason)
	assert.Equal(t, 3, out.Credits, "failed generation is refunded")
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	f := newFixture(t, stubGenerator{})

	resp := f.do(t, http.MethodPut, "/admin/accounts/1/plan", strings.NewReader(`{"plan":"pro"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, f.server.URL+"/admin/accounts/1/plan", strings.NewReader(`{"plan":"platinum"}`))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	resp, err = f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, f.server.URL+"/admin/accounts/1/credits", strings.NewReader(`{"credits":-5}`))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	resp2, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "", imageURL(nil))
	assert.Equal(t, "https://cdn/x.png", imageURL(&models.Image{URL: "https://cdn/x.png", Bytes: []byte{1}}))
	assert.Equal(t, "data:image/png;base64,AQI=", imageURL(&models.Image{Bytes: []byte{1, 2}, Mime: "image/png"}))
}
