package kie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/config"
	"github.com/LincolnGameplays/emprataai/internal/generator"
)

type fakeKIE struct {
	polls      atomic.Int32
	pending    int32
	state      string
	resultJSON string
	payload    map[string]any
}

func (f *fakeKIE) handler(t *testing.T, srvURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.payload))
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":{"taskId":"task-1"}}`))
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))
		state := f.state
		if f.polls.Add(1) <= f.pending {
			state = "generating"
		}
		resultJSON := f.resultJSON
		if resultJSON == "" && state == "success" {
			resultJSON = `{"resultUrls":["` + srvURL() + `/result.png"]}`
		}
		data, _ := json.Marshal(map[string]any{
			"code": 200,
			"data": map[string]any{"state": state, "resultJson": resultJSON, "failMsg": "nsfw"},
		})
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/result.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeKIE, model string) *Client {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(fake.handler(t, func() string { return srv.URL }))
	t.Cleanup(srv.Close)

	return NewClient(config.Config{
		KIEAPIKey:       "test-key",
		KIEBaseURL:      srv.URL,
		KIEModel:        model,
		KIEPollInterval: time.Millisecond,
		KIEMaxPolls:     5,
		RequestTimeout:  5 * time.Second,
	}, nil)
}

func TestGenerateWaitsForSuccess(t *testing.T) {
	fake := &fakeKIE{state: "success", pending: 2}
	c := newTestClient(t, fake, ModelNanoBanana)

	img, err := c.Generate(context.Background(), generator.Request{Prompt: "plated pasta", SourceURL: "https://cdn/src.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Bytes)
	assert.Equal(t, "image/png", img.Mime)
	assert.EqualValues(t, 3, fake.polls.Load())

	assert.Equal(t, ModelNanoBanana, fake.payload["model"])
	input := fake.payload["input"].(map[string]any)
	assert.Equal(t, []any{"https://cdn/src.jpg"}, input["image_input"])
	assert.Equal(t, "1:1", input["aspect_ratio"])
}

func TestGenerateFluxUsesInputURLs(t *testing.T) {
	fake := &fakeKIE{state: "success"}
	c := newTestClient(t, fake, ModelFlux2)

	_, err := c.Generate(context.Background(), generator.Request{Prompt: "x", SourceURL: "https://cdn/src.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "flux-2/pro-image-to-image", fake.payload["model"])
	input := fake.payload["input"].(map[string]any)
	assert.Equal(t, []any{"https://cdn/src.jpg"}, input["input_urls"])
}

func TestGenerateEmptyResultIsMalformed(t *testing.T) {
	fake := &fakeKIE{state: "success", resultJSON: `{"resultUrls":[]}`}
	c := newTestClient(t, fake, ModelNanoBanana)

	_, err := c.Generate(context.Background(), generator.Request{Prompt: "x"})
	require.ErrorIs(t, err, generator.ErrMalformedOutput)
}

func TestGenerateTaskFailureIsNotMalformed(t *testing.T) {
	fake := &fakeKIE{state: "fail"}
	c := newTestClient(t, fake, ModelNanoBanana)

	_, err := c.Generate(context.Background(), generator.Request{Prompt: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, generator.ErrMalformedOutput)
	assert.Contains(t, err.Error(), "nsfw")
}

func TestGenerateTimesOut(t *testing.T) {
	fake := &fakeKIE{state: "success", pending: 100}
	c := newTestClient(t, fake, ModelNanoBanana)

	_, err := c.Generate(context.Background(), generator.Request{Prompt: "x"})
	require.ErrorContains(t, err, "task timeout after 5 attempts")
	assert.EqualValues(t, 5, fake.polls.Load())
}
