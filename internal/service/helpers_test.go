package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/session"
)

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[int64]models.Account
}

func (m *memoryAccounts) FindByID(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (m *memoryAccounts) SaveBalance(_ context.Context, id int64, plan models.Plan, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accounts[id]
	acc.Plan, acc.Credits = plan, credits
	m.accounts[id] = acc
	return nil
}

func (m *memoryAccounts) credits(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Credits
}

func login(t *testing.T, acc models.Account) (*session.Session, *session.Registry, *memoryAccounts) {
	t.Helper()
	store := &memoryAccounts{accounts: map[int64]models.Account{acc.ID: acc}}
	reg := session.NewRegistry(store, 16, nil, nil)
	t.Cleanup(reg.Close)
	sess, err := reg.Login(context.Background(), acc.ID)
	require.NoError(t, err)
	return sess, reg, store
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	reqs  []generator.Request
	res   *generator.Result
	err   error
	gate  chan struct{}
	panic bool
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Result, error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.panic {
		panic("provider exploded")
	}
	return f.res, f.err
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads map[string][][]byte
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, kind string, data []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	if u.uploads == nil {
		u.uploads = make(map[string][][]byte)
	}
	u.uploads[kind] = append(u.uploads[kind], data)
	return "https://cdn.example.com/" + kind + "/obj.jpg", nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []models.GenerationLog
}

func (h *fakeHistory) Log(_ context.Context, entry models.GenerationLog) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

func (h *fakeHistory) CountForDay(_ context.Context, accountID int64, _ time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.AccountID == accountID && e.Outcome == models.OutcomeSucceeded {
			n++
		}
	}
	return n, nil
}
