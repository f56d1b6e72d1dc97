package telegram

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/service"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data        string
		kind, value string
		ok          bool
	}{
		{"vibe:rustico", "vibe", "rustico", true},
		{"angle:45", "angle", "45", true},
		{"angle:", "", "", false},
		{"plan:pro", "", "", false},
		{"rustico", "", "", false},
	}
	for _, tt := range tests {
		kind, value, ok := parseCallback(tt.data)
		assert.Equal(t, tt.ok, ok, tt.data)
		assert.Equal(t, tt.kind, kind, tt.data)
		assert.Equal(t, tt.value, value, tt.data)
	}
}

func TestParseLight(t *testing.T) {
	for raw, want := range map[string]int{"0": 0, " 70 ": 70, "100%": 100} {
		got, err := parseLight(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"", "-1", "101", "bright"} {
		_, err := parseLight(raw)
		assert.Error(t, err, raw)
	}
}

func TestKeywordKeyboardRowsOfThree(t *testing.T) {
	kb := keywordKeyboard("vibe", []string{"a", "b", "c", "d"})
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Len(t, kb.InlineKeyboard[0], 3)
	assert.Len(t, kb.InlineKeyboard[1], 1)
	require.NotNil(t, kb.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "vibe:d", *kb.InlineKeyboard[1][0].CallbackData)
}

func TestNormalizeImageContentType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	ct, err := normalizeImageContentType("image/jpg; charset=binary", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	ct, err = normalizeImageContentType("application/octet-stream", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = normalizeImageContentType("text/plain", []byte("hello"))
	assert.ErrorIs(t, err, errNotImage)
}

func TestStateManager(t *testing.T) {
	m := NewStateManager()
	assert.Equal(t, StateIdle, m.Get(1))

	m.Set(1, StateAwaitingPromo)
	assert.Equal(t, StateAwaitingPromo, m.Get(1))
	assert.Equal(t, StateIdle, m.Get(2))

	m.Reset(1)
	assert.Equal(t, StateIdle, m.Get(1))
}

func TestCreditsLabel(t *testing.T) {
	assert.Equal(t, "ilimitados", creditsLabel(models.Account{Plan: models.PlanPro, Credits: 0}))
	assert.Equal(t, "4", creditsLabel(models.Account{Plan: models.PlanFree, Credits: 4}))
}

func TestReasonTextCoversEveryReason(t *testing.T) {
	seen := map[string]bool{}
	for _, reason := range []string{
		service.ReasonInsufficientCredits,
		service.ReasonInvalidImage,
		service.ReasonInvalidStyle,
		service.ReasonGenerationInProgress,
		service.ReasonGenerationFailed,
	} {
		text := reasonText(reason)
		assert.NotEmpty(t, text)
		assert.False(t, seen[text], "duplicate text for %s", reason)
		seen[text] = true
	}
}
