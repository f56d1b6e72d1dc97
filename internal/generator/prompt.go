package generator

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

var vibes = map[string]string{
	"rustico":    "rustic wooden table, warm earthy props, linen napkin",
	"moderno":    "clean modern plating on matte stone, minimal props",
	"gourmet":    "fine-dining plating, dark elegant backdrop, delicate garnish",
	"tropical":   "bright tropical setting, fresh fruit and leaves around the plate",
	"neon":       "moody bar counter with neon reflections",
	"minimal":    "seamless pastel background, single hero dish",
	"caseiro":    "homestyle kitchen counter, cozy everyday tableware",
	"piquenique": "outdoor picnic blanket in soft daylight",
}

var angles = map[string]string{
	"front":   "eye-level front shot",
	"top":     "overhead flat lay shot",
	"45":      "45 degree angle shot",
	"closeup": "macro close-up with shallow depth of field",
	"side":    "low side angle shot",
}

// Vibes lists the known vibe keywords in sorted order.
func Vibes() []string {
	return slices.Sorted(maps.Keys(vibes))
}

// Angles lists the known angle keywords in sorted order.
func Angles() []string {
	return slices.Sorted(maps.Keys(angles))
}

// BuildPrompt turns style params into the generation prompt. Unknown vibe or
// angle keywords are passed through as written.
func BuildPrompt(s models.StyleParams) string {
	vibe := strings.ToLower(strings.TrimSpace(s.Vibe))
	if phrase, ok := vibes[vibe]; ok {
		vibe = phrase
	}
	angle := strings.ToLower(strings.TrimSpace(s.Angle))
	if phrase, ok := angles[angle]; ok {
		angle = phrase
	}
	return fmt.Sprintf(
		"Professional food photography of the same dish shown in the reference photo. Keep the food identical. Scene: %s. Camera: %s. Lighting: %s. Appetizing, sharp focus, high detail, no text, no watermark.",
		vibe, angle, lighting(s.Light),
	)
}

func lighting(level int) string {
	switch {
	case level < 25:
		return fmt.Sprintf("low-key dramatic light (%d%%)", level)
	case level < 60:
		return fmt.Sprintf("soft natural light (%d%%)", level)
	case level < 85:
		return fmt.Sprintf("bright studio light (%d%%)", level)
	default:
		return fmt.Sprintf("high-key airy light (%d%%)", level)
	}
}
