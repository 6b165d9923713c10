package animator

import (
	"time"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Progress maps the time elapsed since start onto [0,1] linearly over
// duration. Negative elapsed time (a clock that stepped backwards) reads as
// 0, and anything at or past duration reads as exactly 1.
func Progress(start, now time.Time, duration time.Duration) float64 {
	if duration <= 0 {
		return 1
	}
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= duration {
		return 1
	}
	return float64(elapsed) / float64(duration)
}

// bubbleFade is the share of a session spent fading the bubble in, and
// again fading it out.
const bubbleFade = 0.1

// BubbleOpacity is the opacity of a speech or thought bubble at progress p:
// it eases in over the first tenth of the session, stays opaque, and eases
// out over the last tenth.
func BubbleOpacity(p float64) float64 {
	switch {
	case p <= 0 || p >= 1:
		return 0
	case p < bubbleFade:
		v, _ := gween.New(0, 1, bubbleFade, ease.OutQuad).Set(float32(p))
		return clamp01(float64(v))
	case p > 1-bubbleFade:
		v, _ := gween.New(1, 0, bubbleFade, ease.InQuad).Set(float32(p - (1 - bubbleFade)))
		return clamp01(float64(v))
	default:
		return 1
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
