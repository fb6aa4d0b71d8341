package pipeline

import (
	"encoding/binary"
	"math"
	"time"
)

// energyThreshold is the RMS level (as a fraction of full-scale int16) above
// which a PCM16 frame counts as "speech" for barge-in detection. There is no
// real voice-activity detector here — STT providers run their own VAD for
// transcription; this is only a cheap local signal for barge-in timing.
const energyThreshold = 0.02

// speechGate accumulates how long incoming audio has stayed above
// energyThreshold, so the manager can fire a barge-in once that holds for
// BargeInMS.
type speechGate struct {
	holdFor    time.Duration
	aboveSince time.Time
}

func newSpeechGate(holdFor time.Duration) *speechGate {
	return &speechGate{holdFor: holdFor}
}

// Observe feeds one PCM16LE frame and reports whether sustained speech has
// just crossed the hold threshold.
func (g *speechGate) Observe(pcm []byte, now time.Time) (triggered bool) {
	if rms(pcm) < energyThreshold {
		g.aboveSince = time.Time{}
		return false
	}
	if g.aboveSince.IsZero() {
		g.aboveSince = now
		return false
	}
	if now.Sub(g.aboveSince) >= g.holdFor {
		return true
	}
	return false
}

// Reset clears accumulated speech time, e.g. once a barge-in has fired.
func (g *speechGate) Reset() {
	g.aboveSince = time.Time{}
}

func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		norm := float64(sample) / 32768.0
		sumSq += norm * norm
	}
	return math.Sqrt(sumSq / float64(n))
}
