package vad

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"time"
)

// Decision is the outcome of classifying one audio chunk.
type Decision struct {
	Speech     bool
	Confidence float64
}

// Classifier decides whether a chunk of PCM contains speech.
type Classifier interface {
	Classify(ctx context.Context, pcm []byte) (Decision, error)
}

// Gate wraps a Classifier with a local energy pre-check and makes the
// result total: a classifier error or timeout counts as silence, and a
// run of consecutive timeouts is reported so the caller can reset.
type Gate struct {
	classifier  Classifier
	energyFloor float64
	confidence  float64
	timeout     time.Duration

	consecutiveTimeouts int
	maxTimeouts         int
}

func NewGate(classifier Classifier, energyFloor, confidence float64, timeout time.Duration, maxTimeouts int) *Gate {
	return &Gate{
		classifier:  classifier,
		energyFloor: energyFloor,
		confidence:  confidence,
		timeout:     timeout,
		maxTimeouts: maxTimeouts,
	}
}

// Classify returns the speech decision for one chunk. The second return
// is true when the gate has just hit its consecutive-timeout limit and
// the caller should discard the buffered turn.
func (g *Gate) Classify(ctx context.Context, pcm []byte) (Decision, bool) {
	// Chunks with no voice energy never reach the remote classifier.
	if RMS(pcm) < g.energyFloor {
		g.consecutiveTimeouts = 0
		return Decision{Speech: false}, false
	}

	if g.classifier == nil {
		// Energy-only mode.
		g.consecutiveTimeouts = 0
		return Decision{Speech: true, Confidence: 1.0}, false
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	d, err := g.classifier.Classify(cctx, pcm)
	if err != nil {
		g.consecutiveTimeouts++
		log.Printf("vad: classify failed (%d consecutive): %v", g.consecutiveTimeouts, err)
		if g.consecutiveTimeouts >= g.maxTimeouts {
			g.consecutiveTimeouts = 0
			return Decision{Speech: false}, true
		}
		return Decision{Speech: false}, false
	}
	g.consecutiveTimeouts = 0

	if d.Confidence < g.confidence {
		d.Speech = false
	}
	return d, false
}

// RMS computes the root-mean-square energy of 16-bit little-endian PCM.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	var count int
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}
