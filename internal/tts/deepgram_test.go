package tts

import (
	"context"
	"testing"
	"time"
)

// Smoke test without an API key; synthesis should error quickly.
func TestSynthesize_NoKey(t *testing.T) {
	d := NewDeepgramSynthesizer("", "", 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.Synthesize(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
		// ignore
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestSynthesize_EmptyTextClosesImmediately(t *testing.T) {
	d := NewDeepgramSynthesizer("some-key", "", 0, 0)
	pcmCh, errCh := d.Synthesize(context.Background(), "")
	select {
	case _, ok := <-pcmCh:
		if ok {
			t.Fatalf("expected no audio for empty text")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for channel close")
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSynthesize_Defaults(t *testing.T) {
	d := NewDeepgramSynthesizer("k", "", 0, 0)
	if d.model == "" || d.sampleRate != 24000 || d.deadline != 12*time.Second {
		t.Fatalf("defaults not applied: %+v", d)
	}
}
