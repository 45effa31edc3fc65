package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestFormat_Duration(t *testing.T) {
	f := DefaultFormat()
	// 24kHz mono 16-bit: 48000 bytes per second.
	if d := f.Duration(48000); d != time.Second {
		t.Fatalf("expected 1s, got %s", d)
	}
	if d := f.Duration(4800); d != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %s", d)
	}
}

func TestBuffer_AppendAndDrainOrder(t *testing.T) {
	b := NewBuffer(DefaultFormat())
	b.Append(Chunk{Seq: 1, PCM: []byte{1, 2}, Speech: true})
	b.Append(Chunk{Seq: 2, PCM: []byte{3, 4}, Speech: false})
	b.Append(Chunk{Seq: 3, PCM: []byte{5, 6}, Speech: true})

	if b.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", b.Len())
	}
	if b.SpeechChunks() != 2 {
		t.Fatalf("expected 2 speech chunks, got %d", b.SpeechChunks())
	}
	got := b.Drain()
	want := []byte{1, 2, 3, 4, 5, 6}
	if !bytes.Equal(got, want) {
		t.Fatalf("drain order mismatch: got %v want %v", got, want)
	}
	if b.Len() != 0 || b.SpeechChunks() != 0 {
		t.Fatalf("buffer not reset after drain")
	}
}

func TestBuffer_SpeechDuration(t *testing.T) {
	b := NewBuffer(DefaultFormat())
	// 100ms of speech, 100ms of silence.
	b.Append(Chunk{PCM: make([]byte, 4800), Speech: true})
	b.Append(Chunk{PCM: make([]byte, 4800), Speech: false})
	if d := b.SpeechDuration(); d != 100*time.Millisecond {
		t.Fatalf("expected 100ms speech, got %s", d)
	}
	if d := b.Duration(); d != 200*time.Millisecond {
		t.Fatalf("expected 200ms total, got %s", d)
	}
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(DefaultFormat())
	b.Append(Chunk{PCM: []byte{1, 2, 3, 4}, Speech: true})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after reset")
	}
	if got := b.Drain(); len(got) != 0 {
		t.Fatalf("expected no bytes after reset, got %d", len(got))
	}
}

func TestWrapWAV_Header(t *testing.T) {
	pcm := make([]byte, 4800)
	wav := WrapWAV(pcm, DefaultFormat())
	if len(wav) != 44+len(pcm) {
		t.Fatalf("unexpected wav length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad riff magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Fatalf("expected 24000 sample rate, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Fatalf("data size %d != %d", size, len(pcm))
	}
}
