package audio

import (
	"sync"
	"time"
)

// Format describes raw PCM audio. Samples are 16-bit little-endian.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 24kHz mono, the client wire format.
func DefaultFormat() Format {
	return Format{SampleRate: 24000, Channels: 1}
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the play time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.bytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Chunk is one client audio frame as received, in arrival order.
type Chunk struct {
	Seq        uint64
	PCM        []byte
	Speech     bool
	ReceivedAt time.Time
}

// Buffer accumulates chunks for the turn in progress. Append order is
// arrival order and Drain returns the concatenation in that order.
type Buffer struct {
	mu          sync.Mutex
	format      Format
	chunks      []Chunk
	totalBytes  int
	speechCount int
	speechBytes int
}

func NewBuffer(f Format) *Buffer {
	return &Buffer{format: f}
}

// Append records a chunk and whether the voice gate classified it as speech.
func (b *Buffer) Append(c Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
	b.totalBytes += len(c.PCM)
	if c.Speech {
		b.speechCount++
		b.speechBytes += len(c.PCM)
	}
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// SpeechChunks returns how many buffered chunks contained speech.
func (b *Buffer) SpeechChunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speechCount
}

// SpeechDuration returns the play time of the speech-classified chunks.
func (b *Buffer) SpeechDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.Duration(b.speechBytes)
}

// Duration returns the play time of everything buffered.
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.Duration(b.totalBytes)
}

// Drain returns the buffered PCM concatenated in arrival order and resets
// the buffer for the next turn.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.totalBytes)
	for _, c := range b.chunks {
		out = append(out, c.PCM...)
	}
	b.reset()
	return out
}

// Reset discards everything buffered without returning it.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Buffer) reset() {
	b.chunks = nil
	b.totalBytes = 0
	b.speechCount = 0
	b.speechBytes = 0
}
