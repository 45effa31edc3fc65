package turn

import (
	"sync"
	"time"

	"github.com/dmop77/voicegate/internal/audio"
)

// State is the per-session turn-taking state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateFinalizing
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	}
	return "unknown"
}

// Config bundles the segmentation thresholds.
type Config struct {
	SilenceWindow     time.Duration
	MinSpeechChunks   int
	MinSpeechDuration time.Duration
}

// Segmenter owns the turn buffer and decides when an utterance ends.
// A resettable timer armed on each speech chunk detects the silence
// window; when it elapses the end-of-turn channel is signaled and the
// caller finalizes.
type Segmenter struct {
	mu  sync.Mutex
	cfg Config

	state State
	buf   *audio.Buffer

	silenceTimer *time.Timer
	endCh        chan struct{}
}

func NewSegmenter(cfg Config, format audio.Format) *Segmenter {
	return &Segmenter{
		cfg:   cfg,
		state: StateIdle,
		buf:   audio.NewBuffer(format),
		endCh: make(chan struct{}, 1),
	}
}

// EndOfTurn signals that the silence window has elapsed since the last
// speech chunk. The receiver must call Finalize.
func (s *Segmenter) EndOfTurn() <-chan struct{} { return s.endCh }

// State returns the current turn state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Feed buffers one classified chunk. It is a no-op outside the
// listening phases; the caller routes chunks that arrive during a
// response through barge-in detection instead.
func (s *Segmenter) Feed(c audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		// A turn opens on speech; idle silence is not kept.
		if c.Speech {
			s.buf.Append(c)
			s.state = StateListening
			s.armTimerLocked()
		}
	case StateListening:
		s.buf.Append(c)
		if c.Speech {
			s.armTimerLocked()
		}
	case StateFinalizing:
		// A speech chunk racing the silence timer reopens the turn;
		// trailing silence still belongs to it.
		s.buf.Append(c)
		if c.Speech {
			s.state = StateListening
			s.armTimerLocked()
		}
	}
}

func (s *Segmenter) armTimerLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = time.AfterFunc(s.cfg.SilenceWindow, s.onSilence)
}

func (s *Segmenter) onSilence() {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}
	s.state = StateFinalizing
	s.mu.Unlock()

	select {
	case s.endCh <- struct{}{}:
	default:
	}
}

// Finalize consumes the pending end-of-turn. When the buffered speech
// clears the floor it returns the concatenated utterance and moves to
// processing; otherwise the buffer is dropped without transcription and
// the session returns to idle.
func (s *Segmenter) Finalize() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateFinalizing {
		return nil, false
	}
	if s.buf.SpeechChunks() < s.cfg.MinSpeechChunks || s.buf.SpeechDuration() < s.cfg.MinSpeechDuration {
		s.buf.Reset()
		s.state = StateIdle
		return nil, false
	}
	pcm := s.buf.Drain()
	s.state = StateProcessing
	return pcm, true
}

// Discard drops the turn in progress, used when the voice gate has hit
// its consecutive-timeout limit.
func (s *Segmenter) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.buf.Reset()
	if s.state == StateListening || s.state == StateFinalizing {
		s.state = StateIdle
	}
}

// BeginSpeaking marks response audio as in flight. The idle transition
// covers the greeting, which speaks without a preceding user turn.
func (s *Segmenter) BeginSpeaking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing || s.state == StateIdle {
		s.state = StateSpeaking
	}
}

// ResponseDone returns to idle once a response finished delivering.
func (s *Segmenter) ResponseDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing || s.state == StateSpeaking {
		s.state = StateIdle
	}
}

// Interrupt reopens listening after a barge-in. The buffer restarts
// empty so the interrupting speech forms a fresh turn.
func (s *Segmenter) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.state = StateListening
	s.armTimerLocked()
}

// Stop releases the silence timer at session teardown.
func (s *Segmenter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.state = StateIdle
	s.buf.Reset()
}
