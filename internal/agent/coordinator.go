package agent

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dmop77/voicegate/internal/llm"
)

const apologyText = "Sorry, I didn't catch that. Could you say it again?"

// Config bundles the per-stage deadlines and history depth.
type Config struct {
	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration
	MaxHistory int // exchanges kept for reply generation
}

// Coordinator runs the transcribe -> reply -> synthesize pipeline for
// one session. At most one response is in flight; Interrupt cancels it
// and anything the cancelled pipeline produces afterwards is discarded
// rather than delivered.
type Coordinator struct {
	stt Transcriber
	llm Replier
	tts Synthesizer
	cfg Config

	mu      sync.Mutex
	active  *pending
	nextID  uint64
	history []llm.Turn
}

type pending struct {
	id     uint64
	cancel context.CancelFunc
}

func NewCoordinator(stt Transcriber, replier Replier, tts Synthesizer, cfg Config) *Coordinator {
	return &Coordinator{stt: stt, llm: replier, tts: tts, cfg: cfg}
}

// Busy reports whether a response is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Interrupt cancels the in-flight response, if any, and reports whether
// there was one. Emission stops before this returns; the cancelled
// pipeline's late results are dropped.
func (c *Coordinator) Interrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	c.active.cancel()
	c.active = nil
	return true
}

// Respond runs the full pipeline for one finalized utterance and blocks
// until the response is delivered, cancelled, or degraded. The caller
// runs it on its own goroutine.
func (c *Coordinator) Respond(ctx context.Context, utterance []byte, em Emitter) {
	pr, pctx := c.begin(ctx)
	defer c.finish(pr)

	sctx, cancel := context.WithTimeout(pctx, c.cfg.STTTimeout)
	text, err := c.stt.Transcribe(sctx, utterance)
	cancel()
	if pctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("stt error: %v", err)
		c.deliver(pr, pctx, em, "", apologyText)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// No words in the audio; stay quiet.
		return
	}
	if !c.emit(pr, func() { em.EmitTranscript(text) }) {
		return
	}

	lctx, cancel := context.WithTimeout(pctx, c.cfg.LLMTimeout)
	reply, err := c.llm.GenerateReply(lctx, text, c.historySnapshot())
	cancel()
	if pctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("llm error: %v", err)
		c.deliver(pr, pctx, em, "", apologyText)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}

	c.deliver(pr, pctx, em, text, reply)
}

// Greet speaks the opening line without a user turn and seeds the
// history so replies stay consistent with it.
func (c *Coordinator) Greet(ctx context.Context, text string, em Emitter) {
	pr, pctx := c.begin(ctx)
	defer c.finish(pr)
	c.SeedAssistant(text)
	c.deliver(pr, pctx, em, "", text)
}

// deliver emits the reply text and streams its audio. userText is empty
// for greetings and apologies, which are not recorded in history.
func (c *Coordinator) deliver(pr *pending, ctx context.Context, em Emitter, userText, reply string) {
	if !c.emit(pr, func() { em.EmitText(reply) }) {
		return
	}
	if userText != "" {
		c.appendExchange(userText, reply)
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TTSTimeout)
	defer cancel()
	pcmCh, errCh := c.tts.Synthesize(tctx, reply)

	started := false
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) == 0 {
				continue
			}
			if !started {
				if !c.emit(pr, func() { em.EmitAudioStart() }) {
					return
				}
				started = true
			}
			if !c.emit(pr, func() { em.EmitAudioDelta(b) }) {
				return
			}
		case e, ok := <-errCh:
			if !ok {
				openErr = false
				continue
			}
			if e != nil {
				// Text already went out; the turn continues without audio.
				log.Printf("tts error, continuing without audio: %v", e)
			}
		case <-ctx.Done():
			return
		}
	}
	if started {
		c.emit(pr, func() { em.EmitAudioDone() })
	}
}

func (c *Coordinator) begin(ctx context.Context) (*pending, context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.cancel()
	}
	c.nextID++
	cctx, cancel := context.WithCancel(ctx)
	pr := &pending{id: c.nextID, cancel: cancel}
	c.active = pr
	return pr, cctx
}

func (c *Coordinator) finish(pr *pending) {
	c.mu.Lock()
	if c.active == pr {
		c.active = nil
	}
	c.mu.Unlock()
	pr.cancel()
}

// emit runs fn only while pr is still the active response. Holding the
// lock across fn means Interrupt cannot land between the check and the
// write, so no event is delivered after a cancellation.
func (c *Coordinator) emit(pr *pending, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != pr {
		return false
	}
	fn()
	return true
}

func (c *Coordinator) appendExchange(user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		llm.Turn{Role: "user", Text: user},
		llm.Turn{Role: "assistant", Text: assistant},
	)
	if max := c.cfg.MaxHistory * 2; max > 0 && len(c.history) > max {
		c.history = c.history[len(c.history)-max:]
	}
}

// SeedAssistant records an assistant-only line, used for the greeting.
func (c *Coordinator) SeedAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, llm.Turn{Role: "assistant", Text: text})
}

func (c *Coordinator) historySnapshot() []llm.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Turn, len(c.history))
	copy(out, c.history)
	return out
}
