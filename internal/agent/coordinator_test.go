package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmop77/voicegate/internal/llm"
)

type fakeSTT struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	gotHist []llm.Turn
}

func (f *fakeLLM) GenerateReply(ctx context.Context, transcript string, history []llm.Turn) (string, error) {
	f.mu.Lock()
	f.gotHist = append([]llm.Turn(nil), history...)
	f.mu.Unlock()
	return f.reply, f.err
}

type fakeTTS struct {
	chunks [][]byte
	err    error
	delay  time.Duration // between chunks
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if f.err != nil {
			errCh <- f.err
			return
		}
		for _, c := range f.chunks {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case pcmCh <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return pcmCh, errCh
}

type recordEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordEmitter) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordEmitter) EmitTranscript(text string) { r.add("transcript:" + text) }
func (r *recordEmitter) EmitText(text string)       { r.add("text:" + text) }
func (r *recordEmitter) EmitAudioStart()            { r.add("audio-start") }
func (r *recordEmitter) EmitAudioDelta(pcm []byte)  { r.add(fmt.Sprintf("delta:%d", len(pcm))) }
func (r *recordEmitter) EmitAudioDone()             { r.add("audio-done") }

func (r *recordEmitter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testAgentConfig() Config {
	return Config{
		STTTimeout: time.Second,
		LLMTimeout: time.Second,
		TTSTimeout: time.Second,
		MaxHistory: 20,
	}
}

func TestRespond_HappyPathOrdering(t *testing.T) {
	em := &recordEmitter{}
	c := NewCoordinator(
		&fakeSTT{text: "what time is it"},
		&fakeLLM{reply: "It is noon."},
		&fakeTTS{chunks: [][]byte{make([]byte, 100), make([]byte, 200)}},
		testAgentConfig(),
	)

	c.Respond(context.Background(), make([]byte, 4800), em)

	want := []string{
		"transcript:what time is it",
		"text:It is noon.",
		"audio-start",
		"delta:100",
		"delta:200",
		"audio-done",
	}
	got := em.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
	if c.Busy() {
		t.Fatalf("coordinator still busy after respond returned")
	}
}

func TestRespond_EmptyTranscriptStaysQuiet(t *testing.T) {
	em := &recordEmitter{}
	c := NewCoordinator(&fakeSTT{text: "   "}, &fakeLLM{reply: "hi"}, &fakeTTS{}, testAgentConfig())

	c.Respond(context.Background(), make([]byte, 4800), em)
	if got := em.snapshot(); len(got) != 0 {
		t.Fatalf("expected silence, got %v", got)
	}
}

func TestRespond_STTErrorApologizes(t *testing.T) {
	em := &recordEmitter{}
	c := NewCoordinator(
		&fakeSTT{err: fmt.Errorf("deadline exceeded")},
		&fakeLLM{reply: "unused"},
		&fakeTTS{chunks: [][]byte{make([]byte, 50)}},
		testAgentConfig(),
	)

	c.Respond(context.Background(), make([]byte, 4800), em)
	got := em.snapshot()
	if len(got) == 0 || got[0] != "text:"+apologyText {
		t.Fatalf("expected apology first, got %v", got)
	}
	for _, ev := range got {
		if ev == "transcript:" {
			t.Fatalf("no transcript should be emitted on stt failure")
		}
	}
	// Apologies never enter history.
	if n := len(c.historySnapshot()); n != 0 {
		t.Fatalf("apology leaked into history: %d turns", n)
	}
}

func TestRespond_LLMErrorApologizes(t *testing.T) {
	em := &recordEmitter{}
	c := NewCoordinator(
		&fakeSTT{text: "hello"},
		&fakeLLM{err: fmt.Errorf("rate limited")},
		&fakeTTS{},
		testAgentConfig(),
	)

	c.Respond(context.Background(), make([]byte, 4800), em)
	got := em.snapshot()
	if len(got) < 2 || got[0] != "transcript:hello" || got[1] != "text:"+apologyText {
		t.Fatalf("expected transcript then apology, got %v", got)
	}
}

func TestRespond_TTSErrorKeepsText(t *testing.T) {
	em := &recordEmitter{}
	c := NewCoordinator(
		&fakeSTT{text: "hello"},
		&fakeLLM{reply: "Hi there."},
		&fakeTTS{err: fmt.Errorf("speak socket refused")},
		testAgentConfig(),
	)

	c.Respond(context.Background(), make([]byte, 4800), em)
	got := em.snapshot()
	want := []string{"transcript:hello", "text:Hi there."}
	if len(got) != len(want) {
		t.Fatalf("expected text without audio, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRespond_HistoryAccumulates(t *testing.T) {
	fl := &fakeLLM{reply: "Reply one."}
	c := NewCoordinator(&fakeSTT{text: "question one"}, fl, &fakeTTS{}, testAgentConfig())

	c.Respond(context.Background(), make([]byte, 4800), &recordEmitter{})
	c.Respond(context.Background(), make([]byte, 4800), &recordEmitter{})

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if len(fl.gotHist) != 2 {
		t.Fatalf("second call should see one exchange, got %d turns", len(fl.gotHist))
	}
	if fl.gotHist[0].Role != "user" || fl.gotHist[1].Role != "assistant" {
		t.Fatalf("history roles wrong: %+v", fl.gotHist)
	}
}

func TestRespond_HistoryTrimmed(t *testing.T) {
	cfg := testAgentConfig()
	cfg.MaxHistory = 2
	c := NewCoordinator(&fakeSTT{text: "q"}, &fakeLLM{reply: "a"}, &fakeTTS{}, cfg)

	for i := 0; i < 5; i++ {
		c.Respond(context.Background(), make([]byte, 4800), &recordEmitter{})
	}
	if n := len(c.historySnapshot()); n != 4 {
		t.Fatalf("expected 4 turns after trim, got %d", n)
	}
}

func TestInterrupt_StopsAudioMidStream(t *testing.T) {
	em := &recordEmitter{}
	chunks := make([][]byte, 50)
	for i := range chunks {
		chunks[i] = make([]byte, 10)
	}
	c := NewCoordinator(
		&fakeSTT{text: "tell me a story"},
		&fakeLLM{reply: "Once upon a time."},
		&fakeTTS{chunks: chunks, delay: 10 * time.Millisecond},
		testAgentConfig(),
	)

	done := make(chan struct{})
	go func() {
		c.Respond(context.Background(), make([]byte, 4800), em)
		close(done)
	}()

	// Wait for audio to start flowing, then barge in.
	deadline := time.Now().Add(time.Second)
	for {
		evs := em.snapshot()
		if len(evs) > 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audio never started: %v", evs)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Interrupt() {
		t.Fatalf("interrupt found nothing in flight")
	}
	countAtInterrupt := len(em.snapshot())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("respond did not return after interrupt")
	}

	got := em.snapshot()
	if len(got) > countAtInterrupt {
		t.Fatalf("events delivered after interrupt: %v", got[countAtInterrupt:])
	}
	for _, ev := range got {
		if ev == "audio-done" {
			t.Fatalf("cancelled response emitted audio-done")
		}
	}
}

func TestInterrupt_DuringTranscription(t *testing.T) {
	em := &recordEmitter{}
	c := NewCoordinator(
		&fakeSTT{text: "slow", delay: 200 * time.Millisecond},
		&fakeLLM{reply: "never delivered"},
		&fakeTTS{},
		testAgentConfig(),
	)

	done := make(chan struct{})
	go func() {
		c.Respond(context.Background(), make([]byte, 4800), em)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	if !c.Interrupt() {
		t.Fatalf("expected an in-flight response")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("respond did not return")
	}
	if got := em.snapshot(); len(got) != 0 {
		t.Fatalf("cancelled pipeline still emitted: %v", got)
	}
}

func TestInterrupt_NothingInFlight(t *testing.T) {
	c := NewCoordinator(&fakeSTT{}, &fakeLLM{}, &fakeTTS{}, testAgentConfig())
	if c.Interrupt() {
		t.Fatalf("interrupt reported a response that does not exist")
	}
}

func TestGreet_EmitsAndSeedsHistory(t *testing.T) {
	em := &recordEmitter{}
	fl := &fakeLLM{reply: "after greeting"}
	c := NewCoordinator(&fakeSTT{text: "hi"}, fl, &fakeTTS{chunks: [][]byte{make([]byte, 10)}}, testAgentConfig())

	c.Greet(context.Background(), "Hello, I'm listening.", em)
	got := em.snapshot()
	if len(got) == 0 || got[0] != "text:Hello, I'm listening." {
		t.Fatalf("greeting not emitted: %v", got)
	}

	c.Respond(context.Background(), make([]byte, 4800), &recordEmitter{})
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if len(fl.gotHist) != 1 || fl.gotHist[0].Role != "assistant" {
		t.Fatalf("greeting missing from history: %+v", fl.gotHist)
	}
}
