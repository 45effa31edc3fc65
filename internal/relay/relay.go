package relay

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	// ErrThrottled is returned by a Sender when the upstream signaled a
	// rate limit; the batch stays queued for retry.
	ErrThrottled = errors.New("relay: upstream throttled")
	// ErrDropped wraps the failure surfaced after a batch exhausts its
	// retries and is discarded.
	ErrDropped = errors.New("relay: batch dropped after retries")
)

// Message is one outbound upstream message. Audio carries base64 PCM
// for audio messages and is empty for control messages.
type Message struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// Sender delivers one batch to the upstream endpoint. It returns
// ErrThrottled when the upstream rejected the batch for rate limiting.
type Sender interface {
	SendBatch(msgs []Message) error
}

// Config bundles the pacing budget.
type Config struct {
	PacingInterval time.Duration
	MaxBatchSize   int
	RetryBackoff   time.Duration
	MaxRetries     int
}

// Relay queues audio messages and flushes them in paced batches. At
// most MaxBatchSize messages go out per send and two sends are never
// closer than PacingInterval. Sends are held back while acks are
// pending. A throttled batch is retried after RetryBackoff up to
// MaxRetries times, then dropped and surfaced through onDrop. Control
// messages bypass the queue entirely.
type Relay struct {
	sender Sender
	cfg    Config
	onDrop func(error)

	mu          sync.Mutex
	queue       []Message
	pending     int
	lastSend    time.Time
	retries     int
	nextAttempt time.Time

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(sender Sender, cfg Config, onDrop func(error)) *Relay {
	if onDrop == nil {
		onDrop = func(err error) { log.Printf("relay: %v", err) }
	}
	r := &Relay{
		sender: sender,
		cfg:    cfg,
		onDrop: onDrop,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Enqueue queues an audio message for the next batched send.
func (r *Relay) Enqueue(m Message) {
	r.mu.Lock()
	r.queue = append(r.queue, m)
	r.mu.Unlock()
	r.notify()
}

// SendControl delivers a control message immediately, outside the
// pacing budget.
func (r *Relay) SendControl(m Message) error {
	return r.sender.SendBatch([]Message{m})
}

// AddPending marks an in-flight operation whose ack must arrive before
// the next queued flush.
func (r *Relay) AddPending() {
	r.mu.Lock()
	r.pending++
	r.mu.Unlock()
}

// DonePending releases one pending ack.
func (r *Relay) DonePending() {
	r.mu.Lock()
	if r.pending > 0 {
		r.pending--
	}
	r.mu.Unlock()
	r.notify()
}

// QueueLen reports how many audio messages are waiting.
func (r *Relay) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Reset clears the pacing budget, used after an upstream reconnect.
// Queued messages survive the reset.
func (r *Relay) Reset() {
	r.mu.Lock()
	r.lastSend = time.Time{}
	r.retries = 0
	r.nextAttempt = time.Time{}
	r.mu.Unlock()
	r.notify()
}

// Close stops the flush loop. Messages still queued are not sent.
func (r *Relay) Close() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Relay) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) loop() {
	defer close(r.doneCh)
	for {
		r.mu.Lock()
		now := time.Now()
		wait := time.Duration(-1)
		switch {
		case len(r.queue) == 0 || r.pending > 0:
			// Nothing to do until woken.
		case now.Before(r.nextAttempt):
			wait = r.nextAttempt.Sub(now)
		case !r.lastSend.IsZero() && now.Sub(r.lastSend) < r.cfg.PacingInterval:
			wait = r.cfg.PacingInterval - now.Sub(r.lastSend)
		default:
			r.sendLocked()
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		if wait < 0 {
			select {
			case <-r.wake:
			case <-r.stopCh:
				return
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-r.wake:
			timer.Stop()
		case <-r.stopCh:
			timer.Stop()
			return
		}
	}
}

// sendLocked flushes the head of the queue. Called with r.mu held; the
// lock is dropped around the network call, which is safe because this
// loop is the only goroutine that removes from the queue.
func (r *Relay) sendLocked() {
	n := len(r.queue)
	if n > r.cfg.MaxBatchSize {
		n = r.cfg.MaxBatchSize
	}
	batch := make([]Message, n)
	copy(batch, r.queue[:n])
	r.mu.Unlock()

	err := r.sender.SendBatch(batch)

	r.mu.Lock()
	switch {
	case err == nil:
		r.queue = r.queue[n:]
		r.lastSend = time.Now()
		r.retries = 0
	case errors.Is(err, ErrThrottled):
		r.retries++
		if r.retries > r.cfg.MaxRetries {
			r.dropLocked(n, err)
		} else {
			r.nextAttempt = time.Now().Add(r.cfg.RetryBackoff)
		}
	default:
		// Non-throttle failures are not retried.
		r.dropLocked(n, err)
	}
}

func (r *Relay) dropLocked(n int, cause error) {
	r.queue = r.queue[n:]
	r.retries = 0
	r.nextAttempt = time.Time{}
	r.lastSend = time.Now()
	err := fmt.Errorf("%w: %d messages: %w", ErrDropped, n, cause)
	r.mu.Unlock()
	r.onDrop(err)
	r.mu.Lock()
}
