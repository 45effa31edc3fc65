package session

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmop77/voicegate/internal/agent"
	"github.com/dmop77/voicegate/internal/audio"
	"github.com/dmop77/voicegate/internal/config"
	"github.com/dmop77/voicegate/internal/llm"
	"github.com/dmop77/voicegate/internal/relay"
	"github.com/dmop77/voicegate/internal/stt"
	"github.com/dmop77/voicegate/internal/tts"
	"github.com/dmop77/voicegate/internal/turn"
	"github.com/dmop77/voicegate/internal/vad"
)

// Handler upgrades websocket requests and runs one Session per
// connection. Collaborator clients are stateless and shared; the gate,
// segmenter, coordinator, and relay are per connection.
type Handler struct {
	cfg      config.Config
	upgrader websocket.Upgrader

	transcriber agent.Transcriber
	replier     agent.Replier
	synthesizer agent.Synthesizer
	classifier  vad.Classifier
}

func NewHandler(cfg config.Config) *Handler {
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		transcriber: stt.NewDeepgramClient(cfg.DeepgramAPIKey, format),
		replier:     llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModelID),
		synthesizer: tts.NewDeepgramSynthesizer(cfg.DeepgramAPIKey, cfg.TTSModelID, cfg.SampleRate, cfg.TTSTimeout),
		classifier:  vad.NewDeepgramClassifier(cfg.DeepgramAPIKey, format),
	}
}

// ServeWS handles one websocket connection until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}

	format := audio.Format{SampleRate: h.cfg.SampleRate, Channels: 1}
	gate := vad.NewGate(h.classifier, h.cfg.VADEnergyThreshold, h.cfg.VADConfidence, h.cfg.VADTimeout, h.cfg.MaxConsecutiveTimeouts)
	seg := turn.NewSegmenter(turn.Config{
		SilenceWindow:     h.cfg.SilenceWindow,
		MinSpeechChunks:   h.cfg.MinSpeechChunks,
		MinSpeechDuration: h.cfg.MinSpeechDuration,
	}, format)
	coord := agent.NewCoordinator(h.transcriber, h.replier, h.synthesizer, agent.Config{
		STTTimeout: h.cfg.STTTimeout,
		LLMTimeout: h.cfg.LLMTimeout,
		TTSTimeout: h.cfg.TTSTimeout,
		MaxHistory: h.cfg.MaxHistoryTurns,
	})

	s := New(conn, h.cfg, gate, seg, coord, nil)

	if h.cfg.UpstreamURL != "" {
		up, err := relay.DialUpstream(h.cfg.UpstreamURL, nil)
		if err != nil {
			log.Printf("[%s] upstream dial: %v, relaying disabled", s.ID(), err)
		} else {
			defer up.Close()
			var rel *relay.Relay
			rel = relay.New(up, relay.Config{
				PacingInterval: h.cfg.PacingInterval,
				MaxBatchSize:   h.cfg.MaxBatchSize,
				RetryBackoff:   h.cfg.RetryBackoff,
				MaxRetries:     h.cfg.MaxRetries,
			}, func(err error) {
				log.Printf("[%s] relay: %v", s.ID(), err)
				s.writeError("upstream audio dropped")
				if errors.Is(err, relay.ErrThrottled) {
					return
				}
				// Connection-level failure: redial and start a fresh budget.
				if rerr := up.Reconnect(); rerr != nil {
					log.Printf("[%s] upstream reconnect: %v", s.ID(), rerr)
					return
				}
				rel.Reset()
			})
			s.rel = rel
		}
	}

	start := time.Now()
	s.Run(r.Context())
	log.Printf("[%s] connection handled in %s", s.ID(), time.Since(start).Round(time.Millisecond))
}
