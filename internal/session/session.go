package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dmop77/voicegate/internal/agent"
	"github.com/dmop77/voicegate/internal/audio"
	"github.com/dmop77/voicegate/internal/config"
	"github.com/dmop77/voicegate/internal/relay"
	"github.com/dmop77/voicegate/internal/turn"
	"github.com/dmop77/voicegate/internal/vad"
)

const writeTimeout = 10 * time.Second

// Session drives one client connection: it routes inbound audio through
// the voice gate and segmenter, hands finalized utterances to the
// coordinator, relays accepted audio upstream, and delivers response
// events back over the socket.
type Session struct {
	id   string
	conn *websocket.Conn
	cfg  config.Config

	gate  *vad.Gate
	seg   *turn.Segmenter
	coord *agent.Coordinator
	rel   *relay.Relay

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	seq     uint64
}

// New wires a session. rel may be nil when no upstream is configured.
func New(conn *websocket.Conn, cfg config.Config, gate *vad.Gate, seg *turn.Segmenter, coord *agent.Coordinator, rel *relay.Relay) *Session {
	return &Session{
		id:    uuid.NewString(),
		conn:  conn,
		cfg:   cfg,
		gate:  gate,
		seg:   seg,
		coord: coord,
		rel:   rel,
	}
}

// ID returns the session identifier announced to the client.
func (s *Session) ID() string { return s.id }

// Run blocks until the client disconnects or ctx is cancelled, then
// tears the session down. Resources owned by the session are released
// exactly once.
func (s *Session) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.teardown()

	log.Printf("[%s] session connected", s.id)
	s.write(serverMessage{Type: typeSessionConnected, SessionID: s.id, SampleRate: s.cfg.SampleRate})

	go s.watchEndOfTurn()

	if s.cfg.Greeting != "" {
		go func() {
			s.coord.Greet(s.ctx, s.cfg.Greeting, s)
			s.seg.ResponseDone()
		}()
	}

	s.readLoop()
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Printf("[%s] read: %v", s.id, err)
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are fatal: one error, then teardown.
			s.writeError("malformed message")
			return
		}
		switch msg.Type {
		case typeAudioAppend:
			if !s.handleAudio(msg) {
				return
			}
		case typeSpeechStarted:
			s.interrupt()
		case typePing:
			s.write(serverMessage{Type: typePong})
		case typeDisconnect:
			s.write(serverMessage{Type: typeSessionClose, Reason: "client requested"})
			return
		default:
			s.writeError("unknown message type: " + msg.Type)
		}
	}
}

// handleAudio returns false when the payload is malformed and the
// session must terminate.
func (s *Session) handleAudio(msg clientMessage) bool {
	pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		s.writeError("invalid audio payload")
		return false
	}
	if len(pcm) == 0 {
		return true
	}
	s.seq++

	decision, gateReset := s.gate.Classify(s.ctx, pcm)
	if gateReset {
		// The gate gave up on this turn; drop what we buffered.
		log.Printf("[%s] voice gate reset, discarding turn", s.id)
		s.seg.Discard()
		return true
	}

	chunk := audio.Chunk{Seq: s.seq, PCM: pcm, Speech: decision.Speech, ReceivedAt: time.Now()}

	if s.coord.Busy() {
		// A response is in flight; only speech gets through, as a
		// barge-in opening a fresh turn.
		if decision.Speech {
			s.interrupt()
			s.seg.Feed(chunk)
		}
		return true
	}

	if s.rel != nil {
		s.rel.Enqueue(relay.Message{Type: typeAudioAppend, Audio: msg.Audio})
	}
	s.seg.Feed(chunk)
	return true
}

// interrupt cancels the in-flight response, if any, and reopens
// listening so the interrupting speech starts a fresh turn.
func (s *Session) interrupt() {
	if s.coord.Interrupt() {
		log.Printf("[%s] barge-in, response cancelled", s.id)
		s.seg.Interrupt()
	}
}

func (s *Session) watchEndOfTurn() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.seg.EndOfTurn():
			pcm, ok := s.seg.Finalize()
			if !ok {
				continue
			}
			log.Printf("[%s] utterance finalized: %s of audio", s.id, audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}.Duration(len(pcm)))
			if s.rel != nil {
				s.rel.AddPending()
			}
			go func() {
				defer func() {
					if s.rel != nil {
						s.rel.DonePending()
					}
					s.seg.ResponseDone()
				}()
				s.coord.Respond(s.ctx, pcm, s)
			}()
		}
	}
}

// Emitter implementation: response events go out on the socket in the
// order the coordinator produces them.

func (s *Session) EmitTranscript(text string) {
	s.write(serverMessage{Type: typeUserTranscript, Text: text})
}

func (s *Session) EmitText(text string) {
	s.write(serverMessage{Type: typeResponseText, Text: text})
}

func (s *Session) EmitAudioStart() {
	s.seg.BeginSpeaking()
	s.write(serverMessage{Type: typeResponseAudioStart})
}

func (s *Session) EmitAudioDelta(pcm []byte) {
	s.write(serverMessage{Type: typeResponseAudioDelta, Audio: base64.StdEncoding.EncodeToString(pcm)})
}

func (s *Session) EmitAudioDone() {
	s.write(serverMessage{Type: typeResponseAudioDone})
}

func (s *Session) write(m serverMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(m); err != nil {
		log.Printf("[%s] write %s: %v", s.id, m.Type, err)
	}
}

func (s *Session) writeError(msg string) {
	s.write(serverMessage{Type: typeError, Message: msg})
}

func (s *Session) teardown() {
	s.cancel()
	s.coord.Interrupt()
	s.seg.Stop()
	if s.rel != nil {
		s.rel.Close()
	}
	s.conn.Close()
	log.Printf("[%s] session closed", s.id)
}
