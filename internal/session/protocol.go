package session

// Client to server message types.
const (
	typeAudioAppend   = "audio-append"
	typeSpeechStarted = "speech-started"
	typePing          = "ping"
	typeDisconnect    = "disconnect"
)

// Server to client message types.
const (
	typeSessionConnected   = "session-connected"
	typeUserTranscript     = "user-transcript"
	typeResponseText       = "response-text"
	typeResponseAudioStart = "response-audio-start"
	typeResponseAudioDelta = "response-audio-delta"
	typeResponseAudioDone  = "response-audio-done"
	typeSessionClose       = "session-close"
	typeError              = "error"
	typePong               = "pong"
)

type clientMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"` // base64 PCM16 LE mono
}

type serverMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Message    string `json:"message,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
