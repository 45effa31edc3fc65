package agent

import (
	"context"

	"github.com/dmop77/voicegate/internal/llm"
)

// Transcriber converts one finalized utterance of PCM into text.
// An empty transcript with nil error means the audio carried no words.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Replier generates the assistant reply for a transcript given the
// conversation so far.
type Replier interface {
	GenerateReply(ctx context.Context, transcript string, history []llm.Turn) (string, error)
}

// Synthesizer streams reply audio. Both channels close when synthesis
// finishes or its context is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Emitter delivers response events to the client. Calls for one
// response arrive in order: transcript, text, audio start, deltas,
// audio done. A cancelled response stops emitting mid-sequence.
type Emitter interface {
	EmitTranscript(text string)
	EmitText(text string)
	EmitAudioStart()
	EmitAudioDelta(pcm []byte)
	EmitAudioDone()
}
