package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmop77/voicegate/internal/audio"
)

// DeepgramClient transcribes a finalized utterance in one shot.
type DeepgramClient struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
	Format     audio.Format
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

type transcriptionResponse struct {
	Results struct {
		Channels []channel `json:"channels"`
	} `json:"results"`
}

func NewDeepgramClient(apiKey string, format audio.Format) *DeepgramClient {
	return &DeepgramClient{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    "https://api.deepgram.com",
		APIKey:     apiKey,
		Model:      "nova-2",
		Format:     format,
	}
}

// Transcribe posts the utterance PCM and returns the transcript text.
// An empty string with nil error means the audio carried no words.
func (c *DeepgramClient) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("deepgram api key missing")
	}
	endpoint := fmt.Sprintf("%s/v1/listen?model=%s&smart_format=true", c.BaseURL, c.Model)

	body := audio.WrapWAV(pcm, c.Format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}
	if len(tr.Results.Channels) == 0 || len(tr.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(tr.Results.Channels[0].Alternatives[0].Transcript), nil
}
