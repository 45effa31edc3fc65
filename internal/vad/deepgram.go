package vad

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

// DeepgramClassifier runs a chunk through Deepgram's fast model and
// treats a non-empty transcript as evidence of speech.
type DeepgramClassifier struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Format     audio.Format
}

type listenAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type listenChannel struct {
	Alternatives []listenAlternative `json:"alternatives"`
}

type listenResponse struct {
	Results struct {
		Channels []listenChannel `json:"channels"`
	} `json:"results"`
}

func NewDeepgramClassifier(apiKey string, format audio.Format) *DeepgramClassifier {
	return &DeepgramClassifier{
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		BaseURL:    "https://api.deepgram.com",
		APIKey:     apiKey,
		Format:     format,
	}
}

func (c *DeepgramClassifier) Classify(ctx context.Context, pcm []byte) (Decision, error) {
	if c.APIKey == "" {
		return Decision{}, fmt.Errorf("deepgram api key missing")
	}
	endpoint := c.BaseURL + "/v1/listen?model=nova-2&smart_format=false"

	body := audio.WrapWAV(pcm, c.Format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Decision{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Decision{}, fmt.Errorf("deepgram error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Decision{}, err
	}
	if len(lr.Results.Channels) == 0 || len(lr.Results.Channels[0].Alternatives) == 0 {
		return Decision{Speech: false}, nil
	}
	alt := lr.Results.Channels[0].Alternatives[0]
	return Decision{
		Speech:     strings.TrimSpace(alt.Transcript) != "",
		Confidence: alt.Confidence,
	}, nil
}
