package synthesize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// DefaultElevenLabsURL is the ElevenLabs API root.
const DefaultElevenLabsURL = "https://api.elevenlabs.io"

// ElevenLabs speaks through the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewElevenLabs creates an ElevenLabs backend. baseURL and client may be
// zero values.
func NewElevenLabs(apiKey, baseURL string, client *http.Client) (*ElevenLabs, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errs.E(errs.ConfigurationError, op,
			errors.New("ElevenLabs API key is required (set ELEVENLABS_API_KEY)"))
	}
	if baseURL == "" {
		baseURL = DefaultElevenLabsURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabs{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}, nil
}

// Name implements Backend.
func (e *ElevenLabs) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Speak implements Backend.
func (e *ElevenLabs) Speak(ctx context.Context, req SpeechRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: req.Model})
	if err != nil {
		return nil, err
	}

	u := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(req.Voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		return nil, errs.E(errs.ConfigurationError, op, errors.New("invalid ElevenLabs API key"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
