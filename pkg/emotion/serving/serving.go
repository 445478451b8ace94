// Package serving provides an emotion.Classifier backed by a model-serving
// HTTP endpoint. The WAV window is uploaded as a multipart form to
// POST /predict and the response carries the top label plus the full
// probability distribution.
package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/GGroff15/vigia/pkg/emotion"
)

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, e.g. to adjust the timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements emotion.Classifier against a model server. It is safe
// for concurrent use.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// Compile-time assertion that Client satisfies emotion.Classifier.
var _ emotion.Classifier = (*Client)(nil)

// New creates a Client for the model server at serverURL (e.g.
// "http://localhost:9000").
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("serving: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// predictResponse is the JSON structure returned by the model server.
type predictResponse struct {
	Label         string             `json:"label"`
	Score         float64            `json:"score"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Predict uploads the WAV file and returns the normalised prediction.
func (c *Client) Predict(ctx context.Context, wavPath string) (emotion.Prediction, error) {
	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: read wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/predict", &body)
	if err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return emotion.Prediction{}, fmt.Errorf("serving: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: read response: %w", err)
	}

	var parsed predictResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return emotion.Prediction{}, fmt.Errorf("serving: parse response: %w", err)
	}

	return emotion.Normalize(emotion.Prediction{
		Label:         parsed.Label,
		Score:         parsed.Score,
		Probabilities: parsed.Probabilities,
	}), nil
}
