// Package roboflow provides a VideoDetector backed by a Roboflow-style hosted
// inference HTTP API. Frames are JPEG-encoded and POSTed to the model
// endpoint; predictions come back as a JSON list with center-based boxes.
package roboflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/GGroff15/vigia/pkg/detector"
	"github.com/GGroff15/vigia/pkg/media"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultConfidence = 0.5
	jpegQuality       = 80
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithConfidence sets the minimum confidence forwarded to the API as a
// request parameter. Defaults to 0.5.
func WithConfidence(c float64) Option {
	return func(r *Client) { r.confidence = c }
}

// WithHTTPClient overrides the HTTP client, e.g. to adjust the timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Client) { r.httpClient = hc }
}

// Client implements detector.VideoDetector against a hosted inference
// endpoint. It is safe for concurrent use.
type Client struct {
	modelURL   string
	apiKey     string
	confidence float64
	httpClient *http.Client
}

// Compile-time assertion that Client satisfies detector.VideoDetector.
var _ detector.VideoDetector = (*Client)(nil)

// New creates a Client for the given model URL (e.g.
// "https://serverless.roboflow.com/{model-id}/{version}"). apiKey must be
// non-empty.
func New(modelURL, apiKey string, opts ...Option) (*Client, error) {
	if modelURL == "" {
		return nil, errors.New("roboflow: modelURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("roboflow: apiKey must not be empty")
	}
	c := &Client{
		modelURL:   modelURL,
		apiKey:     apiKey,
		confidence: defaultConfidence,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// inferenceResponse is the JSON structure returned by the inference API.
type inferenceResponse struct {
	Predictions []struct {
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Width      float64 `json:"width"`
		Height     float64 `json:"height"`
		Confidence float64 `json:"confidence"`
		Class      string  `json:"class"`
	} `json:"predictions"`
}

// Detect JPEG-encodes the frame and POSTs it to the model endpoint.
func (c *Client) Detect(ctx context.Context, frame media.VideoFrame) ([]detector.Detection, error) {
	img, err := encodeJPEG(frame)
	if err != nil {
		return nil, fmt.Errorf("roboflow: encode frame: %w", err)
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("confidence", strconv.Itoa(int(c.confidence*100)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.modelURL+"?"+q.Encode(), bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("roboflow: create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roboflow: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roboflow: server returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("roboflow: read response: %w", err)
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("roboflow: parse response: %w", err)
	}

	detections := make([]detector.Detection, 0, len(parsed.Predictions))
	for _, p := range parsed.Predictions {
		detections = append(detections, detector.Detection{
			Label:      p.Class,
			Confidence: p.Confidence,
			X:          p.X,
			Y:          p.Y,
			Width:      p.Width,
			Height:     p.Height,
		})
	}
	return detections, nil
}

// encodeJPEG converts the packed BGR raster to a JPEG image.
func encodeJPEG(frame media.VideoFrame) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.BGR) < frame.Width*frame.Height*3 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d for %d bytes",
			frame.Width, frame.Height, len(frame.BGR))
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := range frame.Height {
		for x := range frame.Width {
			src := (y*frame.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = frame.BGR[src+2]
			img.Pix[dst+1] = frame.BGR[src+1]
			img.Pix[dst+2] = frame.BGR[src+0]
			img.Pix[dst+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
