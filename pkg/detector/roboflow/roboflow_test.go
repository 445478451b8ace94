package roboflow

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GGroff15/vigia/pkg/media"
)

func testFrame(w, h int) media.VideoFrame {
	return media.VideoFrame{Width: w, Height: h, BGR: make([]byte, w*h*3)}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "key"); err == nil {
		t.Error("empty model URL must be rejected")
	}
	if _, err := New("https://serverless.roboflow.com/m/1", ""); err == nil {
		t.Error("empty api key must be rejected")
	}
}

func TestDetectParsesPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_key"); got != "rk-test" {
			t.Errorf("api_key = %q", got)
		}
		if got := r.URL.Query().Get("confidence"); got != "40" {
			t.Errorf("confidence = %q, want 40", got)
		}
		if got := r.Header.Get("Content-Type"); got != "image/jpeg" {
			t.Errorf("Content-Type = %q", got)
		}
		// The body must be a decodable JPEG.
		body, _ := io.ReadAll(r.Body)
		if _, err := jpeg.Decode(bytes.NewReader(body)); err != nil {
			t.Errorf("body is not JPEG: %v", err)
		}

		w.Write([]byte(`{"predictions":[
			{"x":100,"y":150,"width":40,"height":80,"confidence":0.91,"class":"person"},
			{"x":300,"y":200,"width":60,"height":30,"confidence":0.55,"class":"dog"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "rk-test", WithConfidence(0.4))
	if err != nil {
		t.Fatal(err)
	}

	dets, err := c.Detect(context.Background(), testFrame(320, 240))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2", len(dets))
	}
	first := dets[0]
	if first.Label != "person" || first.Confidence != 0.91 {
		t.Errorf("first = %+v", first)
	}
	if first.X != 100 || first.Y != 150 || first.Width != 40 || first.Height != 80 {
		t.Errorf("box = %+v", first)
	}
}

func TestDetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "rk-test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Detect(context.Background(), testFrame(32, 32)); err == nil {
		t.Fatal("HTTP 403 must surface as an error")
	}
}

func TestDetectInvalidFrame(t *testing.T) {
	c, err := New("https://serverless.roboflow.com/m/1", "rk-test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Detect(context.Background(), media.VideoFrame{Width: 10, Height: 10}); err == nil {
		t.Fatal("frame with missing raster must be rejected before any request")
	}
}

func TestDetectEmptyPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "rk-test")
	if err != nil {
		t.Fatal(err)
	}
	dets, err := c.Detect(context.Background(), testFrame(32, 32))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 0 {
		t.Fatalf("got %d detections, want 0", len(dets))
	}
}
