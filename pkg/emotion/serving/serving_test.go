package serving

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/GGroff15/vigia/pkg/media"
)

func writeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "window.wav")
	if err := os.WriteFile(path, media.EncodeWAV(make([]byte, 640), 16000, 1), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewValidation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty server URL must be rejected")
	}
}

func TestPredictUploadsWAVAndNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer f.Close()
		if hdr.Filename != "window.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}

		// The backend answers with a synonym label; the client normalizes it.
		w.Write([]byte(`{"label":"happiness","score":0.83,"probabilities":{"happiness":0.83,"sadness":0.1}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	pred, err := c.Predict(context.Background(), writeWAV(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Label != "happy" {
		t.Errorf("label = %q, want happy (normalized)", pred.Label)
	}
	if pred.Score != 0.83 {
		t.Errorf("score = %v", pred.Score)
	}
	if pred.Probabilities["happy"] != 0.83 || pred.Probabilities["sad"] != 0.1 {
		t.Errorf("probabilities = %v", pred.Probabilities)
	}
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Predict(context.Background(), writeWAV(t)); err == nil {
		t.Fatal("HTTP 500 must surface as an error")
	}
}

func TestPredictMissingFile(t *testing.T) {
	c, err := New("http://localhost:9")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Predict(context.Background(), "/nonexistent/window.wav"); err == nil {
		t.Fatal("missing wav must surface as an error")
	}
}
