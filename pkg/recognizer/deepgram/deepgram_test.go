package deepgram

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/GGroff15/vigia/pkg/recognizer"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewValidation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty api key must be rejected")
	}
}

func TestStreamDeliversFinals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "pt-BR" {
			t.Errorf("language = %q", got)
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Write(r.Context(), websocket.MessageText, []byte(
			`{"type":"Results","is_final":true,"start":1,"duration":0.5,`+
				`"channel":{"alternatives":[{"transcript":"olá mundo","confidence":0.93}]}}`))
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText && bytes.Contains(msg, []byte("CloseStream")) {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	defer srv.Close()

	p, err := New("dg-key", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatal(err)
	}
	sess, err := p.StartStream(context.Background(), recognizer.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	select {
	case res := <-sess.Finals():
		if res.Text != "olá mundo" || res.Confidence != 0.93 {
			t.Errorf("result = %+v", res)
		}
		if !res.HasOffsets || res.Start != time.Second || res.End != 1500*time.Millisecond {
			t.Errorf("offsets = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no final result within 2s")
	}
}

func TestCloseBoundedWithUnresponsiveBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Swallows audio forever, never acknowledges CloseStream and never
		// closes the socket.
		for {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := New("dg-key", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatal(err)
	}
	sess, err := p.StartStream(context.Background(), recognizer.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := sess.SendAudio(make([]byte, 640)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		sess.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeFlushTimeout + time.Second):
		t.Fatal("Close did not return after the flush timeout")
	}
}

func TestParseResponseFiltersInterim(t *testing.T) {
	if _, ok := parseResponse([]byte(`{"type":"Results","is_final":false,` +
		`"channel":{"alternatives":[{"transcript":"olá","confidence":0.5}]}}`)); ok {
		t.Error("interim result must be filtered")
	}
	if _, ok := parseResponse([]byte(`{"type":"Metadata"}`)); ok {
		t.Error("non-Results message must be filtered")
	}
	if _, ok := parseResponse([]byte(`not json`)); ok {
		t.Error("malformed message must be filtered")
	}
}
