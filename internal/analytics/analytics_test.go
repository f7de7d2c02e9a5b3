package analytics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPEmit(t *testing.T) {
	events := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}

		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		events <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Emit(StartClicked)
	h.Wait()

	select {
	case ev := <-events:
		if ev.Event != StartClicked {
			t.Errorf("event = %q, want %q", ev.Event, StartClicked)
		}
		if ev.Time.IsZero() {
			t.Error("event time not set")
		}
	default:
		t.Fatal("collector received nothing")
	}
}

func TestHTTPEmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	// Must neither block nor panic.
	h := NewHTTP(url, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Emit(StartClicked)
	h.Wait()
}
