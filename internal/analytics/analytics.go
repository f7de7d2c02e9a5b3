// Package analytics emits fire-and-forget usage events.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// StartClicked is emitted whenever the start action is triggered.
const StartClicked = "start_clicked"

// Emitter emits named events. Emit must not block.
type Emitter interface {
	Emit(name string)
}

// Nop is an Emitter that drops every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(string) {}

// Event is the JSON body posted by HTTP.
type Event struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
}

// HTTP posts events as JSON to an endpoint in the background. Responses are
// ignored; failures are only logged.
type HTTP struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	wg       sync.WaitGroup
}

var _ Emitter = (*HTTP)(nil)

// NewHTTP creates an HTTP emitter posting to endpoint.
func NewHTTP(endpoint string, logger *slog.Logger) *HTTP {
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Emit implements Emitter.
func (h *HTTP) Emit(name string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		if err := h.post(context.Background(), Event{Event: name, Time: time.Now().UTC()}); err != nil {
			h.logger.Debug(
				"failed to emit analytics event",
				"event", name,
				"error", err)
		}
	}()
}

// Wait waits for in-flight events to finish.
func (h *HTTP) Wait() {
	h.wg.Wait()
}

func (h *HTTP) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to post event")
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("collector responded %s", resp.Status)
	}
	return nil
}
