// Package webhook implements fire-and-forget, signed HTTP delivery of audit
// event envelopes to configured operator endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/khoregos/khoregos/internal/logging"
	"github.com/khoregos/khoregos/internal/model"
)

// Target is one configured delivery endpoint.
type Target struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"` // empty means "all event types"
	Secret string   `json:"secret,omitempty"` // a "$NAME"-prefixed value resolves from the environment
}

// resolvedSecret resolves a "$ENV_VAR"-prefixed secret against the process
// environment; any other value is used verbatim.
func (t Target) resolvedSecret() string {
	if strings.HasPrefix(t.Secret, "$") {
		return os.Getenv(strings.TrimPrefix(t.Secret, "$"))
	}
	return t.Secret
}

func (t Target) matches(eventType string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// SessionContext is the minimal session identity included in each envelope.
type SessionContext struct {
	SessionID string
	TraceID   string
}

// envelope is the outbound wire format (spec.md §6).
type envelope struct {
	Event     model.AuditEvent `json:"event"`
	Session   sessionEnvelope  `json:"session"`
	Timestamp string           `json:"timestamp"`
}

type sessionEnvelope struct {
	SessionID string `json:"sessionId"`
	TraceID   string `json:"traceId"`
}

// retryDelays are the fixed backoff delays between the 3 total attempts:
// immediate, then 1s, then 4s (powers of 4 seconds).
var retryDelays = []time.Duration{0, time.Second, 4 * time.Second}

const requestTimeout = 10 * time.Second

// Dispatcher delivers signed envelopes to a fixed set of targets.
type Dispatcher struct {
	targets []Target
	client  *http.Client
}

// New builds a Dispatcher over targets. A nil or empty target list is valid
// — Dispatch becomes a no-op.
func New(targets []Target) *Dispatcher {
	return &Dispatcher{
		targets: targets,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Dispatch schedules an asynchronous delivery to every target whose Events
// list is empty or includes event.EventType. Failures never propagate to
// the caller — this method always returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.AuditEvent, session SessionContext) {
	if d == nil {
		return
	}
	body, err := json.Marshal(envelope{
		Event:     event,
		Session:   sessionEnvelope{SessionID: session.SessionID, TraceID: session.TraceID},
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err != nil {
		logging.Warn(ctx, "webhook: failed to marshal envelope", slog.String("error", err.Error()))
		return
	}

	for _, t := range d.targets {
		if !t.matches(string(event.EventType)) {
			continue
		}
		go d.deliverWithRetry(context.Background(), t, body)
	}
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, t Target, body []byte) {
	var lastErr error
	for attempt, delay := range retryDelays {
		if delay > 0 {
			time.Sleep(delay)
		}
		if err := d.deliverOnce(ctx, t, body); err != nil {
			lastErr = err
			logging.Debug(ctx, "webhook: delivery attempt failed",
				slog.Int("attempt", attempt+1), slog.String("url", t.URL), slog.String("error", err.Error()))
			continue
		}
		return
	}
	logging.Warn(ctx, "webhook: delivery failed after retries",
		slog.String("url", t.URL), slog.String("error", fmt.Sprint(lastErr)))
}

func (d *Dispatcher) deliverOnce(ctx context.Context, t Target, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "khoregos-webhook/1.0")
	if secret := t.resolvedSecret(); secret != "" {
		req.Header.Set("X-K6s-Signature", "sha256="+sign(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
