package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lunara-app/service-cycle-go/pkg/utilities"
)

// Event is a change notification forwarded to the external delivery service.
// Delivery (persisted inbox, realtime, push) happens outside this service.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewEvent stamps a snowflake id onto an event.
func NewEvent(evType, title, message string, data map[string]any) Event {
	return Event{
		ID:      utilities.NewSnowflakeID(),
		Type:    evType,
		Title:   title,
		Message: message,
		Data:    data,
	}
}

// Notifier delivers an event to one recipient. Implementations are expected
// to be cheap to call; callers treat failures as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev Event) error
}

// HTTPNotifier posts events to the notification service's ingest endpoint.
type HTTPNotifier struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// NewHTTPNotifier constructs a notifier against baseURL with a short timeout
// so a slow collaborator cannot stall request handling.
func NewHTTPNotifier(baseURL string, logger *zap.SugaredLogger) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
		logger:  logger,
	}
}

var _ Notifier = (*HTTPNotifier)(nil)

func (n *HTTPNotifier) Notify(ctx context.Context, userID string, ev Event) error {
	payload, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		Event
	}{UserID: userID, Event: ev})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}

// NoopNotifier drops every event. Used when no notification service is
// configured and in tests.
type NoopNotifier struct{}

var _ Notifier = NoopNotifier{}

func (NoopNotifier) Notify(context.Context, string, Event) error { return nil }
