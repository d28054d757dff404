package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// HTTPTransport opens streaming chat requests against a relay's /api/chat endpoint.
type HTTPTransport struct {
	endpoint string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the relay answers with a non-success status. Body holds the start of
// the response body, for diagnostics.
type StatusError struct {
	StatusCode int
	Body       string
}

const maxErrorBody = 4 << 10

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Body)
}

// NewHTTPTransport creates a transport for the relay at baseURL. A nil client uses a default one
// without timeout, since a response may stream for as long as the model generates.
func NewHTTPTransport(baseURL string, client *http.Client, logger *slog.Logger) HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return HTTPTransport{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/chat",
		client:   client,
		logger:   logger.With(slog.String("module", "transport")),
	}
}

// Open posts req and returns the event stream body. The body is bound to ctx: cancelling ctx aborts
// any pending read.
func (t HTTPTransport) Open(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	t.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return resp.Body, nil
}
