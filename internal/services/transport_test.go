package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/services"
)

func TestHTTPTransportOpen(t *testing.T) {
	var got models.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("request = %s %s, want POST /api/chat", r.Method, r.URL.Path)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q", accept)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	tr := services.NewHTTPTransport(srv.URL+"/", srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	thinking := false
	body, err := tr.Open(context.Background(), models.ChatRequest{
		Messages:       []models.Turn{{Role: models.RoleUser, Content: "Hi"}},
		EnableThinking: &thinking,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "data: [DONE]\n\n" {
		t.Errorf("body = %q", data)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "Hi" {
		t.Errorf("request messages = %+v", got.Messages)
	}
	if got.EnableThinking == nil || *got.EnableThinking {
		t.Errorf("EnableThinking = %v, want false", got.EnableThinking)
	}
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "messages must not be empty", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := services.NewHTTPTransport(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	body, err := tr.Open(context.Background(), models.ChatRequest{})
	if body != nil {
		body.Close()
		t.Error("Open() returned a body for a failed request")
	}

	var statusErr *services.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Open() error = %v, want a StatusError", err)
	}
	if statusErr.StatusCode != http.StatusBadRequest || statusErr.Body != "messages must not be empty" {
		t.Errorf("StatusError = %+v", statusErr)
	}
}
