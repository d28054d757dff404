package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/stream"
	"github.com/tmaxmax/go-sse"
)

const maxRequestBody = 1 << 20

// HandleChat streams a chat completion for the conversation posted as JSON.
//
// The request body is a models.ChatRequest; an empty message list is rejected with 400. The response is
// an event stream of `data:` lines, one JSON event per reasoning delta, content delta or finish, closed by
// `data: [DONE]`. A failure of the model after the stream started is reported in-band as an error event,
// since the status line is already sent by then.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		m.logger.Error("Failed to decode request", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		m.logger.Error("Messages are required")
		http.Error(w, "messages must not be empty", http.StatusBadRequest)
		return
	}
	for _, msg := range req.Messages {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			m.logger.Error("Invalid role", slog.String("role", string(msg.Role)))
			http.Error(w, fmt.Sprintf("invalid role %q", msg.Role), http.StatusBadRequest)
			return
		}
	}

	thinking := m.enableThinking
	if req.EnableThinking != nil {
		thinking = *req.EnableThinking
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade connection", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	for ev, err := range m.llm.Chat(ctx, req.Messages, thinking) {
		if err != nil {
			m.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			ev = stream.Error{Message: err.Error()}
		}
		if sendErr := m.sendEvent(sess, ev); sendErr != nil {
			m.logger.Error("Failed to send event", slog.String(errLoggerKey, sendErr.Error()))
			return
		}
		if err != nil {
			return
		}
	}

	if ctx.Err() != nil {
		m.logger.Debug("Client went away before the end of the stream")
		return
	}
	if err := m.send(sess, stream.Done); err != nil {
		m.logger.Error("Failed to send end marker", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) sendEvent(sess *sse.Session, ev stream.Event) error {
	data, err := stream.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return m.send(sess, string(data))
}

func (m Main) send(sess *sse.Session, data string) error {
	msg := &sse.Message{}
	msg.AppendData(data)
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}
