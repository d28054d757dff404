package handlers

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/stream"
)

// LLM represents a large language model that streams a chat completion. It accepts a context and the
// conversation turns, returning an iterator that yields reasoning deltas, content deltas, an optional
// finish event and potential errors. thinking asks for the reasoning channel where the model has one.
type LLM interface {
	Chat(ctx context.Context, messages []models.Turn, thinking bool) iter.Seq2[stream.Event, error]
}

// Main serves the chat relay: it accepts a conversation and streams the model's answer back to the
// client as server-sent events.
type Main struct {
	llm            LLM
	enableThinking bool
	model          string

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main instance serving llm. enableThinking is the default of the reasoning channel
// for requests that do not set it; model is reported by the health endpoint.
func NewMain(llm LLM, model string, enableThinking bool, logger *slog.Logger) Main {
	return Main{
		llm:            llm,
		enableThinking: enableThinking,
		model:          model,
		logger:         logger.With(slog.String("module", "handlers")),
	}
}

// Handler returns the relay's routes wrapped with request logging and CORS for allowedOrigins.
func (m Main) Handler(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", m.HandleChat)
	mux.HandleFunc("/api/health", m.HandleHealth)

	return chainMiddlewares(mux, m.withLogging, withCORS(allowedOrigins))
}

func (m Main) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		m.logger.Info("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}

// withCORS allows browser front-ends served from one of origins to call the relay.
func withCORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// chainMiddlewares applies middlewares in order, the last one being the outermost.
func chainMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}
