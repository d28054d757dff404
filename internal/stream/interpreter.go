package stream

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// Interpreter turns forwarded `data:` lines into events. Malformed lines are logged and skipped; they
// never end the stream.
type Interpreter struct {
	logger *slog.Logger
}

// NewInterpreter creates an Interpreter that reports skipped lines to logger.
func NewInterpreter(logger *slog.Logger) Interpreter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Interpreter{
		logger: logger.With(slog.String("module", "stream")),
	}
}

// Interpret parses one line. It returns done=true for the end-of-stream sentinel, and a nil event
// with done=false for anything it cannot make sense of.
func (in Interpreter) Interpret(line string) (ev Event, done bool) {
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return nil, false
	}
	payload = strings.TrimSpace(payload)

	if payload == Done {
		return nil, true
	}

	var we wireEvent
	if err := json.Unmarshal([]byte(payload), &we); err != nil {
		in.logger.Warn("Skipping malformed line",
			slog.String("data", payload),
			slog.String(errLoggerKey, err.Error()))
		return nil, false
	}

	switch we.Type {
	case typeReasoning:
		return Reasoning{Text: we.Content}, false
	case typeContent:
		return Content{Text: we.Content}, false
	case typeFinish:
		return Finish{Reason: we.Reason, Usage: we.Usage}, false
	case typeError:
		return Error{Message: we.Message}, false
	default:
		in.logger.Debug("Skipping unknown event type", slog.String("type", we.Type))
		return nil, false
	}
}
