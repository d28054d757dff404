// Package stream decodes a server-sent events body produced by the chat relay into semantic events.
//
// The wire format is one `data:` line per event. Each payload is either the literal [DONE] sentinel or a
// JSON object with a `type` discriminant:
//
//	data: {"type":"reasoning","content":"..."}
//	data: {"type":"content","content":"..."}
//	data: {"type":"finish","reason":"stop","usage":{...}}
//	data: {"type":"error","message":"..."}
//	data: [DONE]
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// Event is one semantic event of a chat stream. The set of implementations is closed: Reasoning,
// Content, Finish and Error.
type Event interface {
	event()
}

// Reasoning is a delta of the model's intermediate reasoning channel.
type Reasoning struct {
	Text string
}

// Content is a delta of the final answer.
type Content struct {
	Text string
}

// Finish reports that the upstream stopped generating.
type Finish struct {
	Reason string
	Usage  *models.Usage
}

// Error is an error reported in-band by the server.
type Error struct {
	Message string
}

func (Reasoning) event() {}
func (Content) event()   {}
func (Finish) event()    {}
func (Error) event()     {}

// Done is the payload that terminates a stream cleanly.
const Done = "[DONE]"

const dataPrefix = "data:"

const (
	typeReasoning = "reasoning"
	typeContent   = "content"
	typeFinish    = "finish"
	typeError     = "error"
)

// wireEvent is the JSON shape shared by the relay and the client.
type wireEvent struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Usage   *models.Usage `json:"usage,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Encode returns the JSON payload of ev, without the `data:` prefix.
func Encode(ev Event) ([]byte, error) {
	var we wireEvent
	switch e := ev.(type) {
	case Reasoning:
		we = wireEvent{Type: typeReasoning, Content: e.Text}
	case Content:
		we = wireEvent{Type: typeContent, Content: e.Text}
	case Finish:
		we = wireEvent{Type: typeFinish, Reason: e.Reason, Usage: e.Usage}
	case Error:
		we = wireEvent{Type: typeError, Message: e.Message}
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
	return json.Marshal(we)
}
