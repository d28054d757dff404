package stream

import (
	"bytes"
	"iter"
	"strings"
)

// Decoder splits arbitrarily chunked input into complete lines. It holds the trailing fragment of the
// last chunk until the newline that completes it arrives.
//
// Only lines carrying a `data:` field are forwarded; blank lines, comments and other fields are
// dropped. The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	pending []byte
}

// Feed appends chunk to the pending fragment and returns the complete lines it produced, in order.
// The pending fragment is updated before Feed returns, so the result may be iterated partially or
// not at all without affecting later calls.
func (d *Decoder) Feed(chunk []byte) iter.Seq[string] {
	d.pending = append(d.pending, chunk...)

	end := bytes.LastIndexByte(d.pending, '\n')
	if end < 0 {
		return func(func(string) bool) {}
	}

	complete := string(d.pending[:end])
	d.pending = append(d.pending[:0], d.pending[end+1:]...)

	return func(yield func(string) bool) {
		for _, line := range strings.Split(complete, "\n") {
			line = strings.TrimSpace(line)
			if !forwarded(line) {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}

// Finalize discards the pending fragment and returns its size in bytes. It must be called once the
// source reached its end: a line that never saw its newline is not a record.
func (d *Decoder) Finalize() int {
	n := len(d.pending)
	d.pending = d.pending[:0]
	return n
}

// Buffered returns the size of the pending fragment.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

func forwarded(line string) bool {
	if line == "" || strings.HasPrefix(line, ":") {
		return false
	}
	return strings.HasPrefix(line, dataPrefix)
}
