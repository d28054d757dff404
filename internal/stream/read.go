package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

// ReadConfig customizes Read. A nil config uses the defaults.
type ReadConfig struct {
	// ChunkSize is the size of the buffer handed to each Read call. Defaults to 4 KiB.
	ChunkSize int
	// MaxLineSize bounds the pending fragment of an unterminated line. Defaults to 1 MiB.
	MaxLineSize int

	Logger *slog.Logger
}

var (
	// ErrTruncated is yielded when the source ends without the [DONE] sentinel.
	ErrTruncated = errors.New("stream ended without end marker")
	// ErrLineTooLong is yielded when a single line outgrows ReadConfig.MaxLineSize.
	ErrLineTooLong = errors.New("stream line too long")
)

const (
	defaultChunkSize   = 4 << 10
	defaultMaxLineSize = 1 << 20
	errLoggerKey       = "err"
)

// Read returns an iterator over the events of r, in the order their bytes were received.
//
// The sequence ends without error after the [DONE] sentinel; lines buffered behind it are never
// interpreted. If r ends first, the last pair yielded carries ErrTruncated. Read errors are yielded
// wrapped and end the sequence. Read never closes r.
func Read(r io.Reader, cfg *ReadConfig) iter.Seq2[Event, error] {
	chunkSize, maxLineSize := defaultChunkSize, defaultMaxLineSize
	var logger *slog.Logger
	if cfg != nil {
		if cfg.ChunkSize > 0 {
			chunkSize = cfg.ChunkSize
		}
		if cfg.MaxLineSize > 0 {
			maxLineSize = cfg.MaxLineSize
		}
		logger = cfg.Logger
	}
	in := NewInterpreter(logger)

	return func(yield func(Event, error) bool) {
		var dec Decoder
		buf := make([]byte, chunkSize)

		for {
			n, err := r.Read(buf)
			if n > 0 {
				for line := range dec.Feed(buf[:n]) {
					ev, done := in.Interpret(line)
					if done {
						return
					}
					if ev == nil {
						continue
					}
					if !yield(ev, nil) {
						return
					}
				}
				if dec.Buffered() > maxLineSize {
					dec.Finalize()
					yield(nil, fmt.Errorf("%w: more than %d bytes without newline", ErrLineTooLong, maxLineSize))
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				if dropped := dec.Finalize(); dropped > 0 {
					yield(nil, fmt.Errorf("%w: discarded %d bytes of unterminated line", ErrTruncated, dropped))
					return
				}
				yield(nil, ErrTruncated)
				return
			}
			dec.Finalize()
			yield(nil, fmt.Errorf("error reading stream: %w", err))
			return
		}
	}
}
