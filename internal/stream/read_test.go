package stream_test

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MegaGrindStone/chatstream/internal/stream"
)

type readResult struct {
	events []stream.Event
	err    error
}

func readAll(r io.Reader, cfg *stream.ReadConfig) readResult {
	var res readResult
	for ev, err := range stream.Read(r, cfg) {
		if err != nil {
			res.err = err
			break
		}
		res.events = append(res.events, ev)
	}
	return res
}

func TestRead(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []stream.Event
		wantErr error
	}{
		{
			name: "Clean stream",
			input: "data: {\"type\":\"content\",\"content\":\"He\"}\n\n" +
				"data: {\"type\":\"content\",\"content\":\"llo\"}\n\n" +
				"data: [DONE]\n\n",
			want: []stream.Event{stream.Content{Text: "He"}, stream.Content{Text: "llo"}},
		},
		{
			name: "Sentinel short-circuits buffered lines",
			input: "data: [DONE]\n\n" +
				"data: {\"type\":\"content\",\"content\":\"late\"}\n\n",
		},
		{
			name: "Malformed lines are skipped",
			input: "data: {oops\n\n" +
				"data: {\"type\":\"mystery\"}\n\n" +
				"data: {\"type\":\"reasoning\",\"content\":\"r\"}\n\n" +
				"data: [DONE]\n\n",
			want: []stream.Event{stream.Reasoning{Text: "r"}},
		},
		{
			name:    "Missing sentinel",
			input:   "data: {\"type\":\"content\",\"content\":\"Hi\"}\n\n",
			want:    []stream.Event{stream.Content{Text: "Hi"}},
			wantErr: stream.ErrTruncated,
		},
		{
			name:    "Ends mid-line",
			input:   "data: {\"type\":\"content\",\"content\":\"Hi\"}\n\ndata: {\"type\":\"content\",\"con",
			want:    []stream.Event{stream.Content{Text: "Hi"}},
			wantErr: stream.ErrTruncated,
		},
		{
			name:    "Sentinel without trailing newline is not fabricated",
			input:   "data: {\"type\":\"content\",\"content\":\"Hi\"}\n\ndata: [DONE]",
			want:    []stream.Event{stream.Content{Text: "Hi"}},
			wantErr: stream.ErrTruncated,
		},
		{
			name:    "Empty body",
			wantErr: stream.ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One byte per read exercises every chunk boundary.
			got := readAll(iotest.OneByteReader(strings.NewReader(tt.input)), nil)
			if !reflect.DeepEqual(got.events, tt.want) {
				t.Errorf("events = %#v, want %#v", got.events, tt.want)
			}
			if !errors.Is(got.err, tt.wantErr) {
				t.Errorf("err = %v, want %v", got.err, tt.wantErr)
			}
		})
	}
}

func TestReadError(t *testing.T) {
	errBroken := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"type\":\"content\",\"content\":\"Hi\"}\n\n"),
		iotest.ErrReader(errBroken),
	)

	got := readAll(r, nil)
	if len(got.events) != 1 {
		t.Fatalf("events = %#v, want one content event", got.events)
	}
	if !errors.Is(got.err, errBroken) {
		t.Errorf("err = %v, want %v", got.err, errBroken)
	}
	if errors.Is(got.err, stream.ErrTruncated) {
		t.Errorf("read failure reported as truncation: %v", got.err)
	}
}

func TestReadLineTooLong(t *testing.T) {
	input := "data: " + strings.Repeat("x", 64)

	got := readAll(strings.NewReader(input), &stream.ReadConfig{ChunkSize: 8, MaxLineSize: 32})
	if !errors.Is(got.err, stream.ErrLineTooLong) {
		t.Errorf("err = %v, want %v", got.err, stream.ErrLineTooLong)
	}
}

func TestReadStopsWhenConsumerStops(t *testing.T) {
	input := "data: {\"type\":\"content\",\"content\":\"a\"}\n\n" +
		"data: {\"type\":\"content\",\"content\":\"b\"}\n\n"

	count := 0
	for _, err := range stream.Read(strings.NewReader(input), nil) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Errorf("consumed %d events, want 1", count)
	}
}
