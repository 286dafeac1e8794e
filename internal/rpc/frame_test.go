package rpc

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := []string{`{"method":"daemon.ping","id":1}`, `{"a":"ü"}`}
	for _, m := range msgs {
		if err := WriteFrame(&buf, []byte(m)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if got := buf.Bytes()[:4]; !bytes.Equal(got, []byte{0, 0, 0, byte(len(msgs[0]))}) {
		t.Errorf("header = %v, want big-endian length %d", got, len(msgs[0]))
	}
	for _, want := range msgs {
		got, err := ReadFrame(&buf, DefaultMaxFrameBytes)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Errorf("ReadFrame = %q, want %q", got, want)
		}
	}
	if _, err := ReadFrame(&buf, DefaultMaxFrameBytes); err != io.EOF {
		t.Errorf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		max   int
		want  error
	}{
		{name: "partial header", input: []byte{0, 0}, want: io.ErrUnexpectedEOF},
		{name: "truncated payload", input: []byte{0, 0, 0, 5, 'a', 'b'}, want: io.ErrUnexpectedEOF},
		{name: "zero length", input: []byte{0, 0, 0, 0}, want: ErrEmptyFrame},
		{name: "over limit", input: []byte{0, 0, 1, 0}, max: 255, want: ErrFrameTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := tt.max
			if limit == 0 {
				limit = DefaultMaxFrameBytes
			}
			_, err := ReadFrame(bytes.NewReader(tt.input), limit)
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("WriteFrame(nil) = %v, want ErrEmptyFrame", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %d bytes", buf.Len())
	}
}
