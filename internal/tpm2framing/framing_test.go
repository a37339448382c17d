package tpm2framing

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/abrmd-go/tabrmd/internal/tpm2header"
	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
)

// chunkReader is a TimeoutReader test double that yields a fixed sequence
// of reads, one chunk per call to Read, then returns io.EOF. It never
// actually blocks on the deadline, matching the teacher's fake-transport
// style of test double (see internal/transport/mock in this repository).
type chunkReader struct {
	chunks [][]byte
	pos    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.chunks) {
		return 0, io.EOF
	}
	chunk := r.chunks[r.pos]
	r.pos++
	n := copy(p, chunk)
	return n, nil
}

func (r *chunkReader) SetReadDeadline(time.Time) error { return nil }

func TestReadFramed_ChunkedHeader(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{
		{0x80, 0x01, 0x00},
		{0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x00},
	}}
	buf := make([]byte, tpm2header.Size)
	index := 0

	status, err := ReadFramed(context.Background(), r, buf, &index, time.Second)
	if status != StatusTryAgain {
		t.Fatalf("first call: status = %v, want StatusTryAgain", status)
	}
	if err == nil {
		t.Fatalf("first call: expected non-nil error")
	}
	if index != 3 {
		t.Fatalf("first call: index = %d, want 3", index)
	}

	status, err = ReadFramed(context.Background(), r, buf, &index, time.Second)
	if status != StatusOK {
		t.Fatalf("second call: status = %v, want StatusOK, err=%v", status, err)
	}
	if index != tpm2header.Size {
		t.Fatalf("second call: index = %d, want %d", index, tpm2header.Size)
	}
	if r.pos != 2 {
		t.Fatalf("expected exactly 2 reads, stream was read %d times", r.pos)
	}
}

func TestReadFramed_HeaderOnlySize(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{
		{0x80, 0x01, 0x00, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x00},
	}}
	buf := make([]byte, tpm2header.Size)
	index := 0

	status, err := ReadFramed(context.Background(), r, buf, &index, time.Second)
	if status != StatusOK || err != nil {
		t.Fatalf("status = %v, err = %v, want StatusOK, nil", status, err)
	}
	if index != tpm2header.Size {
		t.Fatalf("index = %d, want %d", index, tpm2header.Size)
	}
}

func TestReadFramed_SizeExceedsBuffer(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{
		{0x80, 0x01, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00},
	}}
	buf := make([]byte, tpm2header.Size) // only 10 bytes, announced size is 32
	index := 0

	status, err := ReadFramed(context.Background(), r, buf, &index, time.Second)
	if status != StatusProtocol {
		t.Fatalf("status = %v, err = %v, want StatusProtocol", status, err)
	}

	// Caller grows the buffer, preserving index, and retries.
	grown := make([]byte, 0x20)
	copy(grown, buf[:index])
	status, err = ReadFramed(context.Background(), r, grown, &index, time.Second)
	if status != StatusTryAgain {
		t.Fatalf("after growth: status = %v, err = %v", status, err)
	}
	if !errors.Is(err, tpm2rc.ErrNoConnection) {
		t.Fatalf("after growth: err = %v, want wrapping ErrNoConnection (stream exhausted)", err)
	}
}

func TestReadFramed_EOFBeforeHeader(t *testing.T) {
	r := &chunkReader{chunks: nil}
	buf := make([]byte, tpm2header.Size)
	index := 0

	status, err := ReadFramed(context.Background(), r, buf, &index, time.Second)
	if status != StatusTryAgain {
		t.Fatalf("status = %v, want StatusTryAgain", status)
	}
	if !errors.Is(err, tpm2rc.ErrNoConnection) {
		t.Fatalf("err = %v, want wrapping ErrNoConnection", err)
	}
}

func TestReadFramedAlloc(t *testing.T) {
	t.Run("SuccessWithGrowth", func(t *testing.T) {
		r := &chunkReader{chunks: [][]byte{
			{0x80, 0x01, 0x00, 0x00, 0x00, 0x0C, 0x00, 0x00, 0x01, 0x44},
			{0xAA, 0xBB},
		}}
		got, err := ReadFramedAlloc(context.Background(), r, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []byte{0x80, 0x01, 0x00, 0x00, 0x00, 0x0C, 0x00, 0x00, 0x01, 0x44, 0xAA, 0xBB}
		if len(got) != len(want) {
			t.Fatalf("got %d bytes, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("byte %d = 0x%02x, want 0x%02x", i, got[i], want[i])
			}
		}
	})

	t.Run("AnnouncedSizeExceedsMaxBuffer", func(t *testing.T) {
		r := &chunkReader{chunks: [][]byte{
			{0x80, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00},
		}}
		_, err := ReadFramedAlloc(context.Background(), r, time.Second)
		if !errors.Is(err, tpm2rc.ErrProtocol) {
			t.Fatalf("err = %v, want wrapping ErrProtocol", err)
		}
	})

	t.Run("HeaderOnlyResponse", func(t *testing.T) {
		r := &chunkReader{chunks: [][]byte{
			{0x80, 0x01, 0x00, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x00},
		}}
		got, err := ReadFramedAlloc(context.Background(), r, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != tpm2header.Size {
			t.Fatalf("got %d bytes, want %d", len(got), tpm2header.Size)
		}
	})
}
