package frame

import (
	"bytes"
	"io"
	"testing"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello"),
		[]byte(""),
		bytes.Repeat([]byte{0xAB}, 1000),
	}
	var buf []byte
	var offsets []int64
	for _, c := range cases {
		offsets = append(offsets, int64(len(buf)))
		buf = append(buf, Encode(c)...)
	}

	r := byteReaderAt(buf)
	for i, want := range cases {
		got, next, status, err := DecodeNext(r, offsets[i])
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if status != OK {
			t.Fatalf("decode %d: status = %v, want OK", i, status)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("decode %d: got %q, want %q", i, got, want)
		}
		wantNext := offsets[i] + LengthSize + int64(len(want))
		if next != wantNext {
			t.Fatalf("decode %d: next = %d, want %d", i, next, wantNext)
		}
	}

	_, next, status, err := DecodeNext(r, int64(len(buf)))
	if err != nil {
		t.Fatalf("tail decode: %v", err)
	}
	if status != EndOfChunk {
		t.Fatalf("tail decode: status = %v, want EndOfChunk", status)
	}
	if next != int64(len(buf)) {
		t.Fatalf("tail decode: next = %d, want %d", next, len(buf))
	}
}

func TestDecodeNextShortLengthPrefix(t *testing.T) {
	r := byteReaderAt([]byte{0, 0, 0})
	_, next, status, err := DecodeNext(r, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status != EndOfChunk {
		t.Fatalf("status = %v, want EndOfChunk", status)
	}
	if next != 0 {
		t.Fatalf("next = %d, want 0", next)
	}
}

func TestDecodeNextTruncatedPayload(t *testing.T) {
	full := Encode([]byte("hello world"))
	truncated := full[:len(full)-3]

	r := byteReaderAt(truncated)
	_, next, status, err := DecodeNext(r, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status != Truncated {
		t.Fatalf("status = %v, want Truncated", status)
	}
	if next != 0 {
		t.Fatalf("next = %d, want 0", next)
	}
}

func TestDecodeNextZeroLengthPayload(t *testing.T) {
	full := Encode(nil)
	r := byteReaderAt(full)
	payload, next, status, err := DecodeNext(r, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(payload) != 0 {
		t.Fatalf("payload = %q, want empty", payload)
	}
	if next != LengthSize {
		t.Fatalf("next = %d, want %d", next, LengthSize)
	}
}
