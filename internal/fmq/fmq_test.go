package fmq

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	q := New(16)
	msg := []byte("metadata")
	if !q.Write(msg) {
		t.Fatal("Write failed with space available")
	}
	out := make([]byte, len(msg))
	if !q.Read(out) {
		t.Fatal("Read failed with data available")
	}
	if !bytes.Equal(out, msg) {
		t.Errorf("read %q, want %q", out, msg)
	}
	if q.Available() != 0 {
		t.Errorf("queue not drained, %d bytes left", q.Available())
	}
}

func TestWrapAround(t *testing.T) {
	q := New(8)
	// Advance the ring so the next write wraps.
	if !q.Write([]byte("abcde")) {
		t.Fatal("first write failed")
	}
	out := make([]byte, 5)
	q.Read(out)

	msg := []byte("123456")
	if !q.Write(msg) {
		t.Fatal("wrapping write failed")
	}
	out = make([]byte, 6)
	if !q.Read(out) {
		t.Fatal("wrapping read failed")
	}
	if !bytes.Equal(out, msg) {
		t.Errorf("read %q, want %q", out, msg)
	}
}

func TestWriteRejectedWhenFull(t *testing.T) {
	q := New(4)
	if !q.Write([]byte("abc")) {
		t.Fatal("write failed")
	}
	if q.Write([]byte("de")) {
		t.Error("oversized write accepted")
	}
	// The failed write must not corrupt existing content.
	out := make([]byte, 3)
	if !q.Read(out) || !bytes.Equal(out, []byte("abc")) {
		t.Errorf("content corrupted by rejected write: %q", out)
	}
}

func TestShortReadConsumesNothing(t *testing.T) {
	q := New(8)
	q.Write([]byte("ab"))
	out := make([]byte, 4)
	if q.Read(out) {
		t.Error("read for more bytes than available succeeded")
	}
	if q.Available() != 2 {
		t.Errorf("failed read consumed data, available=%d", q.Available())
	}
}
