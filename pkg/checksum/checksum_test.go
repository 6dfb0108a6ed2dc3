package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// sha256("hello")
const helloSum = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestHashingReader_DigestMatchesCalculate(t *testing.T) {
	hr := NewHashingReader(strings.NewReader("hello"), 0)
	out, err := io.ReadAll(hr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("forwarded %q, want hello", out)
	}
	if got := hr.HexSum(); got != helloSum {
		t.Errorf("HexSum() = %s, want %s", got, helloSum)
	}
	if len(hr.Sum()) != 32 {
		t.Errorf("Sum() len = %d, want 32 raw bytes", len(hr.Sum()))
	}
	if hr.BytesRead() != 5 {
		t.Errorf("BytesRead() = %d, want 5", hr.BytesRead())
	}
}

func TestHashingReader_ExactlyAtLimit(t *testing.T) {
	hr := NewHashingReader(strings.NewReader("hello"), 5)
	out, err := io.ReadAll(hr)
	if err != nil {
		t.Fatalf("ReadAll at limit: %v", err)
	}
	if len(out) != 5 {
		t.Errorf("read %d bytes, want 5", len(out))
	}
	if hr.HexSum() != helloSum {
		t.Error("digest mismatch at limit")
	}
}

func TestHashingReader_OverLimitFailsBeforeReturningBytes(t *testing.T) {
	hr := NewHashingReader(strings.NewReader("hello world"), 5)

	buf := make([]byte, 64)
	n, err := hr.Read(buf)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
	if n != 0 {
		t.Errorf("n = %d, overflowing bytes must not be returned", n)
	}
	if hr.BytesRead() != 0 {
		t.Errorf("BytesRead() = %d, want 0", hr.BytesRead())
	}

	// The failure is sticky.
	if _, err := hr.Read(buf); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("second Read err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestHashingReader_OverLimitAcrossSmallReads(t *testing.T) {
	hr := NewHashingReader(iotest.OneByteReader(strings.NewReader("abcdef")), 4)
	out, err := io.ReadAll(hr)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
	if string(out) != "abcd" {
		t.Errorf("forwarded %q, want only bytes within the limit", out)
	}
	want := sha256.Sum256([]byte("abcd"))
	if hr.HexSum() != hex.EncodeToString(want[:]) {
		t.Error("digest should cover only the bytes within the limit")
	}
}

func TestHashingReader_PropagatesSourceError(t *testing.T) {
	hr := NewHashingReader(iotest.ErrReader(io.ErrUnexpectedEOF), 10)
	if _, err := io.ReadAll(hr); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}
