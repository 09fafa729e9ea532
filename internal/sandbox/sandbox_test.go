package sandbox

import "testing"

// TestIsImageBuiltUnknownProfile verifies the boolean-never-raise
// contract: an unrecognized profile is simply "not built", never an
// error.
func TestIsImageBuiltUnknownProfile(t *testing.T) {
	if IsImageBuilt(Profile("does-not-exist")) {
		t.Fatalf("expected an unknown profile to report false")
	}
}

func TestBoundedBufferTruncates(t *testing.T) {
	b := &boundedBuffer{limit: 8}
	n, err := b.Write([]byte("0123456789"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected Write to report the full length even when truncating, got %d", n)
	}
	if b.buf.Len() != 8 {
		t.Fatalf("expected buffer to be capped at 8 bytes, got %d", b.buf.Len())
	}
}

func TestBoundedBufferMultipleWritesRespectLimit(t *testing.T) {
	b := &boundedBuffer{limit: 5}
	b.Write([]byte("abc"))
	b.Write([]byte("defgh"))
	if b.buf.Len() != 5 {
		t.Fatalf("expected total to be capped at 5 bytes across writes, got %d: %q", b.buf.Len(), b.buf.String())
	}
	if b.buf.String() != "abcde" {
		t.Fatalf("expected first 5 bytes to survive, got %q", b.buf.String())
	}
}

func TestSessionExecOnDestroyedSessionErrors(t *testing.T) {
	s := &Session{containerName: "does-not-exist", destroyed: true}
	if _, err := s.Exec(nil, []string{"true"}, 0); err == nil { //nolint:staticcheck // exercising the pre-check before ctx is touched
		t.Fatalf("expected an error for a destroyed session")
	}
}
