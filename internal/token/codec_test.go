package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("unit-test-signing-secret")

func testClaims(exp time.Time) map[string]any {
	return map[string]any{
		"iss":      "clubgate-test",
		"iat":      time.Now().Unix(),
		"exp":      exp.Unix(),
		"user_id":  float64(42),
		"username": "coach.anna",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec()
	claims := testClaims(time.Now().Add(time.Hour))

	encoded, err := codec.Encode(claims, testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if parts := strings.Split(encoded, "."); len(parts) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(parts))
	}

	decoded, err := codec.Decode(encoded, testSecret)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded["user_id"] != float64(42) {
		t.Fatalf("unexpected user_id: %v", decoded["user_id"])
	}
	if decoded["username"] != "coach.anna" {
		t.Fatalf("unexpected username: %v", decoded["username"])
	}
	if decoded["iss"] != "clubgate-test" {
		t.Fatalf("unexpected issuer: %v", decoded["iss"])
	}
}

func TestEncodeDeterministic(t *testing.T) {
	codec := NewCodec()
	claims := testClaims(time.Unix(4102444800, 0))

	first, err := codec.Encode(claims, testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := codec.Encode(claims, testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if first != second {
		t.Fatal("expected identical inputs to encode identically")
	}
}

func TestDecodeRejectsTamperedSignature(t *testing.T) {
	codec := NewCodec()
	encoded, err := codec.Encode(testClaims(time.Now().Add(time.Hour)), testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip one character inside the signature segment.
	idx := strings.LastIndex(encoded, ".") + 1
	flipped := byte('A')
	if encoded[idx] == 'A' {
		flipped = 'B'
	}
	tampered := encoded[:idx] + string(flipped) + encoded[idx+1:]

	if _, err := codec.Decode(tampered, testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	codec := NewCodec()
	encoded, err := codec.Encode(testClaims(time.Now().Add(time.Hour)), testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(encoded, []byte("other-secret")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	codec := NewCodec()
	for _, input := range []string{"", "only-one-segment", "a.b", "a.b.c.d", "not..base64"} {
		if _, err := codec.Decode(input, testSecret); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Decode(%q): expected ErrInvalidToken, got %v", input, err)
		}
	}
}

func TestDecodeExpiredToken(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := issued

	codec := NewCodec(WithClock(func() time.Time { return now }))
	encoded, err := codec.Encode(testClaims(issued.Add(15*time.Minute)), testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := codec.Decode(encoded, testSecret); err != nil {
		t.Fatalf("expected valid token before expiry, got %v", err)
	}

	now = issued.Add(15*time.Minute + time.Second)
	if _, err := codec.Decode(encoded, testSecret); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestDecodeRequiresExpiry(t *testing.T) {
	codec := NewCodec()
	claims := map[string]any{"user_id": float64(1)}
	encoded, err := codec.Encode(claims, testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(encoded, testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing exp, got %v", err)
	}
}
