package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(sub string, exp time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: "authenticated",
	}
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("owner-1", time.Now().Add(time.Hour)))

	sub, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "owner-1" {
		t.Fatalf("expected owner-1, got %q", sub)
	}
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("owner-1", time.Now().Add(-time.Minute)))

	if _, err := v.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	good := validClaims("owner-1", time.Now().Add(time.Hour))
	cases := []struct {
		name string
		v    *Verifier
		tok  string
	}{
		{"wrong secret", NewVerifier(testSecret), sign(t, jwt.SigningMethodHS256, []byte("other-secret"), good)},
		{"no subject", NewVerifier(testSecret), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("", time.Now().Add(time.Hour)))},
		{"alg none", NewVerifier(testSecret), sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, good)},
		{"garbage", NewVerifier(testSecret), "not.a.jwt"},
		{"empty", NewVerifier(testSecret), "  "},
		{"no secret configured", NewVerifier(""), sign(t, jwt.SigningMethodHS256, []byte(testSecret), good)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.v.Verify(tc.tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		tok  string
		want bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		tok, ok := BearerToken(tc.in)
		if tok != tc.tok || ok != tc.want {
			t.Fatalf("BearerToken(%q) = (%q, %v), want (%q, %v)", tc.in, tok, ok, tc.tok, tc.want)
		}
	}
}
