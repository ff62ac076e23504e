package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestGenerateAndParse(t *testing.T) {
	id := uuid.New()
	tok, err := GenerateJWT("secret", id, "pyme@example.com", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseJWT("secret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := claims.UserID()
	if err != nil || got != id {
		t.Errorf("user id = %v (%v), want %v", got, err, id)
	}
	if claims.Email != "pyme@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
}

func TestParseRejects(t *testing.T) {
	id := uuid.New()
	good, _ := GenerateJWT("secret", id, "", time.Minute)
	expired, _ := GenerateJWT("secret", id, "", -time.Minute)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	badSubject, _ := noSubject.SignedString([]byte("secret"))

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other", good},
		{"empty secret", "", good},
		{"expired", "secret", expired},
		{"subject not a uuid", "secret", badSubject},
		{"garbage", "secret", "abc.def.ghi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWT(tt.secret, tt.token); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}
