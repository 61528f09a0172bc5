package auth

import (
	"testing"
	"time"
)

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		b.Fatalf("HashPassword: %v", err)
	}
	b.ResetTimer()
	for b.Loop() {
		VerifyPassword("correct-horse-battery-staple", hash) //nolint:errcheck // benchmark
	}
}

// ParseToken runs on every API request and WebSocket upgrade.
func BenchmarkParseToken(b *testing.B) {
	token, err := GenerateAccessToken(&User{ID: "usr-bench", Role: RoleRegular}, testSecret, time.Hour)
	if err != nil {
		b.Fatalf("GenerateAccessToken: %v", err)
	}
	b.ResetTimer()
	for b.Loop() {
		ParseToken(token, testSecret) //nolint:errcheck // benchmark
	}
}
