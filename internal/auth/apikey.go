package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	keyPrefix    = "relay"
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateKey creates a gateway key of the form relay-{env}-{32 random alphanumeric chars}.
func GenerateKey(env string) (string, error) {
	if env == "" || strings.Contains(env, "-") {
		return "", fmt.Errorf("invalid key environment %q", env)
	}
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", keyPrefix, env, random), nil
}

// HashKey returns the SHA-256 hex digest of a key. Only hashes are stored.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// KeyPrefix returns the display-safe part of a key: relay-{env}-{first 8 chars}.
func KeyPrefix(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) != 3 {
		return SafePrefix(key)
	}
	random := parts[2]
	if len(random) > 8 {
		random = random[:8]
	}
	return parts[0] + "-" + parts[1] + "-" + random
}

// SafePrefix returns a log-safe prefix of any secret (never the full value).
func SafePrefix(secret string) string {
	if len(secret) > 12 {
		return secret[:12] + "..."
	}
	if len(secret) > 4 {
		return secret[:4] + "..."
	}
	return "***"
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata is the stored record of a gateway key, as cached in Redis.
type KeyMetadata struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RPMLimit        *int      `json:"rpm_limit,omitempty"`
	MaxBudgetTokens *int      `json:"max_budget_tokens,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	if s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
