package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/af-corp/relay-gateway/internal/auth"
	"github.com/af-corp/relay-gateway/internal/config"
)

func main() {
	name := flag.String("name", "", "human-friendly key name (required)")
	env := flag.String("env", "prod", "environment prefix")
	rpm := flag.Int("rpm", 0, "requests per minute for this key (0 = gateway default)")
	maxBudget := flag.Int("max-budget-tokens", 0, "extended thinking budget cap for this key (0 = none)")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name is required")
		os.Exit(1)
	}
	if *rpm < 0 || *maxBudget < 0 {
		log.Fatal("-rpm and -max-budget-tokens must not be negative")
	}

	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	keyHash := auth.HashKey(rawKey)
	keyPrefix := auth.KeyPrefix(rawKey)

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn(*dbURL))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, name, rpm_limit, max_budget_tokens, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, keyHash, keyPrefix, *name, nilIfZero(*rpm), nilIfZero(*maxBudget), expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	fmt.Println("=== Relay Gateway Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:      %s\n", keyID)
	fmt.Printf("  Key Prefix:  %s\n", keyPrefix)
	fmt.Printf("  Name:        %s\n", *name)
	if *rpm > 0 {
		fmt.Printf("  RPM Limit:   %d\n", *rpm)
	}
	if *maxBudget > 0 {
		fmt.Printf("  Max Budget:  %d tokens\n", *maxBudget)
	}
	fmt.Printf("  Expires:     %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Gateway key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("===================================")
}

// dsn resolves the database URL from the flag, DATABASE_URL, or DB_* variables.
func dsn(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	db := config.DefaultConfig().Database
	db.Host = envOrDefault("DB_HOST", db.Host)
	db.User = envOrDefault("DB_USER", db.User)
	db.Password = envOrDefault("DB_PASSWORD", "relay-dev")
	db.Name = envOrDefault("DB_NAME", db.Name)
	if port, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil {
		db.Port = port
	}
	return db.DSN()
}

func nilIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
