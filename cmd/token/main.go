// Command token mints operator access tokens for the admin API. There
// is no login flow; tokens are issued here and handed to operators
// out-of-band.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/keysync/backend/internal/infrastructure/auth"
	"github.com/keysync/backend/internal/infrastructure/config"
)

func main() {
	var (
		username string
		userID   string
		role     string
		ttl      time.Duration
		asJSON   bool
	)
	flag.StringVar(&username, "username", "", "operator name embedded in the token (required)")
	flag.StringVar(&userID, "user-id", "", "operator UUID (default: generate one)")
	flag.StringVar(&role, "role", "operator", "role claim")
	flag.DurationVar(&ttl, "ttl", 0, "token lifetime (default: configured expiration)")
	flag.BoolVar(&asJSON, "json", false, "print the full token record as JSON")
	flag.Parse()

	if err := run(username, userID, role, ttl, asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(username, userID, role string, ttl time.Duration, asJSON bool) error {
	if username == "" {
		return fmt.Errorf("-username is required")
	}

	id := uuid.New()
	if userID != "" {
		parsed, err := uuid.Parse(userID)
		if err != nil {
			return fmt.Errorf("invalid -user-id: %w", err)
		}
		id = parsed
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	jwtCfg := cfg.JWT
	if ttl > 0 {
		jwtCfg.AccessTokenExpiration = ttl
	}

	token, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(auth.GenerateTokenInput{
		UserID:   id,
		Username: username,
		Role:     role,
	})
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	if asJSON {
		out := struct {
			*auth.AccessToken
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			Role     string `json:"role"`
		}{token, id.String(), username, role}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(token.Token)
	fmt.Fprintf(os.Stderr, "user_id: %s\nexpires: %s\n", id, token.ExpiresAt.Format(time.RFC3339))
	return nil
}
