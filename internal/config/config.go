// Package config loads the operator backend configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the operator backend needs to run.
type Config struct {
	ListenAddr string

	AuthURL     string
	NodeURLs    []string
	BuilderSeed string
	UserSeed    string
	ProfileName string

	DatabaseDSN string

	AIEndpoint string
	AIKey      string
	AIModel    string

	MatchWindow   time.Duration
	MatchMaxCalls int
}

// FromEnv reads configuration from the process environment. A .env file in
// the working directory is merged in first when present; real environment
// variables win.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		AuthURL:       os.Getenv("VAULT_AUTH_URL"),
		BuilderSeed:   os.Getenv("BUILDER_PRIVATE_KEY"),
		UserSeed:      os.Getenv("USER_PRIVATE_KEY"),
		ProfileName:   envOr("BUILDER_PROFILE_NAME", "travel-buddy"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		AIEndpoint:    envOr("AI_ENDPOINT", "https://api.openai.com"),
		AIKey:         os.Getenv("AI_API_KEY"),
		AIModel:       envOr("AI_MODEL", "gpt-4o-mini"),
		MatchWindow:   15 * time.Minute,
		MatchMaxCalls: 5,
	}

	for _, u := range strings.Split(os.Getenv("VAULT_NODE_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.NodeURLs = append(cfg.NodeURLs, u)
		}
	}

	if v := os.Getenv("MATCH_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MATCH_WINDOW: %w", err)
		}
		cfg.MatchWindow = d
	}
	if v := os.Getenv("MATCH_MAX_CALLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MATCH_MAX_CALLS: %w", err)
		}
		cfg.MatchMaxCalls = n
	}

	if cfg.AuthURL == "" {
		return nil, errors.New("VAULT_AUTH_URL is required")
	}
	if len(cfg.NodeURLs) == 0 {
		return nil, errors.New("VAULT_NODE_URLS is required")
	}
	if cfg.BuilderSeed == "" {
		return nil, errors.New("BUILDER_PRIVATE_KEY is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
