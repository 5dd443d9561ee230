package main

import (
	"fmt"
	"os"

	pairchat "github.com/pairchat/pairchat-go"
)

// getClient creates a backend client from the stored configuration. The
// token, when present, is installed so subsequent calls are authenticated.
func getClient() *pairchat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []pairchat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, pairchat.WithBaseURL(cfg.Default.BaseURL))
	}

	client := pairchat.NewClient(opts...)
	if cfg.Auth.Token != "" {
		client.SetToken(cfg.Auth.Token)
	}
	return client
}

// requireAuth loads the config and exits unless a session is stored.
func requireAuth() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'pairchat login' first.")
		os.Exit(1)
	}
	return cfg
}

// currentUser reconstructs the signed-in user from the stored session.
func currentUser(cfg *Config) pairchat.User {
	return pairchat.User{
		ID:       cfg.Auth.UserID,
		Email:    cfg.Auth.Email,
		Username: cfg.Auth.Username,
	}
}
