package main

import (
	"fmt"
	"os"
	"time"

	buzzsway "github.com/buzzsway/buzzsway-go"
)

// getSessionStore returns the on-disk session store.
func getSessionStore() *buzzsway.SessionStore {
	store, err := buzzsway.DefaultSessionStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate session store: %v\n", err)
		os.Exit(1)
	}
	return store
}

// getSession loads the saved session, exiting if none is valid.
func getSession() *buzzsway.Session {
	session, err := getSessionStore().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load session: %v\n", err)
		os.Exit(1)
	}
	if session == nil {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'buzzsway login' first.")
		os.Exit(1)
	}
	return session
}

// getClient creates an unauthenticated BuzzSway client.
func getClient() *buzzsway.Client {
	return newClient("")
}

// getAuthedClient creates a client authenticated with the saved session.
func getAuthedClient() (*buzzsway.Client, *buzzsway.Session) {
	session := getSession()
	return newClient(session.Token), session
}

func newClient(token string) *buzzsway.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []buzzsway.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, buzzsway.WithBaseURL(cfg.Default.BaseURL))
	}
	opts = append(opts, buzzsway.WithCircuitBreaker("buzzsway-api"))

	return buzzsway.NewClient(token, opts...)
}

// timeAgo renders an RFC 3339 timestamp as a relative age.
func timeAgo(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	diff := int(time.Since(t).Seconds())
	switch {
	case diff < 60:
		return fmt.Sprintf("%d sec ago", diff)
	case diff < 3600:
		return fmt.Sprintf("%d min ago", diff/60)
	case diff < 86400:
		return fmt.Sprintf("%d hrs ago", diff/3600)
	default:
		return fmt.Sprintf("%d days ago", diff/86400)
	}
}
