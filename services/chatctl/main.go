package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/auth"
	"github.com/blogchat/internal/model"
)

var (
	apiURL  string
	wsURL   string
	token   string
	userID  string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Operator CLI for the direct-message backend",
	Long: `chatctl talks to the chat REST backend and realtime server with a session
token: list and manage conversations, send messages, export and watch events.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if token != "" {
			return nil
		}
		t, err := promptToken()
		if err != nil {
			return fmt.Errorf("read session token: %w", err)
		}
		token = t
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("API_BASE_URL", "http://localhost:5000/api"), "REST backend base url")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", envOr("WS_URL", "ws://localhost:5000/socket"), "realtime server url")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SESSION_TOKEN"), "session token (prompted when empty)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("USER_ID"), "current user id (read from the token when empty)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// promptToken reads the token without echo, falling back to a plain line when
// stdin is not a terminal.
func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Session token: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newClient() *api.Client {
	return api.NewClient(strings.TrimSuffix(apiURL, "/"), token, timeout)
}

func self() (*model.User, error) {
	id, err := auth.Resolve(token, userID, time.Now())
	if err != nil {
		return nil, err
	}
	return id.User, nil
}
