package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/tokengate/internal/session"
	"github.com/alexjbarnes/tokengate/internal/timefmt"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		Long: `Sign in with an email and password. The password is read from
TOKENGATE_PASSWORD or --password, or from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return fmt.Errorf("TOKENGATE_EMAIL or --email is required")
			}

			if password == "" {
				p, err := readLine(a.in)
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}

				password = p
			}

			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			tokens, err := s.raw.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			if err := s.state.SetTokens(tokens.AccessToken, tokens.RefreshToken); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			a.logger.Info("signed in", slog.String("email", email))
			fmt.Fprintf(a.out, "Signed in as %s\n", email)

			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", os.Getenv("TOKENGATE_EMAIL"), "account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("TOKENGATE_PASSWORD"), "account password")

	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session tokens",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.state.Clear(); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}

			fmt.Fprintln(a.out, "Signed out")

			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	var check, hour12 bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if !session.IsAuthenticated(s.state) {
				fmt.Fprintln(a.out, "Not signed in")
				return nil
			}

			if at := s.state.SignedInAt(); !at.IsZero() {
				stamp := at.Format(time.RFC3339)
				fmt.Fprintf(a.out, "Signed in:     %s %s\n",
					timefmt.FormatDate(stamp, time.Local), timefmt.FormatTime(stamp, time.Local, hour12))
			}

			fmt.Fprintf(a.out, "Refresh token: %s\n", present(s.state.RefreshToken()))

			if info, ok := session.Inspect(s.state.AccessToken()); ok {
				fmt.Fprintf(a.out, "Account:       %s\n", info.Subject)

				if !info.ExpiresAt.IsZero() {
					stamp := info.ExpiresAt.Format(time.RFC3339)
					state := "valid"
					if info.Expired(time.Now()) {
						state = "expired, refreshed on next request"
					}

					fmt.Fprintf(a.out, "Access token:  %s until %s %s\n", state,
						timefmt.FormatDate(stamp, time.Local), timefmt.FormatTime(stamp, time.Local, hour12))
				}
			} else {
				fmt.Fprintf(a.out, "Access token:  %s\n", present(s.state.AccessToken()))
			}

			if !check {
				return nil
			}

			me, err := s.authed.Me(cmd.Context())
			if err := s.redirect.result(err); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Server says:   signed in as %s\n", me.Email)

			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "confirm the session with the API")
	cmd.Flags().BoolVar(&hour12, "12h", false, "show times on a 12-hour clock")

	return cmd
}

func (a *app) hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash of a password read from stdin, for DEV_USERS",
		Args:  cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, _ []string) error {
			password, err := readLine(a.in)
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}

			fmt.Fprintln(a.out, string(hash))

			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}

		return "", errors.New("no input")
	}

	line := strings.TrimRight(scanner.Text(), "\r")
	if line == "" {
		return "", errors.New("empty input")
	}

	return line, nil
}

func present(token string) string {
	if token == "" {
		return "none"
	}

	return "stored"
}
