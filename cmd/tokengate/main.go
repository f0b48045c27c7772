package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/tokengate/internal/config"
	"github.com/alexjbarnes/tokengate/internal/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stdin).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs once the root command has loaded
// the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	in     io.Reader
}

func newRootCmd(out io.Writer, in io.Reader) *cobra.Command {
	a := &app{out: out, in: in}

	root := &cobra.Command{
		Use:   "tokengate",
		Short: "Talk to a bearer-token protected API with automatic token refresh",
		Long: `tokengate signs in to a JSON API, keeps the session tokens in a local
database, and sends authenticated requests. Expired access tokens are
refreshed once, however many requests fail at the same time, and the
failed requests are replayed with the new token.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			a.cfg = cfg
			a.logger = logging.NewLogger(cfg.Environment, cfg.LogLevel)

			return nil
		},
	}

	root.SetOut(out)
	root.SetIn(in)

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.statusCmd(),
		a.getCmd(),
		a.pollCmd(),
		a.jobsCmd(),
		a.serveDevCmd(),
		a.hashPasswordCmd(),
	)

	return root
}
