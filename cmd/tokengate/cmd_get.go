package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/tokengate/internal/api"
	"github.com/alexjbarnes/tokengate/internal/poll"
	"github.com/alexjbarnes/tokengate/internal/timefmt"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

var errPollTimeout = errors.New("polling timed out")

func (a *app) getCmd() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send an authenticated GET and print the response body",
		Long: `Send an authenticated GET request. With --parallel N the same request is
sent N times at once; if the access token has expired they share a single
refresh.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1")
			}

			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			path := apiPath(args[0])
			bodies := make([][]byte, parallel)

			g, gctx := errgroup.WithContext(cmd.Context())
			for i := range parallel {
				g.Go(func() error {
					body, err := s.authed.GetRaw(gctx, path)
					if err != nil {
						return err
					}

					bodies[i] = body

					return nil
				})
			}

			err = g.Wait()

			a.logger.Debug("requests finished",
				slog.String("path", path),
				slog.Int("parallel", parallel),
				slog.Int64("refreshes", s.coordinator.Refreshes()),
			)

			if err := s.redirect.result(err); err != nil {
				return err
			}

			for _, body := range bodies {
				fmt.Fprintln(a.out, strings.TrimRight(string(body), "\n"))
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 1, "number of concurrent requests")

	return cmd
}

func (a *app) pollCmd() *cobra.Command {
	var (
		interval, timeout time.Duration
		field, until      string
		hour12            bool
	)

	cmd := &cobra.Command{
		Use:   "poll <path>",
		Short: "GET a resource repeatedly until a field reaches a value",
		Long: `Poll a JSON resource until the value at --field (a gjson path) equals
--until, or --timeout passes. Each poll prints the field; a createdAt or
completedAt timestamp in the response is shown in local time. Network
errors, 5xx and 429 responses are retried at the next interval; any other
error ends polling.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.PollInterval
			}

			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.PollTimeout
			}

			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}

			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			path := apiPath(args[0])

			var (
				mu      sync.Mutex
				pollErr error
				outcome error
			)

			p := poll.New(poll.Config{
				Interval: interval,
				Timeout:  timeout,
				Logger:   a.logger,
				OnPoll: func(ctx context.Context) (bool, error) {
					body, err := s.authed.GetRaw(ctx, path)
					if err != nil {
						if s.redirect.fired.Load() || !api.IsTransient(err) {
							mu.Lock()
							pollErr = err
							mu.Unlock()

							return false, nil
						}

						return true, err
					}

					value := gjson.GetBytes(body, field).String()
					fmt.Fprintf(a.out, "%s = %s\n", field, value)

					if value != until {
						return true, nil
					}

					for _, key := range []string{"createdAt", "completedAt"} {
						if ts := gjson.GetBytes(body, key); ts.Exists() {
							fmt.Fprintf(a.out, "%s: %s %s\n", key,
								timefmt.FormatDate(ts.String(), time.Local),
								timefmt.FormatTime(ts.String(), time.Local, hour12))
						}
					}

					return false, nil
				},
				OnTimeout: func() {
					mu.Lock()
					outcome = fmt.Errorf("%w after %s", errPollTimeout, timeout)
					mu.Unlock()
				},
			})

			p.Start(cmd.Context())

			select {
			case <-p.Done():
			case <-cmd.Context().Done():
				p.Stop()
				<-p.Done()

				return cmd.Context().Err()
			}

			mu.Lock()
			defer mu.Unlock()

			if pollErr != nil {
				return s.redirect.result(pollErr)
			}

			return outcome
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "time between polls (default POLL_INTERVAL)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long, 0 for never (default POLL_TIMEOUT)")
	cmd.Flags().StringVar(&field, "field", "status", "gjson path of the field to watch")
	cmd.Flags().StringVar(&until, "until", "done", "value of --field that ends polling")
	cmd.Flags().BoolVar(&hour12, "12h", false, "show times on a 12-hour clock")

	return cmd
}

func (a *app) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Work with server-side jobs",
	}

	var steps int

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Start a job and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			job, err := s.authed.CreateJob(cmd.Context(), args[0], steps)
			if err := s.redirect.result(err); err != nil {
				return err
			}

			fmt.Fprintln(a.out, job.ID)

			return nil
		},
	}
	create.Flags().IntVar(&steps, "steps", 3, "status polls the job takes to finish")

	cmd.AddCommand(create)

	return cmd
}

// apiPath makes a command-line path absolute.
func apiPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}

	return "/" + p
}
