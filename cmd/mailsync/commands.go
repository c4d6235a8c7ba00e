package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/credential"
	"github.com/brandon/mail-sync/internal/mcp"
	"github.com/brandon/mail-sync/internal/worker"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// runWorkers runs every worker and the metrics listener until ctx is done.
// A worker only returns an error when the database is gone.
func runWorkers(ctx context.Context, a *app, g *errgroup.Group, workers []*worker.Worker) {
	for _, w := range workers {
		g.Go(func() error {
			return a.fatalOnLostDB(w.Run(ctx))
		})
	}
	g.Go(func() error {
		return a.serveMetrics(ctx)
	})
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync every active account until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			workers, err := a.workers(ctx)
			if err != nil {
				return a.fatalOnLostDB(err)
			}

			g, gctx := errgroup.WithContext(ctx)
			runWorkers(gctx, a, g, workers)
			a.logger.WithField("accounts", len(workers)).Info("Sync workers started")

			err = g.Wait()
			a.logger.Info("Sync workers stopped")
			return a.fatalOnLostDB(err)
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle for every active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			workers, err := a.workers(ctx)
			if err != nil {
				return a.fatalOnLostDB(err)
			}

			var failed int
			for _, w := range workers {
				res, err := w.RunCycle(ctx)
				if err != nil {
					a.fatalOnLostDB(err) //nolint:errcheck
					fmt.Fprintf(os.Stderr, "%s: sync failed: %v\n", w.Account().Name, err)
					failed++
					continue
				}
				fmt.Printf("%s: %s downloaded, %s skipped, %d deleted, %d tasks done, %d failed, %d folders failed, %d thread changes\n",
					w.Account().Name,
					humanize.Comma(int64(res.Messages.Downloaded)),
					humanize.Comma(int64(res.Messages.Skipped)),
					res.Messages.Deleted,
					res.Tasks.Done, res.Tasks.Failed,
					res.FailedFolders, res.Threads.Changed)
				if res.Tasks.Failed > 0 {
					fmt.Fprintln(os.Stderr, "  list failed tasks in the log and run `mailsync retry <id>` once the cause is fixed")
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed to sync", failed, len(workers))
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mail tools over stdio while the account workers sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			queue := actions.NewQueue(a.store, checkpoint.New(a.cfg.CheckpointGCEvery), a.metrics, a.logger)
			server, err := mcp.NewServer(a.cfg, a.store, queue, a.logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			serveCtx, done := context.WithCancel(gctx)
			defer done()

			if !noSync {
				workers, err := a.workers(ctx)
				if err != nil {
					a.logger.WithError(a.fatalOnLostDB(err)).Warn("Serving tools without sync workers")
				} else {
					runWorkers(serveCtx, a, g, workers)
				}
			}
			g.Go(func() error {
				// stdin closing ends the session and the workers with it
				defer done()
				return server.Run(serveCtx)
			})

			return a.fatalOnLostDB(g.Wait())
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Serve the tools without starting sync workers")
	return cmd
}

func rollbackCmd() *cobra.Command {
	var accountName, batchID string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert recorded changes: all pending tasks of an account, or one batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (accountName == "") == (batchID == "") {
				return errors.New("exactly one of --account or --batch is required")
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			rb := actions.NewRollback(a.store, a.cfg.CommitBatchSize, a.logger)
			var n int
			if batchID != "" {
				n, err = rb.Batch(ctx, batchID)
			} else {
				var id int64
				if id, err = a.store.GetAccountID(ctx, accountName); err == nil {
					n, err = rb.All(ctx, id)
				}
			}
			if err != nil {
				return a.fatalOnLostDB(err)
			}
			fmt.Printf("%d tasks reverted\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountName, "account", "", "Revert every pending task of this account")
	cmd.Flags().StringVar(&batchID, "batch", "", "Revert the tasks of this batch")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Queue a failed task for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			queue := actions.NewQueue(a.store, checkpoint.New(a.cfg.CheckpointGCEvery), a.metrics, a.logger)
			task, err := queue.Retry(ctx, id)
			switch {
			case errors.Is(err, actions.ErrRetryLimit):
				return fmt.Errorf("%w: revert it with `mailsync rollback --batch %s`", err, task.BatchID)
			case err != nil:
				return a.fatalOnLostDB(err)
			}
			fmt.Printf("task %d (%s) queued, attempt %d of %d\n", task.ID, task.Type, task.Retries+1, actions.MaxRetries)
			return nil
		},
	}
}

func passwordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "password <account> <imap|smtp>",
		Short: "Store an account password in the system keyring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.ToLower(args[1])
			if kind != "imap" && kind != "smtp" {
				return fmt.Errorf("unknown password kind %q: expected imap or smtp", args[1])
			}

			fmt.Fprintf(os.Stderr, "%s %s password: ", args[0], kind)
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(b) == 0 {
				return errors.New("empty password")
			}
			return credential.Set(args[0]+"/"+kind, string(b))
		},
	}
}
