// Package worker runs the sync cycle of one account: pending tasks first,
// then folders, messages and threads.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/internal/mailsync"
	"github.com/brandon/mail-sync/internal/metrics"
	"github.com/brandon/mail-sync/internal/thread"
	"github.com/brandon/mail-sync/pkg/types"
)

// CycleResult summarizes one sync cycle
type CycleResult struct {
	Tasks         *actions.QueueResult
	Folders       *mailsync.FolderResult
	Messages      mailsync.Result
	FailedFolders int
	Threads       *thread.Result
}

// Worker owns one account's mailbox connection and the components that
// use it. It is not safe for concurrent use.
type Worker struct {
	account  *types.Account
	mbox     email.Mailbox
	sender   email.Sender
	store    *cache.Store
	interval time.Duration

	queue    *actions.Queue
	folders  *mailsync.FolderSync
	messages *mailsync.MessageSync
	threads  *thread.Engine
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// New creates the worker of account
func New(store *cache.Store, cfg *config.Config, account *types.Account, mbox email.Mailbox, sender email.Sender, m *metrics.Metrics, logger *logrus.Logger) (*Worker, error) {
	cp := checkpoint.New(cfg.CheckpointGCEvery)
	engine, err := thread.NewEngine(store, thread.Options{
		BatchSize:       cfg.ThreadBatchSize,
		CommitBatchSize: cfg.CommitBatchSize,
	}, cp, m, logger)
	if err != nil {
		return nil, err
	}

	return &Worker{
		account:  account,
		mbox:     mbox,
		sender:   sender,
		store:    store,
		interval: cfg.SyncInterval,
		queue:    actions.NewQueue(store, cp, m, logger),
		folders:  mailsync.NewFolderSync(store, cfg, cp, logger),
		messages: mailsync.NewMessageSync(store, cp, m, logger),
		threads:  engine,
		metrics:  m,
		logger:   logger,
	}, nil
}

// Account returns the account the worker syncs
func (w *Worker) Account() *types.Account {
	return w.account
}

// Queue returns the worker's action queue
func (w *Worker) Queue() *actions.Queue {
	return w.queue
}

// fatal reports whether err must end the cycle
func fatal(err error) bool {
	return checkpoint.IsHalted(err) || errors.Is(err, cache.ErrConnectionLost) || errors.Is(err, context.Canceled)
}

// RunCycle runs one pass over the account. Pending tasks reach the server
// before the flag re-sync reads it back; threads are built after every
// folder has been synced. A failing folder is logged and skipped.
func (w *Worker) RunCycle(ctx context.Context) (*CycleResult, error) {
	log := w.logger.WithField("account", w.account.Name)
	res := &CycleResult{}
	start := time.Now()

	tasks, err := w.queue.Run(ctx, w.mbox, w.sender, w.account)
	res.Tasks = tasks
	if err != nil {
		if fatal(err) {
			return res, err
		}
		log.WithError(err).Error("Failed to process tasks")
	}

	remote, err := w.mbox.ListFolders()
	if err != nil {
		return res, fmt.Errorf("failed to list folders, check IMAP connectivity: %w", err)
	}
	if res.Folders, err = w.folders.Run(ctx, w.account, remote); err != nil {
		return res, err
	}

	folders, err := w.store.GetFolders(ctx, w.account.ID)
	if err != nil {
		return res, err
	}
	for i := range folders {
		folder := &folders[i]
		if folder.Ignored {
			continue
		}
		fr, err := w.messages.Run(ctx, w.mbox, w.account, folder)
		if fr != nil {
			res.Messages.Downloaded += fr.Downloaded
			res.Messages.Skipped += fr.Skipped
			res.Messages.Deleted += fr.Deleted
			res.Messages.FlagWrites += fr.FlagWrites
			res.Messages.StatWrites += fr.StatWrites
		}
		if err != nil {
			if fatal(err) {
				return res, err
			}
			log.WithError(err).WithField("folder", folder.Name).Error("Failed to sync folder")
			w.metrics.FolderFailed(w.account.Name)
			res.FailedFolders++
		}
	}

	if res.Threads, err = w.threads.Run(ctx, w.account); err != nil {
		return res, err
	}

	log.WithFields(logrus.Fields{
		"downloaded":     res.Messages.Downloaded,
		"failed_folders": res.FailedFolders,
		"threads":        res.Threads.Changed,
		"duration":       time.Since(start).Round(time.Millisecond),
	}).Info("Sync cycle finished")
	return res, nil
}

// Run repeats RunCycle every sync interval until ctx is done. A failed
// cycle is logged and retried at the next tick; a lost database ends the run.
func (w *Worker) Run(ctx context.Context) error {
	log := w.logger.WithField("account", w.account.Name)
	interval := w.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := w.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			log.Info("Worker stopped")
			return nil
		case errors.Is(err, cache.ErrConnectionLost):
			return err
		case err != nil:
			log.WithError(err).Error("Sync cycle failed")
		}

		select {
		case <-ctx.Done():
			log.Info("Worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
