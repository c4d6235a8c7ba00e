// Package mailsync reconciles the local mirror with a remote mailbox: the
// folder list first, then the messages and flags of each folder.
package mailsync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/pkg/types"
)

// FolderResult counts the changes made by one FolderSync run
type FolderResult struct {
	Added   int
	Ignored int
	Removed int
}

// FolderSync reconciles the remote folder list with the saved folders
type FolderSync struct {
	store  *cache.Store
	config *config.Config
	cp     *checkpoint.Checkpoint
	logger *logrus.Logger
}

// NewFolderSync creates a folder reconciler
func NewFolderSync(store *cache.Store, cfg *config.Config, cp *checkpoint.Checkpoint, logger *logrus.Logger) *FolderSync {
	return &FolderSync{
		store:  store,
		config: cfg,
		cp:     cp,
		logger: logger,
	}
}

// Run inserts remote folders that are not saved yet, soft-deletes saved
// folders the server no longer lists and leaves the rest untouched
func (s *FolderSync) Run(ctx context.Context, account *types.Account, remote []string) (*FolderResult, error) {
	saved, err := s.store.GetFolders(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load folders of %s: %w", account.Name, err)
	}

	savedByName := make(map[string]types.Folder, len(saved))
	for _, f := range saved {
		savedByName[f.Name] = f
	}
	remoteNames := make(map[string]bool, len(remote))
	for _, name := range remote {
		remoteNames[name] = true
	}

	log := s.logger.WithField("account", account.Name)
	res := &FolderResult{}

	for _, name := range remote {
		if _, ok := savedByName[name]; ok {
			continue
		}
		if name == "" {
			continue
		}
		folder := &types.Folder{
			AccountID: account.ID,
			Name:      name,
			Ignored:   s.config.IsIgnoredFolder(name),
		}
		if _, err := s.store.InsertFolder(ctx, folder); err != nil {
			if cache.IsValidation(err) {
				log.WithError(err).WithField("folder", name).Warn("Skipping invalid folder")
				continue
			}
			return res, err
		}
		// Reserve the name so a duplicate in the remote list is not inserted twice
		savedByName[name] = *folder
		res.Added++
		if folder.Ignored {
			res.Ignored++
		}
		log.WithFields(logrus.Fields{"folder": name, "ignored": folder.Ignored}).Info("Folder added")

		if err := s.cp.Check(ctx); err != nil {
			return res, err
		}
	}

	for _, f := range saved {
		if remoteNames[f.Name] {
			continue
		}
		if err := s.store.SoftDeleteFolder(ctx, f.ID); err != nil {
			return res, err
		}
		res.Removed++
		log.WithField("folder", f.Name).Info("Folder removed")

		if err := s.cp.Check(ctx); err != nil {
			return res, err
		}
	}

	return res, nil
}
