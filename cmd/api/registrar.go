package main

import (
	"context"

	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

type registrationRecorder interface {
	RecordRegistration(ctx context.Context, libraryID int64, cdnHostname, accessKey string) (*models.LibraryRegistration, error)
}

type registrationNotifier interface {
	NotifyLibraryRegistered(ctx context.Context, reg *models.LibraryRegistration) error
}

// registrar persists library registrations and announces new libraries
type registrar struct {
	repo     registrationRecorder
	notifier registrationNotifier
	logger   *logging.Logger
}

func (r *registrar) RecordRegistration(ctx context.Context, libraryID int64, cdnHostname, accessKey string) error {
	reg, err := r.repo.RecordRegistration(ctx, libraryID, cdnHostname, accessKey)
	if err != nil {
		return err
	}

	logger := r.logger.WithLibraryID(libraryID)
	if reg.KeyRotated {
		logger.Info("Library initialized with a new access key")
	}
	if reg.IsFirst() && r.notifier != nil {
		if err := r.notifier.NotifyLibraryRegistered(ctx, reg); err != nil {
			logger.WithError(err).Warn("Failed to send library.registered webhook")
		}
	}
	return nil
}
