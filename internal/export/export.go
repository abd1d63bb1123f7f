// Package export snapshots a library's video catalog into object storage.
//
// The API creates and queues a job; a worker picks it up, pages through the
// library with the session's access key, uploads the snapshot as JSON and
// reports the outcome through webhooks.
package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/database"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/queue"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/storage"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const (
	lockTTL        = 10 * time.Minute
	statusCacheTTL = 5 * time.Minute

	defaultListLimit = 20
	maxListLimit     = 100
)

type Repository interface {
	CreateExportJob(ctx context.Context, job *models.ExportJob) error
	GetExportJob(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateExportJob(ctx context.Context, job *models.ExportJob) error
	ListExportJobs(ctx context.Context, sessionID string, libraryID int64, limit int) ([]*models.ExportJob, error)
}

type Publisher interface {
	PublishExport(ctx context.Context, msg *queue.ExportMessage) error
}

type VideoLister interface {
	ListAllVideos(ctx context.Context, accessKey string, libraryID int64, collectionID string, perPage int) ([]models.VideoMetadata, error)
}

type SnapshotStore interface {
	PutJSON(ctx context.Context, objectName string, value interface{}) (int64, error)
	GetURL(ctx context.Context, objectName string) (string, error)
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
}

type SessionResolver interface {
	Lookup(ctx context.Context, id string) (*models.Session, error)
}

type Notifier interface {
	NotifyExportCompleted(ctx context.Context, job *models.ExportJob) error
	NotifyExportFailed(ctx context.Context, job *models.ExportJob) error
}

// Locker keeps two workers from running the same job
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// StatusCache holds recently finished jobs for status polling
type StatusCache interface {
	SetExport(ctx context.Context, job *models.ExportJob, ttl time.Duration) error
	GetExport(ctx context.Context, exportID string) (*models.ExportJob, error)
}

// Deps are the collaborators of a Service. Only Repository is required by
// every method; Locker, Cache and Notifier may be nil.
type Deps struct {
	Repository Repository
	Publisher  Publisher
	Videos     VideoLister
	Store      SnapshotStore
	Sessions   SessionResolver
	Notifier   Notifier
	Locker     Locker
	Cache      StatusCache
	Logger     *logging.Logger
}

// Service creates, reports on and processes export jobs
type Service struct {
	Deps
	perPage   int
	keyPrefix string
	now       func() time.Time
}

func NewService(cfg config.ExportConfig, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	deps.Logger = deps.Logger.WithComponent("export")

	perPage := cfg.ItemsPerPage
	if perPage <= 0 {
		perPage = models.DefaultItemsPerPage
	}

	return &Service{
		Deps:      deps,
		perPage:   perPage,
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}
}

// Create records a new export of a library (or one collection) and queues it
func (s *Service) Create(ctx context.Context, sess *models.Session, libraryID int64, collectionID string) (*models.ExportJob, error) {
	if sess == nil {
		return nil, apperr.NotInitializedFor("exports")
	}
	if libraryID <= 0 {
		return nil, apperr.InvalidArgument("libraryId must be a positive integer.")
	}

	job := &models.ExportJob{
		SessionID:    sess.ID,
		LibraryID:    libraryID,
		CollectionID: strings.TrimSpace(collectionID),
		Status:       models.ExportStatusPending,
	}
	if err := s.Repository.CreateExportJob(ctx, job); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to create export")
	}

	logger := s.Logger.WithExportID(job.ID).WithLibraryID(libraryID)

	// queued is written before publishing; a fast worker may finish the job
	// before PublishExport returns.
	job.Status = models.ExportStatusQueued
	if err := s.Repository.UpdateExportJob(ctx, job); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to queue export")
	}

	if err := s.Publisher.PublishExport(ctx, &queue.ExportMessage{ExportID: job.ID, LibraryID: libraryID}); err != nil {
		job.Status = models.ExportStatusFailed
		job.ErrorCode = string(apperr.CodeInternal)
		job.ErrorMsg = "failed to queue export"
		if updateErr := s.Repository.UpdateExportJob(ctx, job); updateErr != nil {
			logger.WithError(updateErr).Error("Failed to mark unqueued export as failed")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to queue export")
	}

	metrics.RecordExportCreated()
	s.Logger.LogExportEvent(job.ID, "created", job.Status, map[string]interface{}{
		"collection_id": job.CollectionID,
	})
	return job, nil
}

// Get returns an export created by the same session. Completed exports carry a
// presigned download URL.
func (s *Service) Get(ctx context.Context, sess *models.Session, id string) (*models.ExportJob, error) {
	if sess == nil {
		return nil, apperr.NotInitializedFor("exports")
	}

	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.SessionID != sess.ID {
		return nil, apperr.NotFound("export %s not found", id)
	}

	if job.Status == models.ExportStatusCompleted && job.ObjectKey != "" && s.Store != nil {
		url, err := s.Store.GetURL(ctx, job.ObjectKey)
		if err != nil {
			s.Logger.WithExportID(id).WithError(err).Warn("Failed to presign export download")
		} else {
			job.DownloadURL = url
		}
	}
	return job, nil
}

// List returns the session's most recent exports of a library, newest first.
// A limit of zero means 20; larger limits are capped at 100.
func (s *Service) List(ctx context.Context, sess *models.Session, libraryID int64, limit int) ([]*models.ExportJob, error) {
	if sess == nil {
		return nil, apperr.NotInitializedFor("exports")
	}
	if libraryID <= 0 {
		return nil, apperr.InvalidArgument("libraryId must be a positive integer.")
	}
	switch {
	case limit < 0:
		return nil, apperr.InvalidArgument("limit must be a positive integer.")
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	jobs, err := s.Repository.ListExportJobs(ctx, sess.ID, libraryID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to list exports")
	}
	if jobs == nil {
		jobs = []*models.ExportJob{}
	}
	return jobs, nil
}

// OpenSnapshot streams the snapshot of a completed export. The caller closes
// the reader.
func (s *Service) OpenSnapshot(ctx context.Context, sess *models.Session, id string) (io.ReadCloser, *models.ExportJob, error) {
	if sess == nil {
		return nil, nil, apperr.NotInitializedFor("exports")
	}

	job, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.SessionID != sess.ID {
		return nil, nil, apperr.NotFound("export %s not found", id)
	}
	if job.Status != models.ExportStatusCompleted || job.ObjectKey == "" {
		return nil, nil, apperr.NotFound("export %s has no snapshot", id)
	}

	rc, err := s.Store.Download(ctx, job.ObjectKey)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeInternal, err, "failed to read export snapshot")
	}
	return rc, job, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.ExportJob, error) {
	if s.Cache != nil {
		cached, err := s.Cache.GetExport(ctx, id)
		if err != nil {
			s.Logger.WithExportID(id).WithError(err).Warn("Export status cache read failed")
		}
		metrics.RecordCacheAccess("export", cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	job, err := s.Repository.GetExportJob(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("export %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load export")
	}

	if job.IsTerminal() && s.Cache != nil {
		if err := s.Cache.SetExport(ctx, job, statusCacheTTL); err != nil {
			s.Logger.WithExportID(id).WithError(err).Warn("Export status cache write failed")
		}
	}
	return job, nil
}

// Process runs one queued export. Failures caused by the session or the
// vendor API end the job as failed; infrastructure errors are returned so the
// message is retried.
func (s *Service) Process(ctx context.Context, msg *queue.ExportMessage) error {
	logger := s.Logger.WithExportID(msg.ExportID)
	lockKey := "export:" + msg.ExportID

	if s.Locker != nil {
		acquired, err := s.Locker.AcquireLock(ctx, lockKey, lockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Info("Export already being processed")
			return nil
		}
		defer s.Locker.ReleaseLock(context.WithoutCancel(ctx), lockKey)
	}

	job, err := s.Repository.GetExportJob(ctx, msg.ExportID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("Dropping message for unknown export")
		return nil
	}
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	started := s.now().UTC()
	job.Status = models.ExportStatusProcessing
	job.StartedAt = &started
	if err := s.Repository.UpdateExportJob(ctx, job); err != nil {
		return err
	}
	s.Logger.LogExportEvent(job.ID, "started", job.Status, nil)

	sess, err := s.Sessions.Lookup(ctx, job.SessionID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			return err
		}
		return s.fail(ctx, job, err)
	}

	videos, err := s.Videos.ListAllVideos(ctx, sess.AccessKey, job.LibraryID, job.CollectionID, s.perPage)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	completed := s.now().UTC()
	key := storage.ExportKey(s.keyPrefix, job.LibraryID, job.ID)
	size, err := s.Store.PutJSON(ctx, key, &models.ExportSnapshot{
		ExportID:     job.ID,
		LibraryID:    job.LibraryID,
		CollectionID: job.CollectionID,
		ExportedAt:   completed,
		VideoCount:   len(videos),
		Videos:       videos,
	})
	if err != nil {
		return err
	}

	job.Status = models.ExportStatusCompleted
	job.ObjectKey = key
	job.VideoCount = len(videos)
	job.CompletedAt = &completed
	if err := s.Repository.UpdateExportJob(ctx, job); err != nil {
		return err
	}

	metrics.RecordExportCompleted(job.Status, completed.Sub(started).Seconds(), job.VideoCount)
	s.Logger.LogExportEvent(job.ID, "completed", job.Status, map[string]interface{}{
		"video_count": job.VideoCount,
		"object_key":  key,
		"bytes":       size,
	})
	s.finished(ctx, job)
	return nil
}

// Abandon fails a job whose message was dead-lettered after exhausting its
// retries. It matches queue.DeadLetterHandler.
func (s *Service) Abandon(ctx context.Context, msg *queue.ExportMessage, reason string) error {
	job, err := s.Repository.GetExportJob(ctx, msg.ExportID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	s.Logger.WithExportID(job.ID).WithField("reason", reason).Warn("Abandoning export")
	return s.fail(ctx, job, apperr.New(apperr.CodeInternal, "export abandoned: %s", reason))
}

func (s *Service) fail(ctx context.Context, job *models.ExportJob, cause error) error {
	_, body := apperr.ToBody(cause)
	completed := s.now().UTC()

	job.Status = models.ExportStatusFailed
	job.ErrorCode = string(body.Code)
	job.ErrorMsg = body.Message
	job.CompletedAt = &completed
	if err := s.Repository.UpdateExportJob(ctx, job); err != nil {
		return err
	}

	var elapsed float64
	if job.StartedAt != nil {
		elapsed = completed.Sub(*job.StartedAt).Seconds()
	}
	metrics.RecordExportCompleted(job.Status, elapsed, 0)
	s.Logger.LogExportEvent(job.ID, "failed", job.Status, map[string]interface{}{
		"error_code": job.ErrorCode,
		"error":      job.ErrorMsg,
	})
	s.finished(ctx, job)
	return nil
}

func (s *Service) finished(ctx context.Context, job *models.ExportJob) {
	if s.Cache != nil {
		if err := s.Cache.SetExport(ctx, job, statusCacheTTL); err != nil {
			s.Logger.WithExportID(job.ID).WithError(err).Warn("Export status cache write failed")
		}
	}
	if s.Notifier == nil {
		return
	}

	var err error
	if job.Status == models.ExportStatusCompleted {
		err = s.Notifier.NotifyExportCompleted(ctx, job)
	} else {
		err = s.Notifier.NotifyExportFailed(ctx, job)
	}
	if err != nil {
		s.Logger.WithExportID(job.ID).WithError(err).Warn("Failed to send export webhook")
	}
}
