package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("record not found")

// Repository provides database operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Repository{db: db, logger: logger.WithComponent("database")}
}

// observe records the outcome of one repository call
func (r *Repository) observe(operation string, start time.Time, err error) {
	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status, duration.Seconds())
	r.logger.LogDatabaseOperation(operation, duration, err)
}

// Library registrations

// hashAccessKey bcrypts a digest of the key, since bcrypt only reads 72 bytes
func hashAccessKey(accessKey string) (string, error) {
	sum := sha256.Sum256([]byte(accessKey))
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(sum[:])), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash access key: %w", err)
	}
	return string(hash), nil
}

func accessKeyMatches(hash, accessKey string) bool {
	sum := sha256.Sum256([]byte(accessKey))
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(hex.EncodeToString(sum[:]))) == nil
}

// RecordRegistration upserts the registration of a library and bumps its
// session count. The stored key hash is replaced when a different key is used.
func (r *Repository) RecordRegistration(ctx context.Context, libraryID int64, cdnHostname, accessKey string) (reg *models.LibraryRegistration, err error) {
	defer func(start time.Time) { r.observe("record_registration", start, err) }(time.Now())

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	reg = &models.LibraryRegistration{LibraryID: libraryID}
	err = tx.QueryRow(ctx, `
		SELECT access_key_hash, session_count, first_seen_at
		FROM library_registrations
		WHERE library_id = $1
		FOR UPDATE
	`, libraryID).Scan(&reg.AccessKeyHash, &reg.SessionCount, &reg.FirstSeenAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if reg.AccessKeyHash, err = hashAccessKey(accessKey); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load registration: %w", err)
	case !accessKeyMatches(reg.AccessKeyHash, accessKey):
		if reg.AccessKeyHash, err = hashAccessKey(accessKey); err != nil {
			return nil, err
		}
		reg.KeyRotated = true
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO library_registrations (library_id, cdn_hostname, access_key_hash, session_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (library_id) DO UPDATE
		SET cdn_hostname = EXCLUDED.cdn_hostname,
		    access_key_hash = EXCLUDED.access_key_hash,
		    session_count = library_registrations.session_count + 1,
		    last_seen_at = NOW()
		RETURNING cdn_hostname, session_count, first_seen_at, last_seen_at
	`, libraryID, cdnHostname, reg.AccessKeyHash).Scan(
		&reg.CDNHostname, &reg.SessionCount, &reg.FirstSeenAt, &reg.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record registration: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return reg, nil
}

// Export jobs

const exportColumns = `id, session_id, library_id, collection_id, status, object_key, video_count,
	error_code, error_msg, started_at, completed_at, created_at, updated_at`

func scanExportJob(row pgx.Row) (*models.ExportJob, error) {
	var job models.ExportJob
	err := row.Scan(
		&job.ID, &job.SessionID, &job.LibraryID, &job.CollectionID, &job.Status,
		&job.ObjectKey, &job.VideoCount, &job.ErrorCode, &job.ErrorMsg,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateExportJob creates a new export job record
func (r *Repository) CreateExportJob(ctx context.Context, job *models.ExportJob) (err error) {
	defer func(start time.Time) { r.observe("create_export_job", start, err) }(time.Now())

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusPending
	}

	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO export_jobs (id, session_id, library_id, collection_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, job.ID, job.SessionID, job.LibraryID, job.CollectionID, job.Status).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	return nil
}

// GetExportJob retrieves an export job by ID
func (r *Repository) GetExportJob(ctx context.Context, id string) (job *models.ExportJob, err error) {
	defer func(start time.Time) { r.observe("get_export_job", start, err) }(time.Now())

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrNotFound
	}

	job, err = scanExportJob(r.db.Pool.QueryRow(ctx, `SELECT `+exportColumns+` FROM export_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	return job, nil
}

// UpdateExportJob persists the mutable fields of an export job
func (r *Repository) UpdateExportJob(ctx context.Context, job *models.ExportJob) (err error) {
	defer func(start time.Time) { r.observe("update_export_job", start, err) }(time.Now())

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = $2, object_key = $3, video_count = $4, error_code = $5, error_msg = $6,
		    started_at = $7, completed_at = $8, updated_at = NOW()
		WHERE id = $1
	`, job.ID, job.Status, job.ObjectKey, job.VideoCount, job.ErrorCode, job.ErrorMsg,
		job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update export job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExportJobs lists a session's most recent export jobs of a library
func (r *Repository) ListExportJobs(ctx context.Context, sessionID string, libraryID int64, limit int) (jobs []*models.ExportJob, err error) {
	defer func(start time.Time) { r.observe("list_export_jobs", start, err) }(time.Now())

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+exportColumns+`
		FROM export_jobs
		WHERE session_id = $1 AND library_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, sessionID, libraryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Webhook deliveries

// ExportJobStats counts export jobs by status
func (r *Repository) ExportJobStats(ctx context.Context) (stats map[string]int64, err error) {
	defer func(start time.Time) { r.observe("export_job_stats", start, err) }(time.Now())

	rows, err := r.db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM export_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count export jobs: %w", err)
	}
	defer rows.Close()

	stats = make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan export job stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CreateDelivery records a webhook delivery
func (r *Repository) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) (err error) {
	defer func(start time.Time) { r.observe("create_webhook_delivery", start, err) }(time.Now())

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_url, event, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.EndpointURL, d.Event, d.Payload, d.Status, d.Attempts, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

// UpdateDelivery records the outcome of a delivery attempt
func (r *Repository) UpdateDelivery(ctx context.Context, d *models.WebhookDelivery) (err error) {
	defer func(start time.Time) { r.observe("update_webhook_delivery", start, err) }(time.Now())

	_, err = r.db.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, status_code = $3, attempts = $4, last_error = $5, completed_at = $6
		WHERE id = $1
	`, d.ID, d.Status, d.StatusCode, d.Attempts, d.LastError, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	return nil
}
