// Package session replaces process-wide SDK state with explicit sessions.
//
// Initialize validates the caller's credentials, stores a Session and hands
// back a signed token. Every later call resolves that token back into the
// Session it carries.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const notInitializedMessage = "Call initialize() before using the SDK."

// Registrar records which libraries have been initialized
type Registrar interface {
	RecordRegistration(ctx context.Context, libraryID int64, cdnHostname, accessKey string) error
}

// InitializeParams are the arguments of initialize
type InitializeParams struct {
	AccessKey   string `json:"accessKey"`
	LibraryID   int64  `json:"libraryId"`
	CDNHostname string `json:"cdnHostname,omitempty"`
}

// Service creates and resolves sessions
type Service struct {
	store     Store
	registrar Registrar
	secret    []byte
	issuer    string
	ttl       time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewService creates a session service. registrar may be nil.
func NewService(cfg config.SessionConfig, store Store, registrar Registrar, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Service{
		store:     store,
		registrar: registrar,
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		ttl:       ttl,
		logger:    logger.WithComponent("session"),
		now:       time.Now,
	}
}

// Initialize registers an access key and library and returns the new session
// together with its token. A blank CDN hostname means the default host.
func (s *Service) Initialize(ctx context.Context, params InitializeParams) (*models.Session, string, error) {
	accessKey := strings.TrimSpace(params.AccessKey)
	if accessKey == "" {
		return nil, "", apperr.InvalidArgument("accessKey is required.")
	}
	if params.LibraryID <= 0 {
		return nil, "", apperr.InvalidArgument("libraryId must be a positive integer.")
	}

	now := s.now().UTC()
	sess := &models.Session{
		ID:          uuid.New().String(),
		AccessKey:   accessKey,
		LibraryID:   params.LibraryID,
		CDNHostname: strings.TrimSpace(params.CDNHostname),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	if err := s.store.Save(ctx, sess, s.ttl); err != nil {
		return nil, "", apperr.Wrap(apperr.CodeInternal, err, "failed to store session")
	}

	token, err := s.issueToken(sess.ID, sess.LibraryID, now, sess.ExpiresAt)
	if err != nil {
		_ = s.store.Delete(ctx, sess.ID)
		return nil, "", apperr.Wrap(apperr.CodeInternal, err, "failed to issue session token")
	}

	if s.registrar != nil {
		if err := s.registrar.RecordRegistration(ctx, sess.LibraryID, sess.CDNHostname, accessKey); err != nil {
			s.logger.WithSessionID(sess.ID).WithLibraryID(sess.LibraryID).WithError(err).Warn("Failed to record library registration")
		}
	}

	metrics.RecordSessionInitialized()
	s.logger.WithSessionID(sess.ID).WithLibraryID(sess.LibraryID).
		WithField("key_fingerprint", sess.KeyFingerprint()).
		WithField("custom_host", sess.CDNHostname != "").
		Info("Session initialized")

	return sess, token, nil
}

// Resolve turns a session token back into its session. Any failure is
// reported as NOT_INITIALIZED.
func (s *Service) Resolve(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.NotInitialized(notInitializedMessage)
	}

	claims, err := s.parseToken(token)
	if err != nil {
		s.logger.WithError(err).Debug("Rejected session token")
		return nil, apperr.NotInitialized(notInitializedMessage)
	}

	return s.Lookup(ctx, claims.SessionID)
}

// Lookup loads a session by id
func (s *Service) Lookup(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, apperr.NotInitialized(notInitializedMessage)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load session")
	}
	return sess, nil
}

// Revoke ends a session before its token expires
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to revoke session")
	}
	return nil
}
