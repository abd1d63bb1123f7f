package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	DeliveryHeader  = "X-Webhook-Delivery"
)

// Recorder persists delivery attempts
type Recorder interface {
	CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
}

// Service delivers gateway events to the configured endpoints
type Service struct {
	client      *http.Client
	endpoints   []models.WebhookEndpoint
	recorder    Recorder
	maxAttempts int
	retryDelay  time.Duration
	logger      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a webhook service. recorder may be nil.
func NewService(cfg config.WebhookConfig, recorder Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client:      &http.Client{Timeout: timeout},
		endpoints:   cfg.Endpoints,
		recorder:    recorder,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryDelay,
		logger:      logger.WithComponent("webhook"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Notify sends an event to every subscribed endpoint in the background
func (s *Service) Notify(ctx context.Context, event string, data interface{}) error {
	payload, err := json.Marshal(models.WebhookEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, endpoint := range s.endpoints {
		if !endpoint.Subscribes(event) {
			continue
		}

		delivery := &models.WebhookDelivery{
			ID:          uuid.New().String(),
			EndpointURL: endpoint.URL,
			Event:       event,
			Payload:     payload,
			Status:      models.WebhookDeliveryStatusPending,
			CreatedAt:   time.Now(),
		}

		if s.recorder != nil {
			if err := s.recorder.CreateDelivery(ctx, delivery); err != nil {
				s.logger.WithError(err).Warn("Failed to record webhook delivery")
			}
		}

		s.wg.Add(1)
		go func(endpoint models.WebhookEndpoint) {
			defer s.wg.Done()
			s.deliver(s.ctx, endpoint, delivery)
		}(endpoint)
	}

	return nil
}

// Close stops pending retries and waits for in-flight deliveries
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	s.client.CloseIdleConnections()
}

// Wait blocks until all started deliveries have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) deliver(ctx context.Context, endpoint models.WebhookEndpoint, delivery *models.WebhookDelivery) {
	logger := s.logger.WithField("delivery_id", delivery.ID).WithField("event", delivery.Event)

	for delivery.Attempts < s.maxAttempts {
		if delivery.Attempts > 0 && s.retryDelay > 0 {
			select {
			case <-ctx.Done():
				delivery.LastError = ctx.Err().Error()
				s.finish(delivery, models.WebhookDeliveryStatusFailed)
				return
			case <-time.After(s.retryDelay * time.Duration(delivery.Attempts)):
			}
		}

		delivery.Attempts++
		statusCode, err := s.attempt(ctx, endpoint, delivery)
		delivery.StatusCode = statusCode
		if err == nil {
			delivery.LastError = ""
			s.finish(delivery, models.WebhookDeliveryStatusDelivered)
			return
		}

		delivery.LastError = err.Error()
		logger.WithError(err).WithField("attempt", delivery.Attempts).Warn("Webhook delivery attempt failed")
	}

	s.finish(delivery, models.WebhookDeliveryStatusFailed)
}

func (s *Service) attempt(ctx context.Context, endpoint models.WebhookEndpoint, delivery *models.WebhookDelivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "BunnyStream-Webhook/1.0")
	req.Header.Set(EventHeader, delivery.Event)
	req.Header.Set(DeliveryHeader, delivery.ID)
	if endpoint.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(delivery.Payload, endpoint.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *Service) finish(delivery *models.WebhookDelivery, status string) {
	now := time.Now()
	delivery.Status = status
	delivery.CompletedAt = &now
	metrics.RecordWebhookDelivery(delivery.Event, status)

	if s.recorder != nil {
		// the service context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recorder.UpdateDelivery(ctx, delivery); err != nil {
			s.logger.WithError(err).Warn("Failed to update webhook delivery")
		}
	}
}

// Sign returns the HMAC-SHA256 signature header value for a payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// NotifyExportCompleted sends export.completed
func (s *Service) NotifyExportCompleted(ctx context.Context, job *models.ExportJob) error {
	return s.Notify(ctx, models.WebhookEventExportCompleted, job)
}

// NotifyExportFailed sends export.failed
func (s *Service) NotifyExportFailed(ctx context.Context, job *models.ExportJob) error {
	return s.Notify(ctx, models.WebhookEventExportFailed, job)
}

// NotifyLibraryRegistered sends library.registered
func (s *Service) NotifyLibraryRegistered(ctx context.Context, reg *models.LibraryRegistration) error {
	return s.Notify(ctx, models.WebhookEventLibraryRegistered, reg)
}
