package captcha

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/metrics"
	"github.com/keyxmakerx/sentinel/internal/security"
)

// Challenge is a freshly issued challenge ready to be served.
type Challenge struct {
	// Key binds the browser to the stored record.
	Key string

	// Image is the rendered PNG.
	Image []byte

	ExpiresAt time.Time
}

// Service issues and checks image challenges.
type Service struct {
	store     ChallengeStore
	generator *Generator
	lifetime  time.Duration

	// nowFunc is swapped in tests to move the clock.
	nowFunc func() time.Time
}

// NewService creates a challenge service from the image settings.
func NewService(store ChallengeStore, props config.ImageCodeProperties) *Service {
	return &Service{
		store:     store,
		generator: NewGenerator(props.Length, props.Width, props.Height),
		lifetime:  props.Expiry(),
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Issue generates a code, stores it under a new key and renders the image.
func (s *Service) Issue(ctx context.Context) (*Challenge, error) {
	code, err := s.generator.Code()
	if err != nil {
		return nil, err
	}
	return s.issueCode(ctx, code)
}

// issueCode stores code under a new key and renders it.
func (s *Service) issueCode(ctx context.Context, code string) (*Challenge, error) {
	rec := ChallengeRecord{Code: code, ExpiresAt: s.nowFunc().Add(s.lifetime)}
	key := uuid.NewString()
	if err := s.store.Save(ctx, key, rec); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := s.generator.WritePNG(&buf, code); err != nil {
		return nil, fmt.Errorf("rendering challenge image: %w", err)
	}

	metrics.ChallengesIssued.Inc()
	return &Challenge{Key: key, Image: buf.Bytes(), ExpiresAt: rec.ExpiresAt}, nil
}

// Validate consumes the challenge under key and checks answer against it.
// The record is gone afterwards whatever the result, so each challenge
// admits exactly one attempt. Rejections are *security.AuthError values.
func (s *Service) Validate(ctx context.Context, key, answer string) error {
	if key == "" {
		return s.reject(security.ChallengeMissing)
	}

	rec, err := s.store.Take(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return s.reject(security.ChallengeMissing)
	}
	if rec.IsExpired(s.nowFunc()) {
		return s.reject(security.ChallengeExpired)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" || !strings.EqualFold(answer, rec.Code) {
		return s.reject(security.ChallengeMismatch)
	}

	metrics.ChallengeChecks.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) reject(kind security.FailureKind) error {
	metrics.ChallengeChecks.WithLabelValues(challengeResult(kind)).Inc()
	slog.Debug("challenge rejected", slog.String("kind", string(kind)))
	return security.NewAuthError(kind)
}

// challengeResult maps a failure kind to its metric label.
func challengeResult(kind security.FailureKind) string {
	switch kind {
	case security.ChallengeMissing:
		return "missing"
	case security.ChallengeExpired:
		return "expired"
	default:
		return "mismatch"
	}
}
