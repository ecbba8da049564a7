package service

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
	apperrors "tai-ledger-api/pkg/errors"
)

const (
	DefaultCodeTTL  = 15 * time.Minute
	maxCodeAttempts = 5
)

// CodeStore keeps short-lived verification codes by key.
type CodeStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type SendCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6,numeric"`
}

// VerificationService issues one-time codes and confirms account emails.
// Codes are handed to the log instead of a mail transport.
type VerificationService interface {
	SendCode(ctx context.Context, req *SendCodeRequest) error
	VerifyCode(ctx context.Context, req *VerifyCodeRequest) (*models.Account, error)
}

type pendingCode struct {
	AccountID int64     `json:"account_id"`
	Code      string    `json:"code"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verificationService struct {
	ledger *engine.Ledger
	codes  CodeStore
	ttl    time.Duration
	now    func() time.Time
	newOTP func() string
	logger *logrus.Entry
}

func NewVerificationService(ledger *engine.Ledger, codes CodeStore, ttl time.Duration) VerificationService {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &verificationService{
		ledger: ledger,
		codes:  codes,
		ttl:    ttl,
		now:    time.Now,
		newOTP: randomOTP,
		logger: logrus.WithField("component", "verification"),
	}
}

// SendCode replaces any pending code for the email. Unknown emails succeed
// silently and nothing is stored for them.
func (s *verificationService) SendCode(ctx context.Context, req *SendCodeRequest) error {
	email := normalizeEmail(req.Email)
	account, err := s.ledger.Store().Accounts().GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WithField("email", email).Debug("Verification code requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	pending := &pendingCode{
		AccountID: account.ID,
		Code:      s.newOTP(),
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.save(ctx, email, pending); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"email":      email,
		"otp":        pending.Code,
		"expires_at": pending.ExpiresAt,
	}).Info("Verification code issued")
	return nil
}

func (s *verificationService) VerifyCode(ctx context.Context, req *VerifyCodeRequest) (*models.Account, error) {
	email := normalizeEmail(req.Email)
	pending, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	if pending == nil || !s.now().Before(pending.ExpiresAt) {
		return nil, apperrors.ErrInvalidOTP
	}

	if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(req.OTP)) != 1 {
		pending.Attempts++
		if pending.Attempts >= maxCodeAttempts {
			s.logger.WithField("account_id", pending.AccountID).Warn("Verification code discarded after repeated failures")
			if err := s.codes.Delete(ctx, email); err != nil {
				return nil, fmt.Errorf("failed to discard verification code: %w", err)
			}
		} else if err := s.save(ctx, email, pending); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrInvalidOTP
	}

	if err := s.codes.Delete(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to discard verification code: %w", err)
	}
	account, err := s.ledger.VerifyEmail(ctx, pending.AccountID)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("account_id", account.ID).Info("Email verified")
	return account, nil
}

func (s *verificationService) load(ctx context.Context, email string) (*pendingCode, error) {
	data, ok, err := s.codes.Get(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification code: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var pending pendingCode
	if err := json.Unmarshal(data, &pending); err != nil {
		s.logger.WithError(err).Warn("Discarding undecodable verification code")
		return nil, nil
	}
	return &pending, nil
}

// save stores the code for whatever remains of its lifetime.
func (s *verificationService) save(ctx context.Context, email string, pending *pendingCode) error {
	ttl := pending.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.codes.Delete(ctx, email)
	}

	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode verification code: %w", err)
	}
	if err := s.codes.Set(ctx, email, data, ttl); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// randomOTP returns six decimal digits drawn from a version 4 UUID.
func randomOTP() string {
	u := uuid.New()
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(u[:4])%1000000)
}
