package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/lock"
	apperrors "tai-ledger-api/pkg/errors"
)

const (
	idempotencyLockTTL = 30 * time.Second

	DefaultSuccessTTL = 24 * time.Hour
	DefaultFailureTTL = 5 * time.Minute

	idempotencyStatusSuccess = "success"
	idempotencyStatusFailed  = "failed"
)

// IdempotencyStore keeps serialized results by key until their TTL expires.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type IdempotentResult struct {
	Result    json.RawMessage     `json:"result,omitempty"`
	Error     *apperrors.AppError `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Status    string              `json:"status"`
}

// IdempotencyManager runs an operation at most once per key. A replayed key
// returns the stored result, or the stored error for a recent failure.
type IdempotencyManager interface {
	ProcessIdempotentOperation(ctx context.Context, key string, operation func() (interface{}, error)) (json.RawMessage, bool, error)
	GenerateIdempotencyKey(accountID int64, operation string, params interface{}) string
	ClientKey(accountID int64, operation, clientKey string) string
	InvalidateIdempotencyKey(ctx context.Context, key string) error
}

type idempotencyManager struct {
	store      IdempotencyStore
	locker     lock.Locker
	successTTL time.Duration
	failureTTL time.Duration
	now        func() time.Time
	logger     *logrus.Entry
}

func NewIdempotencyManager(store IdempotencyStore, locker lock.Locker, successTTL, failureTTL time.Duration) IdempotencyManager {
	if successTTL <= 0 {
		successTTL = DefaultSuccessTTL
	}
	if failureTTL <= 0 {
		failureTTL = DefaultFailureTTL
	}
	return &idempotencyManager{
		store:      store,
		locker:     locker,
		successTTL: successTTL,
		failureTTL: failureTTL,
		now:        time.Now,
		logger:     logrus.WithField("component", "idempotency"),
	}
}

func (m *idempotencyManager) ProcessIdempotentOperation(ctx context.Context, key string, operation func() (interface{}, error)) (json.RawMessage, bool, error) {
	if stored, ok := m.lookup(ctx, key); ok {
		return replayResult(stored)
	}

	held, err := m.locker.Acquire(ctx, "idempotency:"+key, idempotencyLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, false, apperrors.NewConflictError("Request with this idempotency key is in progress")
		}
		return nil, false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}
	defer func() {
		if err := m.locker.Release(context.Background(), held); err != nil {
			m.logger.WithError(err).Warn("Failed to release idempotency lock")
		}
	}()

	// Another request may have finished while this one waited.
	if stored, ok := m.lookup(ctx, key); ok {
		return replayResult(stored)
	}

	result, opErr := operation()
	if opErr != nil {
		var appErr *apperrors.AppError
		if errors.As(opErr, &appErr) {
			m.save(ctx, key, &IdempotentResult{
				Error:     appErr,
				Timestamp: m.now(),
				Status:    idempotencyStatusFailed,
			}, m.failureTTL)
		}
		return nil, false, opErr
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode result: %w", err)
	}
	m.save(ctx, key, &IdempotentResult{
		Result:    raw,
		Timestamp: m.now(),
		Status:    idempotencyStatusSuccess,
	}, m.successTTL)
	return raw, false, nil
}

// GenerateIdempotencyKey derives a stable key from the caller, the
// operation and its parameters. The current date is part of the key so the
// same request may be repeated on another day.
func (m *idempotencyManager) GenerateIdempotencyKey(accountID int64, operation string, params interface{}) string {
	data := struct {
		AccountID int64       `json:"account_id"`
		Operation string      `json:"operation"`
		Params    interface{} `json:"params"`
		Date      string      `json:"date"`
	}{
		AccountID: accountID,
		Operation: operation,
		Params:    params,
		Date:      m.now().Format("2006-01-02"),
	}

	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// ClientKey scopes a caller-supplied Idempotency-Key to the account and
// operation. It carries no date: a retry with the same key replays for as
// long as the stored result lives.
func (m *idempotencyManager) ClientKey(accountID int64, operation, clientKey string) string {
	data := struct {
		AccountID int64  `json:"account_id"`
		Operation string `json:"operation"`
		ClientKey string `json:"client_key"`
	}{
		AccountID: accountID,
		Operation: operation,
		ClientKey: clientKey,
	}

	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

func (m *idempotencyManager) InvalidateIdempotencyKey(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

func (m *idempotencyManager) lookup(ctx context.Context, key string) (*IdempotentResult, bool) {
	data, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.WithError(err).Warn("Idempotency lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var stored IdempotentResult
	if err := json.Unmarshal(data, &stored); err != nil {
		m.logger.WithError(err).Warn("Discarding undecodable idempotency record")
		return nil, false
	}
	return &stored, true
}

func (m *idempotencyManager) save(ctx context.Context, key string, result *IdempotentResult, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to encode idempotency record")
		return
	}
	if err := m.store.Set(ctx, key, data, ttl); err != nil {
		m.logger.WithError(err).Warn("Failed to store idempotency record")
	}
}

func replayResult(stored *IdempotentResult) (json.RawMessage, bool, error) {
	if stored.Status == idempotencyStatusFailed && stored.Error != nil {
		return nil, true, stored.Error
	}
	return stored.Result, true, nil
}
