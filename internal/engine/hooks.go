package engine

import (
	"context"
	"time"

	"tai-ledger-api/internal/models"
)

// EventPublisher receives ledger events after their storage transaction has
// committed. Publishing is best effort: a failure is logged and never undoes
// the committed change.
type EventPublisher interface {
	PublishAccountCreated(ctx context.Context, account *models.Account) error
	PublishTransaction(ctx context.Context, tx *models.Transaction) error
	PublishWithdrawal(ctx context.Context, w *models.Withdrawal) error
	PublishStaking(ctx context.Context, p *models.StakingPosition) error
}

// MetricsRecorder observes engine operations.
type MetricsRecorder interface {
	RecordOperation(operation, status string, duration time.Duration)
	RecordTransaction(tx *models.Transaction)
}

type noopPublisher struct{}

func (noopPublisher) PublishAccountCreated(context.Context, *models.Account) error  { return nil }
func (noopPublisher) PublishTransaction(context.Context, *models.Transaction) error { return nil }
func (noopPublisher) PublishWithdrawal(context.Context, *models.Withdrawal) error   { return nil }
func (noopPublisher) PublishStaking(context.Context, *models.StakingPosition) error { return nil }

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, string, time.Duration) {}
func (noopMetrics) RecordTransaction(*models.Transaction)         {}
