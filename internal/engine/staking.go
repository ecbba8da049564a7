package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
	apperrors "tai-ledger-api/pkg/errors"
)

const (
	StakingTermDays = 30
	stakingAPY      = 12
)

// ExpectedReturn is amount * (APY / 365 / 100) * termDays, truncated to
// AmountScale. The product is formed before dividing to keep precision.
func ExpectedReturn(amount decimal.Decimal) decimal.Decimal {
	return amount.
		Mul(decimal.NewFromInt(stakingAPY * StakingTermDays)).
		Div(decimal.NewFromInt(365 * 100)).
		Truncate(AmountScale)
}

type SweepResult struct {
	Settled int           `json:"settled"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

// StakingEngine locks TAI for a fixed term and releases principal plus
// yield at maturity. Matured positions are settled by SweepMatured and
// lazily whenever an owner lists them.
type StakingEngine interface {
	Stake(ctx context.Context, accountID int64, amount decimal.Decimal) (*models.StakingPosition, error)
	Unstake(ctx context.Context, accountID, stakingID int64) (*models.StakingPosition, error)
	Settle(ctx context.Context, stakingID int64) (*models.StakingPosition, bool, error)
	SweepMatured(ctx context.Context, batchSize int) (*SweepResult, error)
	ListFor(ctx context.Context, accountID int64) ([]*models.StakingPosition, error)
}

type stakingEngine struct {
	ledger *Ledger
	logger *logrus.Entry
}

func NewStakingEngine(ledger *Ledger) StakingEngine {
	return &stakingEngine{
		ledger: ledger,
		logger: logrus.WithField("component", "staking"),
	}
}

func (e *stakingEngine) Stake(ctx context.Context, accountID int64, amount decimal.Decimal) (*models.StakingPosition, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}

	var created *models.StakingPosition
	err := e.ledger.execute(ctx, "stake", []int64{accountID}, func(u *unit) error {
		if _, err := u.applyDelta(accountID, models.DeltaFor(models.CurrencyTAI, amount.Neg())); err != nil {
			return err
		}

		position := &models.StakingPosition{
			UserID:       accountID,
			Amount:       amount,
			StartedAt:    u.now,
			EndAt:        u.now.AddDate(0, 0, StakingTermDays),
			Status:       models.StakingStatusActive,
			LastRewardAt: u.now,
			Reward:       decimal.Zero,
		}
		if err := u.tx.Stakings().Create(u.ctx, position); err != nil {
			return fmt.Errorf("failed to create staking position: %w", err)
		}

		description := fmt.Sprintf("Staked %s TAI for %d days until %s",
			amount.String(), StakingTermDays, position.EndAt.Format("Jan 02, 2006"))
		if _, err := u.record(models.NewTransaction(accountID, models.TransactionTypeStaking,
			amount, models.CurrencyTAI, description)); err != nil {
			return err
		}

		u.stakings = append(u.stakings, position)
		created = position
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"staking_id": created.ID,
		"account_id": accountID,
		"amount":     amount.String(),
		"end_at":     created.EndAt,
	}).Info("Staking position opened")
	return created, nil
}

// Unstake closes an active position of the caller. Before maturity only the
// principal is returned; after maturity the position settles normally.
func (e *stakingEngine) Unstake(ctx context.Context, accountID, stakingID int64) (*models.StakingPosition, error) {
	existing, err := e.ledger.store.Stakings().GetByID(ctx, stakingID)
	if err != nil {
		return nil, mapNotFound(err, apperrors.ErrStakingNotFound, "get staking position")
	}
	if existing.UserID != accountID {
		return nil, apperrors.ErrAccessDenied
	}

	var closed *models.StakingPosition
	err = e.ledger.execute(ctx, "unstake", []int64{accountID}, func(u *unit) error {
		position, err := u.tx.Stakings().GetByID(u.ctx, stakingID)
		if err != nil {
			return mapNotFound(err, apperrors.ErrStakingNotFound, "get staking position")
		}
		if !position.IsActive() {
			return apperrors.NewInvalidOperationError("Staking position is already closed")
		}

		if position.IsMatured(u.now) {
			closed = position
			return u.settleStaking(position)
		}

		if _, err := u.applyDelta(accountID, models.DeltaFor(models.CurrencyTAI, position.Amount)); err != nil {
			return err
		}
		if _, err := u.record(models.NewTransaction(accountID, models.TransactionTypeStakingReward, position.Amount,
			models.CurrencyTAI, fmt.Sprintf("Unstaked %s TAI before maturity", position.Amount.String()))); err != nil {
			return err
		}

		settledAt := u.now
		position.Status = models.StakingStatusWithdrawn
		position.SettledAt = &settledAt
		position.LastRewardAt = settledAt
		position.Reward = decimal.Zero
		if err := u.tx.Stakings().Update(u.ctx, position); err != nil {
			return fmt.Errorf("failed to update staking position: %w", err)
		}
		u.stakings = append(u.stakings, position)
		closed = position
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"staking_id": stakingID,
		"account_id": accountID,
		"status":     closed.Status,
	}).Info("Staking position closed")
	return closed, nil
}

// Settle credits a matured active position. It reports false without error
// when the position is already closed or not yet matured.
func (e *stakingEngine) Settle(ctx context.Context, stakingID int64) (*models.StakingPosition, bool, error) {
	existing, err := e.ledger.store.Stakings().GetByID(ctx, stakingID)
	if err != nil {
		return nil, false, mapNotFound(err, apperrors.ErrStakingNotFound, "get staking position")
	}
	if !existing.IsActive() || !existing.IsMatured(e.ledger.now()) {
		return existing, false, nil
	}

	var position *models.StakingPosition
	settled := false
	err = e.ledger.execute(ctx, "staking_settle", []int64{existing.UserID}, func(u *unit) error {
		p, err := u.tx.Stakings().GetByID(u.ctx, stakingID)
		if err != nil {
			return mapNotFound(err, apperrors.ErrStakingNotFound, "get staking position")
		}
		position = p
		settled = false
		if !p.IsActive() || !p.IsMatured(u.now) {
			return nil
		}
		settled = true
		return u.settleStaking(p)
	})
	if err != nil {
		return nil, false, err
	}

	if settled {
		e.logger.WithFields(logrus.Fields{
			"staking_id": stakingID,
			"account_id": position.UserID,
			"reward":     position.Reward.String(),
		}).Info("Staking position matured")
	}
	return position, settled, nil
}

// SweepMatured settles every active position whose term has ended, in
// batches of batchSize.
func (e *stakingEngine) SweepMatured(ctx context.Context, batchSize int) (*SweepResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	start := time.Now()
	now := e.ledger.now()
	result := &SweepResult{}
	var cursor *repository.MaturedCursor
	for {
		matured, err := e.ledger.store.Stakings().ListMatured(ctx, now, cursor, batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list matured positions: %w", err)
		}

		for _, p := range matured {
			if _, _, err := e.Settle(ctx, p.ID); err != nil {
				result.Failed++
				e.logger.WithError(err).WithField("staking_id", p.ID).Error("Failed to settle staking position")
				continue
			}
			result.Settled++
		}

		if len(matured) < batchSize {
			break
		}
		// Failed positions stay active, so the next page starts after the
		// last row seen rather than from the head.
		last := matured[len(matured)-1]
		cursor = &repository.MaturedCursor{EndAt: last.EndAt, ID: last.ID}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// ListFor settles the caller's matured positions before listing them,
// newest first.
func (e *stakingEngine) ListFor(ctx context.Context, accountID int64) ([]*models.StakingPosition, error) {
	positions, err := e.ledger.store.Stakings().ListByUser(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staking positions: %w", err)
	}

	now := e.ledger.now()
	changed := false
	for _, p := range positions {
		if p.IsActive() && p.IsMatured(now) {
			if _, ok, err := e.Settle(ctx, p.ID); err != nil {
				return nil, err
			} else if ok {
				changed = true
			}
		}
	}
	if !changed {
		return positions, nil
	}

	positions, err = e.ledger.store.Stakings().ListByUser(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staking positions: %w", err)
	}
	return positions, nil
}

// settleStaking credits principal plus the full-term yield and closes the
// position as completed.
func (u *unit) settleStaking(p *models.StakingPosition) error {
	reward := ExpectedReturn(p.Amount)
	total := p.Amount.Add(reward)

	if _, err := u.applyDelta(p.UserID, models.DeltaFor(models.CurrencyTAI, total)); err != nil {
		return err
	}
	description := fmt.Sprintf("Staking #%d matured: %s TAI principal + %s TAI reward",
		p.ID, p.Amount.String(), reward.String())
	if _, err := u.record(models.NewTransaction(p.UserID, models.TransactionTypeStakingReward,
		total, models.CurrencyTAI, description)); err != nil {
		return err
	}

	settledAt := u.now
	p.Status = models.StakingStatusCompleted
	p.Reward = reward
	p.SettledAt = &settledAt
	p.LastRewardAt = settledAt
	if err := u.tx.Stakings().Update(u.ctx, p); err != nil {
		return fmt.Errorf("failed to update staking position: %w", err)
	}
	u.stakings = append(u.stakings, p)
	return nil
}
