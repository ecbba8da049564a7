package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

// MiningRatePerHour is the TAI accrued per full hour of an active session.
var MiningRatePerHour = decimal.RequireFromString("0.25")

// miningRateCentsPerHour is MiningRatePerHour expressed in hundredths.
const miningRateCentsPerHour = 25

type MiningResult struct {
	Reward      decimal.Decimal     `json:"reward"`
	Account     *models.Account     `json:"account"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

type MiningStatus struct {
	Active         bool            `json:"active"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	ElapsedMinutes int64           `json:"elapsed_minutes"`
	ClaimableNow   decimal.Decimal `json:"claimable_now"`
	StopReward     decimal.Decimal `json:"stop_reward"`
	NextClaimAt    *time.Time      `json:"next_claim_at,omitempty"`
	RatePerHour    decimal.Decimal `json:"rate_per_hour"`
}

// MiningEngine drives the per-account session Inactive -> Active -> Inactive.
type MiningEngine interface {
	Start(ctx context.Context, accountID int64) (*models.Account, error)
	Stop(ctx context.Context, accountID int64) (*MiningResult, error)
	Claim(ctx context.Context, accountID int64) (*MiningResult, error)
	Status(ctx context.Context, accountID int64) (*MiningStatus, error)
}

type miningEngine struct {
	ledger *Ledger
	logger *logrus.Entry
}

func NewMiningEngine(ledger *Ledger) MiningEngine {
	return &miningEngine{
		ledger: ledger,
		logger: logrus.WithField("component", "mining"),
	}
}

func (e *miningEngine) Start(ctx context.Context, accountID int64) (*models.Account, error) {
	var account *models.Account
	err := e.ledger.execute(ctx, "mining_start", []int64{accountID}, func(u *unit) error {
		acc, err := u.loadAccount(accountID)
		if err != nil {
			return err
		}
		if acc.MiningActive {
			return apperrors.ErrMiningActive
		}

		now := u.now
		if err := u.tx.Accounts().UpdateMining(u.ctx, accountID, true, &now, u.now); err != nil {
			return fmt.Errorf("failed to start mining: %w", err)
		}
		acc.MiningActive = true
		acc.MiningStartedAt = &now
		account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithField("account_id", accountID).Info("Mining started")
	return account, nil
}

// Stop pays the minute-proportional reward rounded down to two decimals and
// ends the session. A zero reward ends the session without a log row.
func (e *miningEngine) Stop(ctx context.Context, accountID int64) (*MiningResult, error) {
	result := &MiningResult{}
	err := e.ledger.execute(ctx, "mining_stop", []int64{accountID}, func(u *unit) error {
		acc, err := u.loadAccount(accountID)
		if err != nil {
			return err
		}
		if !acc.MiningActive || acc.MiningStartedAt == nil {
			return apperrors.ErrMiningNotActive
		}

		minutes := elapsedMinutes(*acc.MiningStartedAt, u.now)
		reward := StopReward(minutes)

		if err := u.tx.Accounts().UpdateMining(u.ctx, accountID, false, nil, u.now); err != nil {
			return fmt.Errorf("failed to stop mining: %w", err)
		}

		result.Reward = reward
		if reward.IsPositive() {
			if acc, err = u.applyDelta(accountID, models.DeltaFor(models.CurrencyTAI, reward)); err != nil {
				return err
			}
			description := fmt.Sprintf("Mining reward for %dh %dm", minutes/60, minutes%60)
			tx, err := u.record(models.NewTransaction(accountID, models.TransactionTypeMiningReward,
				reward, models.CurrencyTAI, description))
			if err != nil {
				return err
			}
			result.Transaction = tx
		}

		acc.MiningActive = false
		acc.MiningStartedAt = nil
		result.Account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"reward":     result.Reward.String(),
	}).Info("Mining stopped")
	return result, nil
}

// Claim pays whole elapsed hours and restarts the session clock. The
// session stays active.
func (e *miningEngine) Claim(ctx context.Context, accountID int64) (*MiningResult, error) {
	result := &MiningResult{}
	err := e.ledger.execute(ctx, "mining_claim", []int64{accountID}, func(u *unit) error {
		acc, err := u.loadAccount(accountID)
		if err != nil {
			return err
		}
		if !acc.MiningActive || acc.MiningStartedAt == nil {
			return apperrors.ErrMiningNotActive
		}

		minutes := elapsedMinutes(*acc.MiningStartedAt, u.now)
		if minutes < 60 {
			return apperrors.NewNoRewardYetError(int(60 - minutes))
		}

		hours := minutes / 60
		reward := ClaimReward(hours)

		now := u.now
		if err := u.tx.Accounts().UpdateMining(u.ctx, accountID, true, &now, u.now); err != nil {
			return fmt.Errorf("failed to reset mining session: %w", err)
		}
		if acc, err = u.applyDelta(accountID, models.DeltaFor(models.CurrencyTAI, reward)); err != nil {
			return err
		}
		tx, err := u.record(models.NewTransaction(accountID, models.TransactionTypeMiningReward,
			reward, models.CurrencyTAI, fmt.Sprintf("Mining reward for %d hours", hours)))
		if err != nil {
			return err
		}

		acc.MiningActive = true
		acc.MiningStartedAt = &now
		result.Reward = reward
		result.Account = acc
		result.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"reward":     result.Reward.String(),
	}).Info("Mining reward claimed")
	return result, nil
}

func (e *miningEngine) Status(ctx context.Context, accountID int64) (*MiningStatus, error) {
	acc, err := e.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &MiningStatus{
		Active:       acc.MiningActive,
		ClaimableNow: decimal.Zero,
		StopReward:   decimal.Zero,
		RatePerHour:  MiningRatePerHour,
	}
	if !acc.MiningActive || acc.MiningStartedAt == nil {
		return status, nil
	}

	started := *acc.MiningStartedAt
	minutes := elapsedMinutes(started, e.ledger.now())
	next := started.Add(time.Duration(minutes/60+1) * time.Hour)

	status.StartedAt = &started
	status.ElapsedMinutes = minutes
	status.ClaimableNow = ClaimReward(minutes / 60)
	status.StopReward = StopReward(minutes)
	status.NextClaimAt = &next
	return status, nil
}

// StopReward is floor(minutes / 60 * 0.25 * 100) / 100.
func StopReward(minutes int64) decimal.Decimal {
	if minutes <= 0 {
		return decimal.Zero
	}
	cents := minutes * miningRateCentsPerHour / 60
	return decimal.New(cents, -2)
}

// ClaimReward is hours * 0.25.
func ClaimReward(hours int64) decimal.Decimal {
	if hours <= 0 {
		return decimal.Zero
	}
	return MiningRatePerHour.Mul(decimal.NewFromInt(hours))
}

func elapsedMinutes(since, now time.Time) int64 {
	if now.Before(since) {
		return 0
	}
	return int64(now.Sub(since) / time.Minute)
}
