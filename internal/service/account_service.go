package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
)

type Balance struct {
	TaiBalance  decimal.Decimal `json:"tai_balance"`
	UsdtBalance decimal.Decimal `json:"usdt_balance"`
	TaiID       string          `json:"tai_id"`
}

// Referral is the public view of a referred account.
type Referral struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	TaiID        string    `json:"tai_id"`
	MiningActive bool      `json:"mining_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type ReferralSummary struct {
	ReferralCode    string          `json:"referral_code"`
	Referrals       []Referral      `json:"referrals"`
	TotalReferrals  int             `json:"total_referrals"`
	ActiveReferrals int             `json:"active_referrals"`
	Earnings        decimal.Decimal `json:"earnings"`
}

type AccountService interface {
	Profile(ctx context.Context, accountID int64) (*models.Account, error)
	Balance(ctx context.Context, accountID int64) (*Balance, error)
	Referrals(ctx context.Context, accountID int64) (*ReferralSummary, error)
}

type accountService struct {
	ledger *engine.Ledger
}

func NewAccountService(ledger *engine.Ledger) AccountService {
	return &accountService{ledger: ledger}
}

func (s *accountService) Profile(ctx context.Context, accountID int64) (*models.Account, error) {
	return s.ledger.GetAccount(ctx, accountID)
}

func (s *accountService) Balance(ctx context.Context, accountID int64) (*Balance, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		TaiBalance:  account.TaiBalance,
		UsdtBalance: account.UsdtBalance,
		TaiID:       account.TaiID,
	}, nil
}

func (s *accountService) Referrals(ctx context.Context, accountID int64) (*ReferralSummary, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	store := s.ledger.Store()
	referred, err := store.Accounts().ListReferrals(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}

	earnings, err := store.Transactions().SumByType(ctx, accountID, models.TransactionTypeReferralBonus, models.CurrencyTAI)
	if err != nil {
		return nil, fmt.Errorf("failed to sum referral earnings: %w", err)
	}

	summary := &ReferralSummary{
		ReferralCode:   account.ReferralCode,
		Referrals:      make([]Referral, 0, len(referred)),
		TotalReferrals: len(referred),
		Earnings:       earnings,
	}
	for _, r := range referred {
		if r.MiningActive {
			summary.ActiveReferrals++
		}
		summary.Referrals = append(summary.Referrals, Referral{
			ID:           r.ID,
			Name:         r.Name,
			TaiID:        r.TaiID,
			MiningActive: r.MiningActive,
			CreatedAt:    r.CreatedAt,
		})
	}
	return summary, nil
}
