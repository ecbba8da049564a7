package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StakingPosition is a fixed-term lock of TAI.
type StakingPosition struct {
	ID           int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64           `json:"user_id" gorm:"not null;index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(28,8);not null"`
	StartedAt    time.Time       `json:"started_at"`
	EndAt        time.Time       `json:"end_at" gorm:"index"`
	Status       StakingStatus   `json:"status" gorm:"not null;size:16;default:active;index"`
	LastRewardAt time.Time       `json:"last_reward_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
	Reward       decimal.Decimal `json:"reward" gorm:"type:decimal(28,8);not null;default:0"`

	Account *Account `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
}

func (StakingPosition) TableName() string {
	return "stakings"
}

func (s *StakingPosition) IsActive() bool {
	return s.Status == StakingStatusActive
}

// IsMatured reports whether the term has elapsed at the given instant.
func (s *StakingPosition) IsMatured(now time.Time) bool {
	return !now.Before(s.EndAt)
}

func (s *StakingPosition) Validate() error {
	if s.UserID == 0 {
		return fmt.Errorf("user ID is required")
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if !s.EndAt.After(s.StartedAt) {
		return fmt.Errorf("end must be after start")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid staking status: %s", s.Status)
	}
	return nil
}

func (s *StakingPosition) Clone() *StakingPosition {
	c := *s
	if s.SettledAt != nil {
		v := *s.SettledAt
		c.SettledAt = &v
	}
	c.Account = nil
	return &c
}
