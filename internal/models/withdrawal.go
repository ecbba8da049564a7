package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal is a request to move funds off the platform.
type Withdrawal struct {
	ID          int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      int64            `json:"user_id" gorm:"not null;index"`
	Amount      decimal.Decimal  `json:"amount" gorm:"type:decimal(28,8);not null"`
	Currency    Currency         `json:"currency" gorm:"not null;size:8"`
	Address     string           `json:"address" gorm:"not null;size:255"`
	Status      WithdrawalStatus `json:"status" gorm:"not null;size:16;default:pending;index"`
	CreatedAt   time.Time        `json:"created_at" gorm:"index"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	ProcessedBy *int64           `json:"processed_by,omitempty"`

	Account   *Account `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Processor *Account `json:"-" gorm:"foreignKey:ProcessedBy;constraint:OnDelete:SET NULL"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}

func (w *Withdrawal) IsPending() bool {
	return w.Status == WithdrawalStatusPending
}

func (w *Withdrawal) Validate() error {
	if w.UserID == 0 {
		return fmt.Errorf("user ID is required")
	}
	if !w.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if !w.Currency.Valid() {
		return fmt.Errorf("invalid currency: %s", w.Currency)
	}
	if w.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !w.Status.Valid() {
		return fmt.Errorf("invalid withdrawal status: %s", w.Status)
	}
	return nil
}

func (w *Withdrawal) Clone() *Withdrawal {
	c := *w
	if w.ProcessedAt != nil {
		v := *w.ProcessedAt
		c.ProcessedAt = &v
	}
	if w.ProcessedBy != nil {
		v := *w.ProcessedBy
		c.ProcessedBy = &v
	}
	c.Account = nil
	c.Processor = nil
	return &c
}

// WithdrawalWithAccount is a withdrawal joined with its owner for review.
type WithdrawalWithAccount struct {
	Withdrawal
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	UserTaiID string `json:"user_tai_id"`
}
