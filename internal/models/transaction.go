package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is an immutable row of the ledger history.
type Transaction struct {
	ID             int64             `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         int64             `json:"user_id" gorm:"not null;index"`
	Type           TransactionType   `json:"type" gorm:"not null;size:32;index"`
	Amount         decimal.Decimal   `json:"amount" gorm:"type:decimal(28,8);not null"`
	Currency       Currency          `json:"currency" gorm:"not null;size:8"`
	Status         TransactionStatus `json:"status" gorm:"not null;size:16;default:completed"`
	Description    string            `json:"description" gorm:"size:255"`
	CounterpartyID *int64            `json:"counterparty_id,omitempty" gorm:"index"`
	CreatedAt      time.Time         `json:"created_at" gorm:"index"`

	Account      *Account `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Counterparty *Account `json:"-" gorm:"foreignKey:CounterpartyID;constraint:OnDelete:SET NULL"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// NewTransaction creates a completed transaction row.
func NewTransaction(userID int64, txType TransactionType, amount decimal.Decimal, currency Currency, description string) *Transaction {
	return &Transaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Currency:    currency,
		Status:      TransactionStatusCompleted,
		Description: description,
	}
}

// WithCounterparty links the row to the other side of a two-party action.
func (t *Transaction) WithCounterparty(accountID int64) *Transaction {
	id := accountID
	t.CounterpartyID = &id
	return t
}

func (t *Transaction) Validate() error {
	if t.UserID == 0 {
		return fmt.Errorf("user ID is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	if !t.Currency.Valid() {
		return fmt.Errorf("invalid currency: %s", t.Currency)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// Involves reports whether the account owns the row or is its counterparty.
func (t *Transaction) Involves(accountID int64) bool {
	return t.UserID == accountID || (t.CounterpartyID != nil && *t.CounterpartyID == accountID)
}

func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.CounterpartyID != nil {
		v := *t.CounterpartyID
		c.CounterpartyID = &v
	}
	c.Account = nil
	c.Counterparty = nil
	return &c
}
