package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user identity together with its two balances.
type Account struct {
	ID              int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	Name            string          `json:"name" gorm:"not null;size:100"`
	Email           string          `json:"email" gorm:"uniqueIndex;not null;size:255"`
	PasswordHash    string          `json:"-" gorm:"not null;size:255"`
	Role            Role            `json:"role" gorm:"not null;size:16;default:user"`
	TaiID           string          `json:"tai_id" gorm:"uniqueIndex;not null;size:16"`
	ReferralCode    string          `json:"referral_code" gorm:"uniqueIndex;not null;size:16"`
	ReferredBy      *int64          `json:"referred_by,omitempty" gorm:"index"`
	TaiBalance      decimal.Decimal `json:"tai_balance" gorm:"type:decimal(28,8);not null;default:0"`
	UsdtBalance     decimal.Decimal `json:"usdt_balance" gorm:"type:decimal(28,8);not null;default:0"`
	MiningActive    bool            `json:"mining_active" gorm:"not null;default:false"`
	MiningStartedAt *time.Time      `json:"mining_started_at,omitempty"`
	EmailVerified   bool            `json:"email_verified" gorm:"not null;default:false"`
	Version         int64           `json:"-" gorm:"not null;default:0"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Referrer *Account `json:"-" gorm:"foreignKey:ReferredBy;constraint:OnDelete:SET NULL"`
}

func (Account) TableName() string {
	return "accounts"
}

// Balance returns the balance held in the given currency.
func (a *Account) Balance(c Currency) decimal.Decimal {
	switch c {
	case CurrencyTAI:
		return a.TaiBalance
	case CurrencyUSDT:
		return a.UsdtBalance
	default:
		return decimal.Zero
	}
}

// HasSufficientBalance checks if the account can cover amount in currency c.
func (a *Account) HasSufficientBalance(c Currency, amount decimal.Decimal) bool {
	return a.Balance(c).GreaterThanOrEqual(amount)
}

// IsAdmin reports whether the account has the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Clone returns a copy that shares no pointers with a.
func (a *Account) Clone() *Account {
	c := *a
	if a.ReferredBy != nil {
		v := *a.ReferredBy
		c.ReferredBy = &v
	}
	if a.MiningStartedAt != nil {
		v := *a.MiningStartedAt
		c.MiningStartedAt = &v
	}
	c.Referrer = nil
	return &c
}

func (a *Account) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if a.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !a.Role.Valid() {
		return fmt.Errorf("invalid role: %s", a.Role)
	}
	if a.TaiBalance.IsNegative() || a.UsdtBalance.IsNegative() {
		return fmt.Errorf("balances cannot be negative")
	}
	if a.MiningActive && a.MiningStartedAt == nil {
		return fmt.Errorf("active mining session has no start time")
	}
	return nil
}

// Delta is a signed change to both balances of one account.
type Delta struct {
	Tai  decimal.Decimal
	Usdt decimal.Decimal
}

// DeltaFor builds a delta that moves amount in the given currency only.
func DeltaFor(c Currency, amount decimal.Decimal) Delta {
	switch c {
	case CurrencyTAI:
		return Delta{Tai: amount, Usdt: decimal.Zero}
	case CurrencyUSDT:
		return Delta{Tai: decimal.Zero, Usdt: amount}
	default:
		return Delta{Tai: decimal.Zero, Usdt: decimal.Zero}
	}
}

// Add combines two deltas.
func (d Delta) Add(other Delta) Delta {
	return Delta{Tai: d.Tai.Add(other.Tai), Usdt: d.Usdt.Add(other.Usdt)}
}

func (d Delta) IsZero() bool {
	return d.Tai.IsZero() && d.Usdt.IsZero()
}

// For returns the component of d in the given currency.
func (d Delta) For(c Currency) decimal.Decimal {
	switch c {
	case CurrencyTAI:
		return d.Tai
	case CurrencyUSDT:
		return d.Usdt
	default:
		return decimal.Zero
	}
}
