package models

import (
	"fmt"
	"strings"
)

// Currency is one of the two tracked denominations.
type Currency string

const (
	CurrencyTAI  Currency = "TAI"
	CurrencyUSDT Currency = "USDT"
)

// Currencies lists every supported currency.
var Currencies = []Currency{CurrencyTAI, CurrencyUSDT}

func (c Currency) Valid() bool {
	switch c {
	case CurrencyTAI, CurrencyUSDT:
		return true
	default:
		return false
	}
}

func (c Currency) String() string {
	return string(c)
}

// ParseCurrency accepts the currency code in any letter case.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}

// TransactionType tags every row in the transaction log.
type TransactionType string

const (
	TransactionTypeMiningReward     TransactionType = "mining_reward"
	TransactionTypeReferralBonus    TransactionType = "referral_bonus"
	TransactionTypeDeposit          TransactionType = "deposit"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
	TransactionTypeTransferSent     TransactionType = "transfer_sent"
	TransactionTypeTransferReceived TransactionType = "transfer_received"
	TransactionTypeConversion       TransactionType = "conversion"
	TransactionTypeStaking          TransactionType = "staking"
	TransactionTypeStakingReward    TransactionType = "staking_reward"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeMiningReward, TransactionTypeReferralBonus, TransactionTypeDeposit,
		TransactionTypeWithdrawal, TransactionTypeTransferSent, TransactionTypeTransferReceived,
		TransactionTypeConversion, TransactionTypeStaking, TransactionTypeStakingReward:
		return true
	default:
		return false
	}
}

// Credits reports whether a row of this type adds its amount to the owner's
// balance in the row currency. Conversion rows record the debited source side
// only; the credited side follows from the fixed rate.
func (t TransactionType) Credits() bool {
	switch t {
	case TransactionTypeMiningReward, TransactionTypeReferralBonus, TransactionTypeDeposit,
		TransactionTypeTransferReceived, TransactionTypeStakingReward:
		return true
	case TransactionTypeWithdrawal, TransactionTypeTransferSent, TransactionTypeConversion,
		TransactionTypeStaking:
		return false
	default:
		return false
	}
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusRejected  TransactionStatus = "rejected"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusRejected:
		return true
	default:
		return false
	}
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusRejected:
		return true
	default:
		return false
	}
}

// IsDecision reports whether s is a legal outcome of processing a request.
func (s WithdrawalStatus) IsDecision() bool {
	return s == WithdrawalStatusApproved || s == WithdrawalStatusRejected
}

type StakingStatus string

const (
	StakingStatusActive    StakingStatus = "active"
	StakingStatusCompleted StakingStatus = "completed"
	StakingStatusWithdrawn StakingStatus = "withdrawn"
)

func (s StakingStatus) Valid() bool {
	switch s {
	case StakingStatusActive, StakingStatusCompleted, StakingStatusWithdrawn:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}
