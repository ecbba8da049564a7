package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type UserPage struct {
	Users []*models.Account `json:"users"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

type FundRequest struct {
	UserID     int64           `json:"user_id" binding:"required,gt=0"`
	TaiAmount  decimal.Decimal `json:"tai_amount"`
	UsdtAmount decimal.Decimal `json:"usdt_amount"`
}

type ProcessWithdrawalRequest struct {
	WithdrawalID int64                   `json:"withdrawal_id" binding:"required,gt=0"`
	Status       models.WithdrawalStatus `json:"status" binding:"required,oneof=approved rejected"`
}

// AdminService exposes the operator actions. Every call re-checks the
// caller's role against storage, so a token minted before a demotion no
// longer grants access.
type AdminService interface {
	ListUsers(ctx context.Context, adminID int64, page, limit int) (*UserPage, error)
	PendingWithdrawals(ctx context.Context, adminID int64) ([]*models.WithdrawalWithAccount, error)
	ProcessWithdrawal(ctx context.Context, adminID int64, req *ProcessWithdrawalRequest) (*models.Withdrawal, error)
	FundUser(ctx context.Context, adminID int64, req *FundRequest) (*engine.FundResult, error)
	Stats(ctx context.Context, adminID int64) (*engine.SystemStats, error)
	Reconcile(ctx context.Context, adminID, accountID int64) (*engine.ReconciliationResult, error)
}

type adminService struct {
	ledger         *engine.Ledger
	withdrawals    engine.WithdrawalWorkflow
	reconciliation engine.ReconciliationEngine
	audit          *logrus.Logger
}

func NewAdminService(
	ledger *engine.Ledger,
	withdrawals engine.WithdrawalWorkflow,
	reconciliation engine.ReconciliationEngine,
	audit *logrus.Logger,
) AdminService {
	return &adminService{
		ledger:         ledger,
		withdrawals:    withdrawals,
		reconciliation: reconciliation,
		audit:          audit,
	}
}

func (s *adminService) requireAdmin(ctx context.Context, adminID int64) error {
	admin, err := s.ledger.GetAccount(ctx, adminID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return apperrors.ErrAccessDenied
		}
		return err
	}
	if !admin.IsAdmin() {
		return apperrors.ErrAccessDenied
	}
	return nil
}

func (s *adminService) ListUsers(ctx context.Context, adminID int64, page, limit int) (*UserPage, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	users, total, err := s.ledger.Store().Accounts().List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return &UserPage{Users: users, Total: total, Page: page, Limit: limit}, nil
}

func (s *adminService) PendingWithdrawals(ctx context.Context, adminID int64) ([]*models.WithdrawalWithAccount, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.withdrawals.Pending(ctx)
}

func (s *adminService) ProcessWithdrawal(ctx context.Context, adminID int64, req *ProcessWithdrawalRequest) (*models.Withdrawal, error) {
	w, err := s.withdrawals.Process(ctx, req.WithdrawalID, adminID, req.Status)
	if err != nil {
		s.audit.WithFields(logrus.Fields{
			"admin_id":      adminID,
			"withdrawal_id": req.WithdrawalID,
			"decision":      req.Status,
			"error":         err.Error(),
		}).Warn("Withdrawal processing refused")
		return nil, err
	}

	s.audit.WithFields(logrus.Fields{
		"admin_id":      adminID,
		"withdrawal_id": w.ID,
		"user_id":       w.UserID,
		"amount":        w.Amount.String(),
		"currency":      w.Currency,
		"decision":      w.Status,
	}).Info("Withdrawal processed")
	return w, nil
}

func (s *adminService) FundUser(ctx context.Context, adminID int64, req *FundRequest) (*engine.FundResult, error) {
	result, err := s.ledger.Fund(ctx, adminID, req.UserID, req.TaiAmount, req.UsdtAmount)
	if err != nil {
		return nil, err
	}

	s.audit.WithFields(logrus.Fields{
		"admin_id":    adminID,
		"user_id":     req.UserID,
		"tai_amount":  req.TaiAmount.String(),
		"usdt_amount": req.UsdtAmount.String(),
	}).Info("User funded")
	return result, nil
}

func (s *adminService) Stats(ctx context.Context, adminID int64) (*engine.SystemStats, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.reconciliation.SystemStats(ctx)
}

func (s *adminService) Reconcile(ctx context.Context, adminID, accountID int64) (*engine.ReconciliationResult, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	result, err := s.reconciliation.Reconcile(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.audit.WithFields(logrus.Fields{
		"admin_id":  adminID,
		"user_id":   accountID,
		"status":    result.Status,
		"tai_diff":  result.TaiDiscrepancy.String(),
		"usdt_diff": result.UsdtDiscrepancy.String(),
		"row_count": result.TransactionCount,
	}).Info("Account reconciled")
	return result, nil
}
