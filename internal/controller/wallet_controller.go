package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/service"
	apperrors "tai-ledger-api/pkg/errors"
)

type ConvertRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	FromCurrency string          `json:"from_currency" binding:"required"`
	ToCurrency   string          `json:"to_currency" binding:"required"`
}

type TransferRequest struct {
	TaiID  string          `json:"tai_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type WithdrawRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
	Address  string          `json:"address" binding:"required,max=255"`
}

type StakeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type WalletController struct {
	accounts    service.AccountService
	conversion  engine.ConversionEngine
	transfers   engine.TransferEngine
	withdrawals engine.WithdrawalWorkflow
	staking     engine.StakingEngine
	idempotency engine.IdempotencyManager
}

func NewWalletController(
	accounts service.AccountService,
	conversion engine.ConversionEngine,
	transfers engine.TransferEngine,
	withdrawals engine.WithdrawalWorkflow,
	staking engine.StakingEngine,
	idempotency engine.IdempotencyManager,
) *WalletController {
	return &WalletController{
		accounts:    accounts,
		conversion:  conversion,
		transfers:   transfers,
		withdrawals: withdrawals,
		staking:     staking,
		idempotency: idempotency,
	}
}

// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Success 200 {object} service.Balance
// @Security BearerAuth
// @Router /api/wallet/balance [get]
func (c *WalletController) GetBalance(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	balance, err := c.accounts.Balance(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balance)
}

// @Summary Convert between TAI and USDT
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body ConvertRequest true "Conversion"
// @Success 200 {object} engine.ConversionResult
// @Security BearerAuth
// @Router /api/wallet/convert [post]
func (c *WalletController) Convert(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req ConvertRequest
	if !bindJSON(ctx, &req) {
		return
	}

	from, ok := parseCurrency(ctx, req.FromCurrency)
	if !ok {
		return
	}
	to, ok := parseCurrency(ctx, req.ToCurrency)
	if !ok {
		return
	}

	runIdempotent(ctx, c.idempotency, userID, "wallet.convert", http.StatusOK, func() (interface{}, error) {
		return c.conversion.Convert(ctx.Request.Context(), userID, req.Amount, from, to)
	})
}

// @Summary Send TAI to another account by TAI ID
// @Tags wallet
// @Router /api/wallet/transfer [post]
func (c *WalletController) Transfer(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req TransferRequest
	if !bindJSON(ctx, &req) {
		return
	}

	runIdempotent(ctx, c.idempotency, userID, "wallet.transfer", http.StatusOK, func() (interface{}, error) {
		return c.transfers.Transfer(ctx.Request.Context(), userID, req.TaiID, req.Amount)
	})
}

// @Summary Request a withdrawal
// @Tags wallet
// @Router /api/wallet/withdraw [post]
func (c *WalletController) Withdraw(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !bindJSON(ctx, &req) {
		return
	}

	currency, ok := parseCurrency(ctx, req.Currency)
	if !ok {
		return
	}

	runIdempotent(ctx, c.idempotency, userID, "wallet.withdraw", http.StatusCreated, func() (interface{}, error) {
		return c.withdrawals.Request(ctx.Request.Context(), userID, req.Amount, currency, req.Address)
	})
}

func (c *WalletController) Stake(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req StakeRequest
	if !bindJSON(ctx, &req) {
		return
	}

	runIdempotent(ctx, c.idempotency, userID, "wallet.stake", http.StatusCreated, func() (interface{}, error) {
		return c.staking.Stake(ctx.Request.Context(), userID, req.Amount)
	})
}

func (c *WalletController) Unstake(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	stakingID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	position, err := c.staking.Unstake(ctx.Request.Context(), userID, stakingID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, position)
}

func (c *WalletController) DepositInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, engine.GetDepositInfo())
}

// parseCurrency writes a 400 naming the rejected code when raw is not a
// supported currency.
func parseCurrency(ctx *gin.Context, raw string) (models.Currency, bool) {
	currency, err := models.ParseCurrency(raw)
	if err != nil {
		respondError(ctx, apperrors.NewInvalidOperationError("Unsupported currency", raw))
		return "", false
	}
	return currency, true
}
