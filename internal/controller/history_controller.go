package controller

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/service"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// HistoryController serves the caller's read-only views.
type HistoryController struct {
	transactions engine.TransactionLog
	withdrawals  engine.WithdrawalWorkflow
	staking      engine.StakingEngine
	accounts     service.AccountService
	export       service.ExportService
}

func NewHistoryController(
	transactions engine.TransactionLog,
	withdrawals engine.WithdrawalWorkflow,
	staking engine.StakingEngine,
	accounts service.AccountService,
	export service.ExportService,
) *HistoryController {
	return &HistoryController{
		transactions: transactions,
		withdrawals:  withdrawals,
		staking:      staking,
		accounts:     accounts,
		export:       export,
	}
}

func (c *HistoryController) Transactions(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	limit := queryInt(ctx, "limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	txs, err := c.transactions.ListFor(ctx.Request.Context(), userID, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// ExportTransactions streams the full history as an XLSX attachment.
func (c *HistoryController) ExportTransactions(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	buf, err := c.export.ExportTransactions(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="transactions-%d.xlsx"`, userID))
	ctx.Data(http.StatusOK, service.XLSXContentType, buf.Bytes())
}

func (c *HistoryController) Withdrawals(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	withdrawals, err := c.withdrawals.ListFor(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals, "count": len(withdrawals)})
}

// Stakings settles matured positions before listing them.
func (c *HistoryController) Stakings(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	positions, err := c.staking.ListFor(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stakings": positions, "count": len(positions)})
}

func (c *HistoryController) Referrals(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	summary, err := c.accounts.Referrals(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summary)
}
