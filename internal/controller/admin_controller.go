package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/service"
)

type AdminController struct {
	adminService service.AdminService
	idempotency  engine.IdempotencyManager
}

func NewAdminController(adminService service.AdminService, idempotency engine.IdempotencyManager) *AdminController {
	return &AdminController{
		adminService: adminService,
		idempotency:  idempotency,
	}
}

// @Summary List users
// @Tags admin
// @Produce json
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} service.UserPage
// @Security BearerAuth
// @Router /api/admin/users [get]
func (c *AdminController) ListUsers(ctx *gin.Context) {
	adminID, ok := currentUser(ctx)
	if !ok {
		return
	}

	page, err := c.adminService.ListUsers(ctx.Request.Context(), adminID,
		queryInt(ctx, "page", 1), queryInt(ctx, "limit", 0))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, page)
}

// @Summary List pending withdrawals, oldest first
// @Tags admin
// @Router /api/admin/withdrawals [get]
func (c *AdminController) PendingWithdrawals(ctx *gin.Context) {
	adminID, ok := currentUser(ctx)
	if !ok {
		return
	}

	pending, err := c.adminService.PendingWithdrawals(ctx.Request.Context(), adminID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawals": pending, "count": len(pending)})
}

// @Summary Approve or reject a pending withdrawal
// @Tags admin
// @Router /api/admin/process-withdrawal [post]
func (c *AdminController) ProcessWithdrawal(ctx *gin.Context) {
	adminID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req service.ProcessWithdrawalRequest
	if !bindJSON(ctx, &req) {
		return
	}

	withdrawal, err := c.adminService.ProcessWithdrawal(ctx.Request.Context(), adminID, &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, withdrawal)
}

// @Summary Credit a user's balances
// @Tags admin
// @Router /api/admin/fund-user [post]
func (c *AdminController) FundUser(ctx *gin.Context) {
	adminID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req service.FundRequest
	if !bindJSON(ctx, &req) {
		return
	}

	runIdempotent(ctx, c.idempotency, adminID, "admin.fund", http.StatusOK, func() (interface{}, error) {
		return c.adminService.FundUser(ctx.Request.Context(), adminID, &req)
	})
}

func (c *AdminController) Stats(ctx *gin.Context) {
	adminID, ok := currentUser(ctx)
	if !ok {
		return
	}

	stats, err := c.adminService.Stats(ctx.Request.Context(), adminID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

func (c *AdminController) Reconcile(ctx *gin.Context) {
	adminID, ok := currentUser(ctx)
	if !ok {
		return
	}
	accountID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	result, err := c.adminService.Reconcile(ctx.Request.Context(), adminID, accountID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"result": result, "balanced": result.Balanced()})
}
