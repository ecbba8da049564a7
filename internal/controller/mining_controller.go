package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/engine"
)

type MiningController struct {
	mining      engine.MiningEngine
	idempotency engine.IdempotencyManager
}

func NewMiningController(mining engine.MiningEngine, idempotency engine.IdempotencyManager) *MiningController {
	return &MiningController{mining: mining, idempotency: idempotency}
}

func (c *MiningController) Start(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	account, err := c.mining.Start(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, account)
}

// Stop ends the session and pays the proportional reward.
func (c *MiningController) Stop(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	runIdempotent(ctx, c.idempotency, userID, "mining.stop", http.StatusOK, func() (interface{}, error) {
		return c.mining.Stop(ctx.Request.Context(), userID)
	})
}

// Claim pays whole elapsed hours and keeps the session running.
func (c *MiningController) Claim(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	runIdempotent(ctx, c.idempotency, userID, "mining.claim", http.StatusOK, func() (interface{}, error) {
		return c.mining.Claim(ctx.Request.Context(), userID)
	})
}

func (c *MiningController) Status(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	status, err := c.mining.Status(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
