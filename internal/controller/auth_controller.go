package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/service"
)

type AuthController struct {
	authService         service.AuthService
	accountService      service.AccountService
	verificationService service.VerificationService
}

func NewAuthController(authService service.AuthService, accountService service.AccountService, verificationService service.VerificationService) *AuthController {
	return &AuthController{
		authService:         authService,
		accountService:      accountService,
		verificationService: verificationService,
	}
}

// @Summary Register a new account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.RegisterRequest true "Registration"
// @Success 201 {object} service.AuthResponse
// @Router /api/auth/register [post]
func (c *AuthController) Register(ctx *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(ctx, &req) {
		return
	}

	resp, err := c.authService.Register(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, resp)
}

// @Summary Log in with email and password
// @Tags auth
// @Router /api/auth/login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req service.LoginRequest
	if !bindJSON(ctx, &req) {
		return
	}

	resp, err := c.authService.Login(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// @Summary Issue an email verification code
// @Tags auth
// @Accept json
// @Param request body service.SendCodeRequest true "Email"
// @Success 202 {object} map[string]string
// @Router /api/auth/request-otp [post]
func (c *AuthController) RequestOTP(ctx *gin.Context) {
	var req service.SendCodeRequest
	if !bindJSON(ctx, &req) {
		return
	}

	if err := c.verificationService.SendCode(ctx.Request.Context(), &req); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"message": "If the email is registered, a verification code has been sent"})
}

// @Summary Confirm an email with a verification code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.VerifyCodeRequest true "Email and code"
// @Router /api/auth/verify-otp [post]
func (c *AuthController) VerifyOTP(ctx *gin.Context) {
	var req service.VerifyCodeRequest
	if !bindJSON(ctx, &req) {
		return
	}

	account, err := c.verificationService.VerifyCode(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Email verified successfully",
		"user":    account,
	})
}

func (c *AuthController) Profile(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}

	account, err := c.accountService.Profile(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, account)
}
