package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/controller"
	"tai-ledger-api/internal/middleware"
)

type Controllers struct {
	Auth    *controller.AuthController
	Mining  *controller.MiningController
	Wallet  *controller.WalletController
	History *controller.HistoryController
	Admin   *controller.AdminController
	Health  *controller.HealthController
}

type Middleware struct {
	Auth      *middleware.AuthMiddleware
	Logging   *middleware.LoggingMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Metrics   middleware.HTTPRecorder
}

type RouterConfig struct {
	AllowedOrigins []string
	TrustedProxies []string
	MetricsPath    string
	MetricsHandler http.Handler
}

// Router wires controllers and middleware onto one gin engine.
type Router struct {
	engine      *gin.Engine
	controllers Controllers
	middleware  Middleware
}

func NewRouter(controllers Controllers, mw Middleware, config *RouterConfig) (*Router, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return nil, err
	}

	r := &Router{
		engine:      engine,
		controllers: controllers,
		middleware:  mw,
	}
	r.setupGlobalMiddleware(config)
	r.setupHealthRoutes(config)
	r.setupAPIRoutes(r.engine.Group("/api"))
	return r, nil
}

func (r *Router) setupGlobalMiddleware(config *RouterConfig) {
	r.engine.Use(middleware.RequestID())
	r.engine.Use(r.middleware.Logging.Recovery())
	r.engine.Use(r.middleware.Logging.RequestLogger())
	if r.middleware.Metrics != nil {
		r.engine.Use(middleware.Metrics(r.middleware.Metrics))
	}
	r.engine.Use(middleware.CORS(config.AllowedOrigins))
	r.engine.Use(middleware.SecurityHeaders())

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Route not found"})
	})
}

func (r *Router) setupHealthRoutes(config *RouterConfig) {
	r.engine.GET("/health", r.controllers.Health.Health)
	r.engine.GET("/ready", r.controllers.Health.Ready)
	r.engine.GET("/version", r.controllers.Health.Version)

	if config.MetricsHandler != nil {
		path := config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(config.MetricsHandler))
	}
}

func (r *Router) setupAPIRoutes(api *gin.RouterGroup) {
	if r.middleware.RateLimit != nil {
		api.Use(r.middleware.RateLimit.IPRateLimit())
	}

	auth := api.Group("/auth")
	{
		auth.POST("/register", r.controllers.Auth.Register)
		auth.POST("/login", r.controllers.Auth.Login)
		auth.POST("/request-otp", r.controllers.Auth.RequestOTP)
		auth.POST("/verify-otp", r.controllers.Auth.VerifyOTP)
	}

	api.GET("/wallet/deposit-info", r.controllers.Wallet.DepositInfo)

	protected := api.Group("")
	protected.Use(r.middleware.Auth.JWTAuth())

	protected.GET("/user/profile", r.controllers.Auth.Profile)

	mining := protected.Group("/mining")
	{
		mining.POST("/start", r.controllers.Mining.Start)
		mining.POST("/stop", r.controllers.Mining.Stop)
		mining.POST("/reward", r.controllers.Mining.Claim)
		mining.GET("/status", r.controllers.Mining.Status)
	}

	wallet := protected.Group("/wallet")
	{
		wallet.GET("/balance", r.controllers.Wallet.GetBalance)
		wallet.POST("/convert", r.controllers.Wallet.Convert)
		wallet.POST("/transfer", r.controllers.Wallet.Transfer)
		wallet.POST("/withdraw", r.controllers.Wallet.Withdraw)
		wallet.POST("/stake", r.controllers.Wallet.Stake)
		wallet.POST("/stakings/:id/unstake", r.controllers.Wallet.Unstake)
	}

	protected.GET("/transactions", r.controllers.History.Transactions)
	protected.GET("/transactions/export", r.controllers.History.ExportTransactions)
	protected.GET("/withdrawals", r.controllers.History.Withdrawals)
	protected.GET("/stakings", r.controllers.History.Stakings)
	protected.GET("/referrals", r.controllers.History.Referrals)

	admin := protected.Group("/admin")
	admin.Use(r.middleware.Auth.RequireAdmin())
	{
		admin.GET("/users", r.controllers.Admin.ListUsers)
		admin.GET("/withdrawals", r.controllers.Admin.PendingWithdrawals)
		admin.POST("/process-withdrawal", r.controllers.Admin.ProcessWithdrawal)
		admin.POST("/fund-user", r.controllers.Admin.FundUser)
		admin.GET("/stats", r.controllers.Admin.Stats)
		admin.POST("/reconcile/:id", r.controllers.Admin.Reconcile)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
