package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/middleware"
	apperrors "tai-ledger-api/pkg/errors"
)

// respondError writes err as {error, message, details}. Errors that are not
// AppErrors are logged and reported as a bare internal error.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	if appErr.Kind == apperrors.KindInternal {
		logrus.WithFields(logrus.Fields{
			"request_id": requestid.Get(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("Request failed")
		_ = c.Error(err)
	}
	c.JSON(appErr.Code, appErr)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, apperrors.NewInvalidOperationError("Invalid request format", err.Error()))
		return false
	}
	return true
}

func currentUser(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.NewUnauthorizedError("Authentication required"))
	}
	return id, ok
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperrors.NewInvalidOperationError("Invalid "+name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return defaultValue
	}
	return v
}

// runIdempotent executes op and writes its result with the given status.
// When the client sends an Idempotency-Key, the result is stored under that
// key (scoped to the caller and operation) and replayed for retries.
func runIdempotent(c *gin.Context, idem engine.IdempotencyManager, accountID int64, operation string, status int, op func() (interface{}, error)) {
	clientKey := c.GetHeader(middleware.HeaderIdempotencyKey)
	if clientKey == "" || idem == nil {
		result, err := op()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(status, result)
		return
	}

	key := idem.ClientKey(accountID, operation, clientKey)
	raw, replayed, err := idem.ProcessIdempotentOperation(c.Request.Context(), key, op)
	if replayed {
		c.Header(middleware.HeaderReplayed, "true")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	writeRaw(c, status, raw)
}

func writeRaw(c *gin.Context, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(status, "application/json; charset=utf-8", raw)
}
