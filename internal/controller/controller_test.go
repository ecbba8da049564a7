package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/cache"
	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/lock"
	"tai-ledger-api/internal/middleware"
	apperrors "tai-ledger-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
	logrus.SetOutput(io.Discard)
}

func serve(handler gin.HandlerFunc, headers map[string]string) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/op", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, int64(5))
		handler(c)
	})

	req := httptest.NewRequest(http.MethodPost, "/op", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	w := serve(func(c *gin.Context) {
		respondError(c, errors.New("dial tcp 10.0.0.3:3306: connection refused"))
	}, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["error"])
	assert.Equal(t, "Internal server error", body["message"])
}

func TestRespondErrorKeepsWrappedKind(t *testing.T) {
	w := serve(func(c *gin.Context) {
		respondError(c, apperrors.NewInsufficientFundsError("TAI"))
	}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient TAI balance")
}

func TestRunIdempotentReplaysFailures(t *testing.T) {
	locker := lock.NewLocalLocker(time.Second)
	store := cache.NewLocalStore(10, "test")
	defer store.Close()
	idem := engine.NewIdempotencyManager(store, locker, time.Hour, time.Minute)

	calls := 0
	handler := func(c *gin.Context) {
		runIdempotent(c, idem, 5, "test.op", http.StatusCreated, func() (interface{}, error) {
			calls++
			if calls == 1 {
				return nil, apperrors.ErrInsufficientFunds
			}
			return gin.H{"ok": true}, nil
		})
	}
	key := map[string]string{middleware.HeaderIdempotencyKey: "abc"}

	w := serve(handler, key)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, w.Header().Get(middleware.HeaderReplayed))

	w = serve(handler, key)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "true", w.Header().Get(middleware.HeaderReplayed))
	assert.Equal(t, 1, calls)

	// A different client key runs the operation again.
	w = serve(handler, map[string]string{middleware.HeaderIdempotencyKey: "def"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	// Without a key nothing is cached.
	w = serve(handler, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 3, calls)
}

func TestPathIDRejectsNonPositive(t *testing.T) {
	r := gin.New()
	r.GET("/items/:id", func(c *gin.Context) {
		if id, ok := pathID(c, "id"); ok {
			c.JSON(http.StatusOK, gin.H{"id": id})
		}
	})

	for path, code := range map[string]int{"/items/12": http.StatusOK, "/items/0": http.StatusBadRequest, "/items/x": http.StatusBadRequest} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, code, w.Code, path)
	}
}
