package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frostdev-ops/pma-rules/internal/core/automation"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	apperrors "github.com/frostdev-ops/pma-rules/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &rules.ValidationError{Errors: []rules.FieldError{{Field: "name", Message: "name is required"}}}, http.StatusBadRequest},
		{"not found", &rules.NotFoundError{Kind: rules.KindScene, ID: "scene_x"}, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", &rules.NotFoundError{Kind: rules.KindScene, ID: "scene_x"}), http.StatusNotFound},
		{"dispatch", &automation.DispatchError{EntityID: "light.x", Action: rules.ActionTurnOn, Err: errors.New("offline")}, http.StatusBadGateway},
		{"nesting", fmt.Errorf("%w: scene_x", automation.ErrNestingTooDeep), http.StatusUnprocessableEntity},
		{"stopped", automation.ErrEngineStopped, http.StatusServiceUnavailable},
		{"persistence", &rules.PersistenceError{Op: "put", Err: errors.New("disk full")}, http.StatusServiceUnavailable},
		{"app error passes through", apperrors.New(http.StatusTeapot, "teapot"), http.StatusTeapot},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, DomainError(tt.err).Code)
		})
	}
	assert.Nil(t, DomainError(nil))
}

func TestErrorResponseMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	router := gin.New()
	router.Use(ErrorResponseMiddleware(logger))
	router.GET("/missing", func(c *gin.Context) {
		_ = c.Error(&rules.NotFoundError{Kind: rules.KindScene, ID: "scene_x"})
	})
	router.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	var body struct {
		Success bool   `json:"success"`
		Code    int    `json:"code"`
		Details string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Contains(t, body.Details, "scene_x")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}
