package middleware

import (
	"errors"
	"net/http"

	"github.com/frostdev-ops/pma-rules/internal/core/automation"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	apperrors "github.com/frostdev-ops/pma-rules/pkg/errors"
)

// DomainError maps rule engine errors to AppErrors. Unknown errors become
// internal server errors.
func DomainError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var validationErr *rules.ValidationError
	if errors.As(err, &validationErr) {
		return apperrors.WithDetails(apperrors.ErrBadRequest, validationErr.Error())
	}

	var notFoundErr *rules.NotFoundError
	if errors.As(err, &notFoundErr) {
		return apperrors.WithDetails(apperrors.ErrNotFound, notFoundErr.Error())
	}

	var dispatchErr *automation.DispatchError
	if errors.As(err, &dispatchErr) {
		return &apperrors.AppError{Code: http.StatusBadGateway, Message: "Device dispatch failed", Details: dispatchErr.Error()}
	}

	switch {
	case errors.Is(err, automation.ErrNestingTooDeep):
		return &apperrors.AppError{Code: http.StatusUnprocessableEntity, Message: "Scene nesting too deep", Details: err.Error()}
	case errors.Is(err, automation.ErrEngineStopped):
		return &apperrors.AppError{Code: http.StatusServiceUnavailable, Message: "Automation engine is stopped"}
	}

	var persistErr *rules.PersistenceError
	if errors.As(err, &persistErr) {
		return &apperrors.AppError{Code: http.StatusServiceUnavailable, Message: "Persistence unavailable", Details: persistErr.Error()}
	}

	return apperrors.WithDetails(apperrors.ErrInternalServer, err.Error())
}
