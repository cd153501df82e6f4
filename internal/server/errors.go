package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/viral-agents/internal/agents"
	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/intake"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validation *ErrValidation
	switch {
	case errors.As(err, &validation), errors.Is(err, intake.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, notify.ErrInvalidLink):
		return http.StatusForbidden
	case errors.Is(err, agents.ErrJobNotFound), errors.Is(err, db.ErrNotFound), errors.Is(err, intake.ErrLinksDisabled):
		return http.StatusNotFound
	case errors.Is(err, intake.ErrNotAwaitingApproval),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, db.ErrContentNotApprovable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
