package api

import (
	"errors"
	"net/http"

	"github.com/labworkcell/orchestrator/internal/apierr"
	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

// writeErr translates err into the unified error envelope of spec.md §6,
// picking an HTTP status from the resolved code's category.
func writeErr(w http.ResponseWriter, err error) {
	code := codeOf(err)
	JSON(w, statusFor(code), envelope{
		"error": errorResponse{Message: err.Error(), Code: int(code)},
	})
}

// codeOf resolves the unified apierr.Code for an error that may originate
// from internal/taskengine, internal/inventory, or internal/apierr itself.
func codeOf(err error) apierr.Code {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	switch {
	case errors.Is(err, taskengine.ErrUnknownCmdType):
		return apierr.CodeUnknownCmdType
	case errors.Is(err, taskengine.ErrTaskNotFound):
		return apierr.CodeTaskNotFound
	case errors.Is(err, taskengine.ErrTaskTerminal):
		return apierr.CodeTaskTerminal
	case errors.Is(err, taskengine.ErrNoWaitingTask):
		return apierr.CodeNoWaitingTask
	case errors.Is(err, taskengine.ErrTypeMismatch):
		return apierr.CodeEnterIDTypeMismatch
	case errors.Is(err, inventory.ErrBottleNotFound):
		return apierr.CodeBottleUnknown
	case errors.Is(err, inventory.ErrSlotNotFound):
		return apierr.CodeSlotUnknown
	case errors.Is(err, inventory.ErrSlotFull):
		return apierr.CodeSlotFull
	case errors.Is(err, inventory.ErrTypeMismatch):
		return apierr.CodeTypeMismatch
	default:
		return apierr.CodeInternal
	}
}

func statusFor(code apierr.Code) int {
	switch {
	case code == apierr.CodeOK:
		return http.StatusOK
	case code == apierr.CodeBadRequest || code == apierr.CodeUnknownCmdType:
		return http.StatusBadRequest
	case code >= 2000 && code < 3000:
		return http.StatusConflict
	case code >= 3000 && code < 4000:
		return http.StatusServiceUnavailable
	case code == apierr.CodeTaskNotFound:
		return http.StatusNotFound
	case code >= 4000 && code < 5000:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
