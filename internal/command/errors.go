package command

import (
	"context"
	"errors"

	"github.com/labworkcell/orchestrator/internal/apierr"
	"github.com/labworkcell/orchestrator/internal/rpc"
)

// classifyPrimitiveErr maps an rpc.Client.SendRequest failure onto the
// primitive-stratum codes of spec.md §7.
func classifyPrimitiveErr(err error) apierr.Code {
	switch {
	case err == nil:
		return apierr.CodeOK
	case errors.Is(err, rpc.ErrDisconnected):
		return apierr.CodeRobotDisconnected
	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apierr.CodePrimitiveTimeout
	default:
		var remote *rpc.RemoteError
		if errors.As(err, &remote) {
			return apierr.CodePrimitiveRemoteError
		}
		return apierr.CodePrimitiveRemoteError
	}
}

// retryOnce re-issues fn a single time on failure, for the "idempotently
// retryable" primitives spec.md §4.3 names (navigation_to_pose,
// turn_waist). grab_object and put_object are never retried.
func retryOnce(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}
