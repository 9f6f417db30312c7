// Package command implements the per-cmd_type handlers of spec.md §4.5:
// each validates its params shape, calls the matching planner variant, then
// walks the resulting plan issuing primitives through an rpc.Client.
package command

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/labworkcell/orchestrator/internal/apierr"
)

const defaultPrimitiveTimeout = 10 * time.Second

// decodeParams strictly decodes raw into dst, rejecting unknown fields per
// spec.md §9 ("unknown fields are rejected with code 1000 rather than
// silently ignored, to catch protocol drift").
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return apierr.New(apierr.CodeBadRequest, "missing params")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.New(apierr.CodeBadRequest, "malformed params: "+err.Error())
	}
	return nil
}

func timeoutFrom(seconds *int) time.Duration {
	if seconds == nil || *seconds <= 0 {
		return defaultPrimitiveTimeout
	}
	return time.Duration(*seconds) * time.Second
}
