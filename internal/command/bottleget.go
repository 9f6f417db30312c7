package command

import (
	"encoding/json"

	"github.com/labworkcell/orchestrator/internal/apierr"
	"github.com/labworkcell/orchestrator/internal/inventory"
)

// BottleGetParams decodes the BOTTLE_GET request body. BOTTLE_GET is
// synchronous per spec.md §6 — it never touches the task queue.
type BottleGetParams struct {
	BottleID string `json:"bottle_id,omitempty"`
	PoseName string `json:"pose_name,omitempty"`
	Detail   bool   `json:"detail_params,omitempty"`
}

// BottleGet answers a BOTTLE_GET request directly against the inventory
// singleton.
func BottleGet(inv *inventory.Inventory, raw json.RawMessage) ([]map[string]any, error) {
	var params BottleGetParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
	}
	if params.BottleID != "" && params.PoseName != "" {
		return nil, apierr.New(apierr.CodeBadRequest, "bottle_id and pose_name are mutually exclusive")
	}
	return inv.Summary(inventory.SummaryFilter{
		BottleID: params.BottleID,
		PoseName: params.PoseName,
		Detail:   params.Detail,
	}), nil
}
