package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/labworkcell/orchestrator/internal/apierr"
	"github.com/labworkcell/orchestrator/internal/command"
	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/metrics"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

// commandEnvelope is the body of the single POST command-ingress endpoint,
// spec.md §6.
type commandEnvelope struct {
	Header  map[string]any  `json:"header,omitempty"`
	CmdID   string          `json:"cmd_id"`
	CmdType string          `json:"cmd_type"`
	Params  json.RawMessage `json:"params"`
	Extra   map[string]any  `json:"extra,omitempty"`
}

// asyncCmdTypes are submitted to the task engine and answered immediately
// with a queued-task acknowledgment. Every other cmd_type is handled
// synchronously in this package.
var asyncCmdTypes = map[string]bool{
	"PICK_UP":                   true,
	"PUT_TO":                    true,
	"TAKE_BOTTOL_FROM_SP_TO_SP": true,
	"SCAN_QRCODE":               true,
}

type commandHandler struct {
	engine  *taskengine.Engine
	inv     *inventory.Inventory
	logger  *zap.Logger
	metrics *metrics.Registry
}

func (h *commandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var env commandEnvelope
	if !decodeJSON(w, r, &env) {
		return
	}
	if env.CmdType == "" {
		errJSON(w, http.StatusBadRequest, int(apierr.CodeBadRequest), "cmd_type is required")
		return
	}

	if asyncCmdTypes[env.CmdType] {
		h.submitAsync(w, env)
		return
	}

	switch env.CmdType {
	case "BOTTLE_GET":
		h.bottleGet(w, env)
	case "ENTER_ID":
		h.enterID(w, env)
	case "CANCEL":
		h.cancel(w, env)
	case "SCAN_QRCODE_RESULT":
		h.scanResult(w, env)
	default:
		writeErr(w, taskengine.ErrUnknownCmdType)
	}
}

func (h *commandHandler) submitAsync(w http.ResponseWriter, env commandEnvelope) {
	taskID, queueSize, err := h.engine.Submit(env.CmdType, env.Params)
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TasksSubmitted.WithLabelValues(env.CmdType).Inc()
	}
	JSON(w, http.StatusOK, envelope{
		"success":    true,
		"task_id":    taskID,
		"message":    "任务已加入队列",
		"queue_size": queueSize,
	})
}

func (h *commandHandler) bottleGet(w http.ResponseWriter, env commandEnvelope) {
	bottles, err := command.BottleGet(h.inv, env.Params)
	if err != nil {
		writeErr(w, err)
		return
	}
	Ok(w, bottles)
}

type enterIDParams struct {
	BottleID string `json:"bottle_id"`
	Type     string `json:"type"`
}

func (h *commandHandler) enterID(w http.ResponseWriter, env commandEnvelope) {
	var params enterIDParams
	if err := json.Unmarshal(env.Params, &params); err != nil || params.BottleID == "" || params.Type == "" {
		errJSON(w, http.StatusBadRequest, int(apierr.CodeBadRequest), "bottle_id and type are required")
		return
	}
	if err := h.engine.EnterID(params.BottleID, inventory.ObjectType(params.Type)); err != nil {
		writeErr(w, err)
		return
	}
	Ok(w, envelope{"success": true})
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

func (h *commandHandler) cancel(w http.ResponseWriter, env commandEnvelope) {
	var params taskIDParams
	if err := json.Unmarshal(env.Params, &params); err != nil || params.TaskID == "" {
		errJSON(w, http.StatusBadRequest, int(apierr.CodeBadRequest), "task_id is required")
		return
	}
	if err := h.engine.Cancel(params.TaskID); err != nil {
		writeErr(w, err)
		return
	}
	Ok(w, envelope{"success": true})
}

func (h *commandHandler) scanResult(w http.ResponseWriter, env commandEnvelope) {
	var params taskIDParams
	if err := json.Unmarshal(env.Params, &params); err != nil || params.TaskID == "" {
		errJSON(w, http.StatusBadRequest, int(apierr.CodeBadRequest), "task_id is required")
		return
	}
	snap, err := h.engine.Status(params.TaskID)
	if err != nil {
		writeErr(w, err)
		return
	}
	Ok(w, snap)
}
