package command

import (
	"context"
	"encoding/json"

	"github.com/labworkcell/orchestrator/internal/apierr"
	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/planner"
	"github.com/labworkcell/orchestrator/internal/primitive"
	"github.com/labworkcell/orchestrator/internal/rpc"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

// TransferHandler implements TAKE_BOTTOL_FROM_SP_TO_SP: a chained
// pickup-then-put (spec.md §4.4 Variant C).
type TransferHandler struct {
	Inv   *inventory.Inventory
	Robot *rpc.Client
}

func (h *TransferHandler) CmdType() string { return "TAKE_BOTTOL_FROM_SP_TO_SP" }

type transferTargetParam struct {
	BottleID string `json:"bottle_id"`
}

type transferReleaseParam struct {
	BottleID    string `json:"bottle_id"`
	ReleasePose string `json:"release_pose"`
}

type transferParams struct {
	TargetParams  []transferTargetParam  `json:"target_params"`
	ReleaseParams []transferReleaseParam `json:"release_params"`
	Timeout       *int                   `json:"timeout,omitempty"`
}

func (h *TransferHandler) Handle(ctx context.Context, handle *taskengine.Handle, raw json.RawMessage) (any, error) {
	var params transferParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	releaseByBottle := make(map[string]string, len(params.ReleaseParams))
	for _, r := range params.ReleaseParams {
		releaseByBottle[r.BottleID] = r.ReleasePose
	}
	targetSet := make(map[string]struct{}, len(params.TargetParams))
	for _, t := range params.TargetParams {
		targetSet[t.BottleID] = struct{}{}
	}

	// Open Question decision (spec.md §9 / DESIGN.md): a bottle_id present
	// in only one of target_params/release_params is rejected wholesale.
	if len(targetSet) != len(releaseByBottle) {
		return nil, apierr.New(apierr.CodeBadRequest, "target_params and release_params bottle_id sets must match exactly")
	}
	requests := make([]planner.TransferRequest, 0, len(params.TargetParams))
	for _, t := range params.TargetParams {
		releasePose, ok := releaseByBottle[t.BottleID]
		if !ok {
			return nil, apierr.New(apierr.CodeBadRequest, "target_params and release_params bottle_id sets must match exactly")
		}
		requests = append(requests, planner.TransferRequest{BottleID: t.BottleID, ReleasePose: releasePose})
	}

	batches, rejected := planner.PlanTransferBatches(h.Inv, requests)

	doc := newResultDoc(len(requests))
	for _, r := range rejected {
		doc.recordFailure(r.BottleID, "plan", apierr.Code(r.Code))
	}

	// Each batch's put leg depends on where its pickup actually staged the
	// bottle on the back platform, so put is only planned once that
	// batch's pickup has physically run — planning both rounds upfront
	// would read stale pre-pickup locations (see planner.PlanTransferBatches).
	for _, batch := range batches {
		bottleIDs := make([]string, len(batch.Requests))
		for i, r := range batch.Requests {
			bottleIDs[i] = r.BottleID
		}

		pickupPlan, err := planner.PlanPickup(h.Inv, bottleIDs, true)
		if err != nil {
			return nil, err
		}
		for _, r := range pickupPlan.Rejected {
			doc.recordFailure(r.BottleID, "plan", apierr.Code(r.Code))
		}

		picked := make(map[string]bool, len(bottleIDs))
		for _, leg := range pickupPlan.Legs {
			if handle.Cancelled() {
				releaseLeg(h.Inv, leg)
				return nil, taskengine.ErrCancelled
			}
			handle.SetCurrentStep("transfer_pickup:" + leg.NavigationPose)
			ok, err := walkTransferPickupLeg(ctx, h.Robot, h.Inv, handle, doc, leg)
			if err != nil {
				return nil, err
			}
			for id, success := range ok {
				picked[id] = success
			}
		}

		var releaseReqs []planner.ReleaseRequest
		for _, r := range batch.Requests {
			if picked[r.BottleID] {
				releaseReqs = append(releaseReqs, planner.ReleaseRequest{BottleID: r.BottleID, ReleasePose: r.ReleasePose})
			}
		}
		if len(releaseReqs) == 0 {
			continue
		}

		putPlan, err := planner.PlanPut(h.Inv, releaseReqs)
		if err != nil {
			return nil, err
		}
		for _, r := range putPlan.Rejected {
			doc.recordFailure(r.BottleID, "plan", apierr.Code(r.Code))
		}

		for _, leg := range putPlan.Legs {
			if handle.Cancelled() {
				releasePutLeg(h.Inv, leg)
				return nil, taskengine.ErrCancelled
			}
			handle.SetCurrentStep("transfer_put:" + leg.NavigationPose)
			if err := walkPutLeg(ctx, h.Robot, h.Inv, handle, doc, leg); err != nil {
				return nil, err
			}
		}
	}

	doc.finalize()
	return doc, nil
}

// walkTransferPickupLeg runs one pickup leg and reports which bottle_ids
// were actually grabbed and staged on the back platform, so the caller
// knows which ones still need a put leg.
func walkTransferPickupLeg(ctx context.Context, robot *rpc.Client, inv *inventory.Inventory, handle *taskengine.Handle, doc *ResultDoc, leg planner.PickupLeg) (map[string]bool, error) {
	result := make(map[string]bool, len(leg.Bottles))

	if err := primitive.WaitingNavigationStatus(ctx, robot); err != nil {
		failLeg(doc, leg, "waiting_navigation_status", classifyPrimitiveErr(err))
		releaseLeg(inv, leg)
		return result, nil
	}
	if err := retryOnce(func() error { return primitive.NavigationToPose(ctx, robot, leg.NavigationPose) }); err != nil {
		failLeg(doc, leg, "navigation_to_pose", classifyPrimitiveErr(err))
		releaseLeg(inv, leg)
		return result, nil
	}
	handle.AppendCompletedStep("navigation_to_pose:" + leg.NavigationPose)

	for _, bottle := range leg.Bottles {
		if handle.Cancelled() {
			inv.CancelReservation(bottle.Reservation)
			return result, taskengine.ErrCancelled
		}
		if runPickupSequence(ctx, robot, inv, doc, bottle) {
			handle.AppendCompletedStep("picked:" + bottle.BottleID)
			result[bottle.BottleID] = true
		}
	}
	return result, nil
}

func walkPutLeg(ctx context.Context, robot *rpc.Client, inv *inventory.Inventory, handle *taskengine.Handle, doc *ResultDoc, leg planner.PutLeg) error {
	if err := primitive.WaitingNavigationStatus(ctx, robot); err != nil {
		failPutLeg(doc, leg, "waiting_navigation_status", classifyPrimitiveErr(err))
		releasePutLeg(inv, leg)
		return nil
	}
	if err := retryOnce(func() error { return primitive.NavigationToPose(ctx, robot, leg.NavigationPose) }); err != nil {
		failPutLeg(doc, leg, "navigation_to_pose", classifyPrimitiveErr(err))
		releasePutLeg(inv, leg)
		return nil
	}
	handle.AppendCompletedStep("navigation_to_pose:" + leg.NavigationPose)
	for _, bottle := range leg.Bottles {
		if handle.Cancelled() {
			inv.CancelReservation(bottle.Reservation)
			return taskengine.ErrCancelled
		}
		if runPutSequence(ctx, robot, inv, doc, bottle) {
			doc.SuccessCount++
			handle.AppendCompletedStep("put:" + bottle.BottleID)
		}
	}
	return nil
}
