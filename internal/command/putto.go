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

// PutToHandler implements PUT_TO: back platform onto a destination slot.
type PutToHandler struct {
	Inv   *inventory.Inventory
	Robot *rpc.Client
}

func (h *PutToHandler) CmdType() string { return "PUT_TO" }

type putToReleaseParam struct {
	BottleID    string `json:"bottle_id"`
	ReleasePose string `json:"release_pose"`
}

type putToParams struct {
	ReleaseParams []putToReleaseParam `json:"release_params"`
	Timeout       *int                `json:"timeout,omitempty"`
}

func (h *PutToHandler) Handle(ctx context.Context, handle *taskengine.Handle, raw json.RawMessage) (any, error) {
	var params putToParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	requests := make([]planner.ReleaseRequest, len(params.ReleaseParams))
	for i, p := range params.ReleaseParams {
		requests[i] = planner.ReleaseRequest{BottleID: p.BottleID, ReleasePose: p.ReleasePose}
	}

	plan, err := planner.PlanPut(h.Inv, requests)
	if err != nil {
		return nil, err
	}

	doc := newResultDoc(len(requests))
	for _, r := range plan.Rejected {
		doc.recordFailure(r.BottleID, "plan", apierr.Code(r.Code))
	}

	for _, leg := range plan.Legs {
		if handle.Cancelled() {
			releasePutLeg(h.Inv, leg)
			return nil, taskengine.ErrCancelled
		}

		handle.SetCurrentStep("navigate:" + leg.NavigationPose)
		if err := primitive.WaitingNavigationStatus(ctx, h.Robot); err != nil {
			failPutLeg(doc, leg, "waiting_navigation_status", classifyPrimitiveErr(err))
			releasePutLeg(h.Inv, leg)
			continue
		}
		if err := retryOnce(func() error { return primitive.NavigationToPose(ctx, h.Robot, leg.NavigationPose) }); err != nil {
			failPutLeg(doc, leg, "navigation_to_pose", classifyPrimitiveErr(err))
			releasePutLeg(h.Inv, leg)
			continue
		}
		handle.AppendCompletedStep("navigation_to_pose:" + leg.NavigationPose)

		for _, bottle := range leg.Bottles {
			if handle.Cancelled() {
				h.Inv.CancelReservation(bottle.Reservation)
				return nil, taskengine.ErrCancelled
			}
			if runPutSequence(ctx, h.Robot, h.Inv, doc, bottle) {
				doc.SuccessCount++
				handle.AppendCompletedStep("put:" + bottle.BottleID)
			}
		}
	}

	doc.finalize()
	return doc, nil
}

// runPutSequence executes turn_waist(180) -> grab_object(back platform) ->
// turn_waist(0) -> put_object(release_pose), per spec.md §4.5 point 3.
func runPutSequence(ctx context.Context, robot *rpc.Client, inv *inventory.Inventory, doc *ResultDoc, bottle planner.PutAssignment) bool {
	if err := retryOnce(func() error { return primitive.TurnWaist(ctx, robot, 180, true) }); err != nil {
		doc.recordFailure(bottle.BottleID, "turn_waist", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := primitive.GrabObject(ctx, robot, bottle.ObjectType, bottle.SourcePose, bottle.Hand); err != nil {
		doc.recordFailure(bottle.BottleID, "grab_object", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := retryOnce(func() error { return primitive.TurnWaist(ctx, robot, 0, true) }); err != nil {
		doc.recordFailure(bottle.BottleID, "turn_waist_return", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := primitive.PutObject(ctx, robot, bottle.ObjectType, bottle.ReleasePose, bottle.Hand, primitive.SafePosePreset); err != nil {
		doc.recordFailure(bottle.BottleID, "put_object", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := inv.CommitPlace(bottle.Reservation); err != nil {
		doc.recordFailure(bottle.BottleID, "commit_place", apierr.CodeInternal)
		return false
	}
	_ = inv.CommitRemove(bottle.SourcePose, bottle.BottleID)
	return true
}

func failPutLeg(doc *ResultDoc, leg planner.PutLeg, step string, code apierr.Code) {
	for _, b := range leg.Bottles {
		doc.recordFailure(b.BottleID, step, code)
	}
}

func releasePutLeg(inv *inventory.Inventory, leg planner.PutLeg) {
	for _, b := range leg.Bottles {
		inv.CancelReservation(b.Reservation)
	}
}
