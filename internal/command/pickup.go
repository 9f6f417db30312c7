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

// PickUpHandler implements PICK_UP: shelf/worktable source slots onto the
// robot's back platform.
type PickUpHandler struct {
	Inv   *inventory.Inventory
	Robot *rpc.Client
}

func (h *PickUpHandler) CmdType() string { return "PICK_UP" }

type pickUpTargetParam struct {
	BottleID string `json:"bottle_id"`
}

type pickUpParams struct {
	TargetParams []pickUpTargetParam `json:"target_params"`
	Timeout      *int                `json:"timeout,omitempty"`
}

func (h *PickUpHandler) Handle(ctx context.Context, handle *taskengine.Handle, raw json.RawMessage) (any, error) {
	var params pickUpParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	bottleIDs := make([]string, len(params.TargetParams))
	for i, p := range params.TargetParams {
		bottleIDs[i] = p.BottleID
	}

	plan, err := planner.PlanPickup(h.Inv, bottleIDs, true)
	if err != nil {
		return nil, err
	}

	doc := newResultDoc(len(bottleIDs))
	for _, r := range plan.Rejected {
		doc.recordFailure(r.BottleID, "plan", apierr.Code(r.Code))
	}

	for _, leg := range plan.Legs {
		if handle.Cancelled() {
			releaseLeg(h.Inv, leg)
			return nil, taskengine.ErrCancelled
		}

		handle.SetCurrentStep("navigate:" + leg.NavigationPose)
		if err := primitive.WaitingNavigationStatus(ctx, h.Robot); err != nil {
			failLeg(doc, leg, "waiting_navigation_status", classifyPrimitiveErr(err))
			releaseLeg(h.Inv, leg)
			continue
		}
		if err := retryOnce(func() error { return primitive.NavigationToPose(ctx, h.Robot, leg.NavigationPose) }); err != nil {
			failLeg(doc, leg, "navigation_to_pose", classifyPrimitiveErr(err))
			releaseLeg(h.Inv, leg)
			continue
		}
		handle.AppendCompletedStep("navigation_to_pose:" + leg.NavigationPose)

		for _, bottle := range leg.Bottles {
			if handle.Cancelled() {
				h.Inv.CancelReservation(bottle.Reservation)
				return nil, taskengine.ErrCancelled
			}
			if runPickupSequence(ctx, h.Robot, h.Inv, doc, bottle) {
				doc.SuccessCount++
				handle.AppendCompletedStep("picked:" + bottle.BottleID)
			}
		}
	}

	doc.finalize()
	return doc, nil
}

// runPickupSequence executes grab_object -> turn_waist(180) -> put_object
// -> turn_waist(0) for one bottle, per spec.md §4.5 point 3. Returns true
// on full success.
func runPickupSequence(ctx context.Context, robot *rpc.Client, inv *inventory.Inventory, doc *ResultDoc, bottle planner.PickupAssignment) bool {
	if err := primitive.GrabObject(ctx, robot, bottle.ObjectType, bottle.SourcePose, bottle.Hand); err != nil {
		doc.recordFailure(bottle.BottleID, "grab_object", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := retryOnce(func() error { return primitive.TurnWaist(ctx, robot, 180, true) }); err != nil {
		doc.recordFailure(bottle.BottleID, "turn_waist", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := primitive.PutObject(ctx, robot, bottle.ObjectType, bottle.BackSlot, bottle.Hand, primitive.SafePosePreset); err != nil {
		doc.recordFailure(bottle.BottleID, "put_object", classifyPrimitiveErr(err))
		inv.CancelReservation(bottle.Reservation)
		return false
	}
	if err := inv.CommitPlace(bottle.Reservation); err != nil {
		doc.recordFailure(bottle.BottleID, "commit_place", apierr.CodeInternal)
		return false
	}
	_ = inv.CommitRemove(bottle.SourcePose, bottle.BottleID)

	if err := retryOnce(func() error { return primitive.TurnWaist(ctx, robot, 0, true) }); err != nil {
		// The bottle has already been physically placed; the return turn is
		// logged but does not unwind a successful placement.
		doc.recordFailure(bottle.BottleID, "turn_waist_return", classifyPrimitiveErr(err))
	}
	return true
}

func failLeg(doc *ResultDoc, leg planner.PickupLeg, step string, code apierr.Code) {
	for _, b := range leg.Bottles {
		doc.recordFailure(b.BottleID, step, code)
	}
}

func releaseLeg(inv *inventory.Inventory, leg planner.PickupLeg) {
	for _, b := range leg.Bottles {
		inv.CancelReservation(b.Reservation)
	}
}
