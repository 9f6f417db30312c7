package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labworkcell/orchestrator/internal/apierr"
	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/primitive"
	"github.com/labworkcell/orchestrator/internal/rpc"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

// scanGunObjectType is a pseudo object_type used only to move the scan gun
// fixture through the same grab/put primitives as a bottle.
const scanGunObjectType inventory.ObjectType = "scan_gun"

// consecutiveNoDetectStop is how many empty cv_detect cycles in a row end
// the main loop (spec.md §4.6).
const consecutiveNoDetectStop = 2

// ScannedBottle records one bottle this session fully processed: detected,
// reserved, grabbed, scanned, and bound to a real bottle_id via ENTER_ID.
type ScannedBottle struct {
	BottleID    string               `json:"bottle_id"`
	ObjectType  inventory.ObjectType `json:"object_type"`
	BackSlot    string               `json:"back_slot"`
	reservation inventory.Reservation
}

// FailedDetection records one detection that could not be completed.
type FailedDetection struct {
	TargetPose string      `json:"target_pose"`
	Step       string      `json:"step"`
	Code       apierr.Code `json:"code"`
}

// ResultDoc is the result document a SCAN_QRCODE task completes with.
type ResultDoc struct {
	Success         bool              `json:"success"`
	Message         string            `json:"message"`
	ScannedBottles  []ScannedBottle   `json:"scanned_bottles"`
	FailedDetections []FailedDetection `json:"failed_detections"`
}

// Handler implements taskengine.CommandHandler for SCAN_QRCODE. SCAN_QRCODE
// takes no params (spec.md §9 resolves the requirement note's cut-and-paste
// body as empty params).
type Handler struct {
	Inv   *inventory.Inventory
	Robot *rpc.Client
}

func (h *Handler) CmdType() string { return "SCAN_QRCODE" }

func (h *Handler) Handle(ctx context.Context, handle *taskengine.Handle, _ json.RawMessage) (any, error) {
	s := &session{inv: h.Inv, robot: h.Robot, handle: handle}
	return s.run(ctx)
}

type session struct {
	inv    *inventory.Inventory
	robot  *rpc.Client
	handle *taskengine.Handle

	doc     ResultDoc
	pendingSeq int
}

func (s *session) run(ctx context.Context) (*ResultDoc, error) {
	s.doc.FailedDetections = []FailedDetection{}
	s.doc.ScannedBottles = []ScannedBottle{}

	s.handle.SetCurrentStep(string(StateNavigatingToScan))
	if err := primitive.WaitingNavigationStatus(ctx, s.robot); err != nil {
		return nil, fmt.Errorf("scan: waiting_navigation_status: %w", err)
	}
	if err := primitive.NavigationToPose(ctx, s.robot, scanTableNav); err != nil {
		return nil, fmt.Errorf("scan: navigation_to_pose(%s): %w", scanTableNav, err)
	}

	s.handle.SetCurrentStep(string(StateGrabScanGun))
	if err := primitive.GrabObject(ctx, s.robot, scanGunObjectType, scanGunPose, inventory.HandRight); err != nil {
		return nil, fmt.Errorf("scan: grab_object(scan gun): %w", err)
	}

	noDetect := 0
	for {
		if s.handle.Cancelled() {
			return s.cancelUnwind(ctx)
		}

		s.handle.SetCurrentStep(string(StateCVDetecting))
		detect, err := primitive.CVDetect(ctx, s.robot)
		if err != nil {
			return nil, fmt.Errorf("scan: cv_detect: %w", err)
		}
		if !detect.Detected {
			noDetect++
			if noDetect >= consecutiveNoDetectStop {
				break
			}
			continue
		}
		noDetect = 0

		if err := s.processDetection(ctx, detect); err != nil {
			if err == errStopLoop {
				break
			}
			if err == taskengine.ErrCancelled {
				return s.cancelUnwind(ctx)
			}
			return nil, err
		}
	}

	if err := s.unloadAtSplitStation(ctx); err != nil {
		return nil, err
	}

	s.doc.Success = true
	s.doc.Message = "ok"
	return &s.doc, nil
}

// processDetection runs GRABBING_BOTTLE -> SCANNING -> WAITING_ID_INPUT ->
// PUTTING_TO_BACK for one detection. A reservation failure triggers the
// return-and-cancel subroutine of spec.md §4.6 and ends the detect loop (not
// just this one detection) by returning errStopLoop, so the caller exits
// via the normal unload path with whatever already succeeded.
func (s *session) processDetection(ctx context.Context, detect primitive.CVDetectResult) error {
	s.handle.SetCurrentStep(string(StateGrabbingBottle))
	s.handle.SetCurrentBottleInfo(map[string]any{"type": string(detect.BottleType), "target_pose": detect.TargetPose})

	if err := primitive.GrabObject(ctx, s.robot, detect.BottleType, detect.TargetPose, inventory.HandLeft); err != nil {
		s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
			TargetPose: detect.TargetPose, Step: "grab_object", Code: apierr.CodePrimitiveRemoteError,
		})
		return nil
	}

	backSlot, err := findBackPlatformSlot(s.inv, detect.BottleType)
	if err != nil {
		s.returnToTemp(ctx, detect)
		s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
			TargetPose: detect.TargetPose, Step: "reserve", Code: apierr.CodeSlotUnknown,
		})
		return errStopLoop
	}

	s.pendingSeq++
	pendingID := fmt.Sprintf("scan-pending-%d", s.pendingSeq)
	res, err := s.inv.ReserveSlot(backSlot, pendingID, detect.BottleType)
	if err != nil {
		// Over-capacity: put the grabbed bottle back at its detect-temp
		// pose and end the session with whatever was already committed.
		s.returnToTemp(ctx, detect)
		s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
			TargetPose: detect.TargetPose, Step: "reserve", Code: apierr.CodeOverCapacity,
		})
		return errStopLoop
	}

	s.handle.SetCurrentStep(string(StateScanning))
	if err := primitive.Scan(ctx, s.robot); err != nil {
		s.inv.CancelReservation(res)
		s.returnToTemp(ctx, detect)
		s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
			TargetPose: detect.TargetPose, Step: "scan", Code: apierr.CodePrimitiveRemoteError,
		})
		return nil
	}

	s.handle.SetCurrentStep(string(StateWaitingIDInput))
	payload, err := s.awaitValidEnterID(ctx, detect.BottleType)
	if err != nil {
		s.inv.CancelReservation(res)
		s.returnToTemp(ctx, detect)
		return err
	}

	s.handle.SetCurrentStep(string(StatePuttingToBack))
	if err := primitive.TurnWaist(ctx, s.robot, 180, true); err != nil {
		s.inv.CancelReservation(res)
		s.returnToTemp(ctx, detect)
		s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
			TargetPose: detect.TargetPose, Step: "turn_waist", Code: apierr.CodePrimitiveRemoteError,
		})
		return nil
	}
	if err := primitive.PutObject(ctx, s.robot, detect.BottleType, backSlot, inventory.HandLeft, primitive.SafePosePreset); err != nil {
		s.inv.CancelReservation(res)
		s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
			TargetPose: detect.TargetPose, Step: "put_object", Code: apierr.CodePrimitiveRemoteError,
		})
		_ = primitive.TurnWaist(ctx, s.robot, 0, true)
		return nil
	}
	if err := s.inv.CommitPlaceAs(res, payload.BottleID); err != nil {
		return fmt.Errorf("scan: commit_place_as: %w", err)
	}

	s.handle.SetCurrentStep(string(StateTurningBackFront))
	_ = primitive.TurnWaist(ctx, s.robot, 0, true) // return-facing turn; a failure here does not unwind the commit

	s.doc.ScannedBottles = append(s.doc.ScannedBottles, ScannedBottle{
		BottleID:    payload.BottleID,
		ObjectType:  detect.BottleType,
		BackSlot:    backSlot,
		reservation: res,
	})
	s.handle.AppendCompletedStep("scanned:" + payload.BottleID)
	return nil
}

// awaitValidEnterID loops the ENTER_ID rendezvous until a bottle_type
// matching the vision-detected type arrives. Per spec.md §8, a type
// mismatch reports code 4003 to the ENTER_ID caller but leaves the task
// WAITING rather than abandoning the detection, so the operator can
// resubmit a corrected bottle_id. A CANCEL request is only observed
// between rendezvous attempts, consistent with the step-boundary
// cancellation model the rest of the session uses.
func (s *session) awaitValidEnterID(ctx context.Context, expected inventory.ObjectType) (taskengine.EnterIDPayload, error) {
	for {
		payload, err := s.handle.AwaitEnterID(ctx, taskengine.ValidateBottleType(expected))
		if err == nil {
			return payload, nil
		}
		if err != taskengine.ErrTypeMismatch {
			return taskengine.EnterIDPayload{}, err
		}
		if s.handle.Cancelled() {
			return taskengine.EnterIDPayload{}, taskengine.ErrCancelled
		}
	}
}

// errStopLoop signals processDetection's caller to exit the detect loop
// without treating it as a task failure — whatever was already scanned
// still gets unloaded at the split station.
var errStopLoop = errors.New("scan: stop detect loop")

// returnToTemp executes the inverse of grab_object, placing a
// not-yet-reserved bottle back at the detect-temp pose it came from.
func (s *session) returnToTemp(ctx context.Context, detect primitive.CVDetectResult) {
	_ = primitive.PutObject(ctx, s.robot, detect.BottleType, detect.TargetPose, inventory.HandLeft, primitive.SafePosePreset)
}

func (s *session) unloadAtSplitStation(ctx context.Context) error {
	if len(s.doc.ScannedBottles) == 0 {
		return nil
	}

	s.handle.SetCurrentStep(string(StateNavigatingToSplit))
	if err := primitive.WaitingNavigationStatus(ctx, s.robot); err != nil {
		return fmt.Errorf("scan: waiting_navigation_status: %w", err)
	}
	if err := primitive.NavigationToPose(ctx, s.robot, splitStationNav); err != nil {
		return fmt.Errorf("scan: navigation_to_pose(%s): %w", splitStationNav, err)
	}

	for _, bottle := range s.doc.ScannedBottles {
		if s.handle.Cancelled() {
			return taskengine.ErrCancelled
		}
		s.handle.SetCurrentStep(string(StatePuttingDown))

		splitSlot, err := findSplitStationSlot(s.inv, bottle.ObjectType)
		if err != nil {
			s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
				TargetPose: bottle.BackSlot, Step: "split_reserve", Code: apierr.CodeSlotUnknown,
			})
			continue
		}
		dest, err := s.inv.ReserveSlot(splitSlot, bottle.BottleID, bottle.ObjectType)
		if err != nil {
			s.doc.FailedDetections = append(s.doc.FailedDetections, FailedDetection{
				TargetPose: bottle.BackSlot, Step: "split_reserve", Code: apierr.CodeSlotFull,
			})
			continue
		}

		if err := primitive.TurnWaist(ctx, s.robot, 180, true); err != nil {
			s.inv.CancelReservation(dest)
			continue
		}
		if err := primitive.GrabObject(ctx, s.robot, bottle.ObjectType, bottle.BackSlot, inventory.HandLeft); err != nil {
			s.inv.CancelReservation(dest)
			continue
		}
		if err := primitive.TurnWaist(ctx, s.robot, 0, true); err != nil {
			s.inv.CancelReservation(dest)
			continue
		}
		if err := primitive.PutObject(ctx, s.robot, bottle.ObjectType, splitSlot, inventory.HandLeft, primitive.SafePosePreset); err != nil {
			s.inv.CancelReservation(dest)
			continue
		}
		if err := s.inv.CommitPlace(dest); err != nil {
			continue
		}
		_ = s.inv.CommitRemove(bottle.BackSlot, bottle.BottleID)
	}
	return nil
}

// cancelUnwind implements the CANCEL path of spec.md §4.6: whatever was
// already scanned stays scanned (it is no longer holdable state, it has
// been committed to the back platform), but the session does not proceed to
// the split-station unload — it simply stops and reports CANCELLED.
func (s *session) cancelUnwind(ctx context.Context) (*ResultDoc, error) {
	s.doc.Success = false
	s.doc.Message = "cancelled"
	return &s.doc, taskengine.ErrCancelled
}

func findBackPlatformSlot(inv *inventory.Inventory, objectType inventory.ObjectType) (string, error) {
	for _, slot := range inv.SlotsByNavigation("back_platform") {
		if slot.AcceptedType == objectType {
			return slot.PoseName, nil
		}
	}
	return "", fmt.Errorf("scan: no back-platform slot configured for object_type %q", objectType)
}

func findSplitStationSlot(inv *inventory.Inventory, objectType inventory.ObjectType) (string, error) {
	for _, slot := range inv.SlotsByNavigation(splitStationNav) {
		if slot.AcceptedType == objectType {
			return slot.PoseName, nil
		}
	}
	return "", fmt.Errorf("scan: no split-station slot configured for object_type %q", objectType)
}
