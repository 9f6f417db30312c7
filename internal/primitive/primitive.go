// Package primitive wraps the seven robot actions spec.md §4.3 names into
// typed Go functions over an rpc.Client, translating domain arguments into
// the call_service wire shape and the raw JSON result back into domain
// values. Nothing here retries or interprets failures beyond unwrapping —
// that's the command and scan layers' job.
package primitive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/rpc"
)

const (
	serviceNavigation = "/navigation_status"
	serviceStrawberry = "/get_strawberry_service"
)

// SafePose is the wrist pose put_object retracts to after release.
type SafePose string

const (
	SafePosePreset   SafePose = "preset"
	SafePoseLiftUp   SafePose = "lift_up"
	SafePoseRetract  SafePose = "retract"
)

// WaitingNavigationStatus blocks until the robot reports it is idle and
// ready to accept a new navigation target.
func WaitingNavigationStatus(ctx context.Context, c *rpc.Client) error {
	_, err := c.SendRequest(ctx, serviceNavigation, "waiting_navigation_status", nil)
	return err
}

// NavigationToPose commands the robot to drive to the named navigation
// waypoint, idempotently retryable per spec.md §4.3.
func NavigationToPose(ctx context.Context, c *rpc.Client, navigationPose string) error {
	_, err := c.SendRequest(ctx, serviceNavigation, "navigation_to_pose", map[string]any{
		"navigation_pose": navigationPose,
	})
	return err
}

// GrabObject commands the manipulator to pick a bottle of objectType up
// from targetPose with the given hand. hand is passed through unchanged —
// see DESIGN.md's note on the unresolved left/right convention.
func GrabObject(ctx context.Context, c *rpc.Client, objectType inventory.ObjectType, targetPose string, hand inventory.Hand) error {
	_, err := c.SendRequest(ctx, serviceStrawberry, "grab_object", map[string]any{
		"type":        string(objectType),
		"target_pose": targetPose,
		"hand":        string(hand),
	})
	return err
}

// TurnWaist rotates the robot's waist joint to angleDeg (must be within
// [-180, 180]). Idempotently retryable per spec.md §4.3.
func TurnWaist(ctx context.Context, c *rpc.Client, angleDeg float64, obstacleAvoidance bool) error {
	_, err := c.SendRequest(ctx, serviceStrawberry, "turn_waist", map[string]any{
		"angle":              angleDeg,
		"obstacle_avoidance": obstacleAvoidance,
	})
	return err
}

// PutObject commands the manipulator to release a bottle of objectType at
// targetPose using the given hand, retracting to safePose afterward.
func PutObject(ctx context.Context, c *rpc.Client, objectType inventory.ObjectType, targetPose string, hand inventory.Hand, safePose SafePose) error {
	_, err := c.SendRequest(ctx, serviceStrawberry, "put_object", map[string]any{
		"type":        string(objectType),
		"target_pose": targetPose,
		"hand":        string(hand),
		"safe_pose":   string(safePose),
	})
	return err
}

// Scan triggers the robot's QR/barcode scan gun.
func Scan(ctx context.Context, c *rpc.Client) error {
	_, err := c.SendRequest(ctx, serviceStrawberry, "scan", nil)
	return err
}

// CVDetectResult is the decoded reply from a cv_detect call. Detected is
// false when the vision pass found nothing this cycle.
type CVDetectResult struct {
	Detected   bool
	TargetPose string
	BottleType inventory.ObjectType
}

type cvDetectWire struct {
	TargetPose string `json:"target_pose"`
	BottleType string `json:"bottle_type"`
}

// CVDetect triggers a vision pass at the robot's current pose and decodes
// the candidate bottle it sees, if any.
func CVDetect(ctx context.Context, c *rpc.Client) (CVDetectResult, error) {
	raw, err := c.SendRequest(ctx, serviceStrawberry, "cv_detect", nil)
	if err != nil {
		return CVDetectResult{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return CVDetectResult{}, nil
	}
	var wire cvDetectWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return CVDetectResult{}, fmt.Errorf("primitive: decode cv_detect result: %w", err)
	}
	if wire.TargetPose == "" {
		return CVDetectResult{}, nil
	}
	return CVDetectResult{
		Detected:   true,
		TargetPose: wire.TargetPose,
		BottleType: inventory.ObjectType(wire.BottleType),
	}, nil
}
