// Package scan implements the SCAN_QRCODE long-running state machine of
// spec.md §4.6: cv_detect drives a grab/scan/wait-for-id/commit loop against
// the robot's back platform, with a return-and-cancel subroutine to keep the
// physical world consistent with the inventory ledger when capacity runs
// out mid-session.
package scan

// State is one step of a scan session, surfaced to status pollers via
// taskengine.Handle.SetCurrentStep.
type State string

const (
	StateNavigatingToScan State = "NAVIGATING_TO_SCAN"
	StateGrabScanGun      State = "GRAB_SCAN_GUN"
	StateCVDetecting      State = "CV_DETECTING"
	StateGrabbingBottle   State = "GRABBING_BOTTLE"
	StateScanning         State = "SCANNING"
	StateWaitingIDInput   State = "WAITING_ID_INPUT"
	StatePuttingToBack    State = "PUTTING_TO_BACK"
	StateTurningBackFront State = "TURNING_BACK_FRONT"
	StateNavigatingToSplit State = "NAVIGATING_TO_SPLIT"
	StatePuttingDown      State = "PUTTING_DOWN"

	StateCompleted State = "COMPLETED"
	StateError     State = "ERROR"
	StateCancelled State = "CANCELLED"
)

// scanTableNav and splitStationNav are the two navigation waypoints a scan
// session visits: once at the start to reach the scan gun and detect
// stream, once at the end to unload everything scanned.
const (
	scanTableNav    = "scan_table"
	splitStationNav = "split_station"
)

// scanGunPose is the fixed pose the scan gun lives at when not in hand. It
// has no inventory slot of its own and is not tracked as occupant state.
// A session grabs the gun from here and does not put it back.
const scanGunPose = "scan_gun_rack"
