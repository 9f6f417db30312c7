// Package planner implements the navigation-minimizing route planner of
// spec.md §4.4: Variant A (PICK_UP), Variant B (PUT_TO), and Variant C
// (TRANSFER, built by chaining A and B in alternating batches bounded by
// the robot's back-platform capacity). All tie-breaks are lexicographic so
// plans are deterministic and testable.
package planner

import (
	"fmt"
	"sort"

	"github.com/labworkcell/orchestrator/internal/inventory"
)

// BackPlatformNav is the navigation_pose convention for slots that live on
// the robot itself (glossary: "back platform").
const BackPlatformNav = "back_platform"

// backPlatformTypeCapacity and backPlatformTotalCapacity bound how many
// bottles Variant C will stage on the platform in a single batch.
const (
	backPlatformTypeCapacity  = 2
	backPlatformTotalCapacity = 8
)

// RejectCode mirrors the subset of spec.md §6 unified error codes a planner
// reject can produce.
type RejectCode int

const (
	CodeBottleUnknown RejectCode = 2000
	CodeSlotUnknown    RejectCode = 2001
	CodeSlotFull       RejectCode = 2002
	CodeTypeMismatch   RejectCode = 2003
	CodeOverCapacity   RejectCode = 2004
)

// Rejected records why a bottle could not be placed into any leg.
type Rejected struct {
	BottleID string
	Code     RejectCode
}

// PickupAssignment is one bottle's grab-then-stow instruction within a
// pickup leg.
type PickupAssignment struct {
	BottleID    string
	ObjectType  inventory.ObjectType
	SourcePose  string
	Hand        inventory.Hand
	BackSlot    string
	Reservation inventory.Reservation
	Held        bool // whether Reservation is live and must be committed/cancelled by the caller
}

// PickupLeg is a maximal sub-plan executed at a single navigation_pose,
// grabbing bottles from their shelf/worktable source poses.
type PickupLeg struct {
	NavigationPose string
	Bottles        []PickupAssignment
}

// PickupPlan is the output of Variant A.
type PickupPlan struct {
	Legs     []PickupLeg
	Rejected []Rejected
}

type resolvedPickup struct {
	bottleID   string
	objectType inventory.ObjectType
	sourceNav  string
	sourcePose string
	hand       inventory.Hand
}

// PlanPickup implements Variant A. hold controls whether back-platform
// reservations are returned live (for the handler to Commit/Cancel once the
// physical put_object primitive runs) or released immediately after
// grouping, which leaves only the grouping and the reject list. The PICK_UP
// and TAKE_BOTTOL_FROM_SP_TO_SP handlers both call it with hold=true.
func PlanPickup(inv *inventory.Inventory, bottleIDs []string, hold bool) (PickupPlan, error) {
	var resolved []resolvedPickup
	var rejected []Rejected

	for _, id := range bottleIDs {
		b, err := inv.LookupBottle(id)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: id, Code: CodeBottleUnknown})
			continue
		}
		if b.Location == "" {
			rejected = append(rejected, Rejected{BottleID: id, Code: CodeSlotUnknown})
			continue
		}
		slot, err := inv.LookupSlot(b.Location)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: id, Code: CodeSlotUnknown})
			continue
		}
		resolved = append(resolved, resolvedPickup{
			bottleID:   id,
			objectType: b.ObjectType,
			sourceNav:  slot.NavigationPose,
			sourcePose: slot.PoseName,
			hand:       b.Hand,
		})
	}

	groups := make(map[string][]resolvedPickup)
	for _, r := range resolved {
		groups[r.sourceNav] = append(groups[r.sourceNav], r)
	}
	navOrder := orderGroupsBySizeDesc(groups)

	plan := PickupPlan{Rejected: rejected}
	for _, nav := range navOrder {
		bottles := groups[nav]
		sort.Slice(bottles, func(i, j int) bool {
			if bottles[i].objectType != bottles[j].objectType {
				return bottles[i].objectType < bottles[j].objectType
			}
			return bottles[i].bottleID < bottles[j].bottleID
		})

		var leg PickupLeg
		leg.NavigationPose = nav
		for _, r := range bottles {
			backSlot, err := findBackPlatformSlot(inv, r.objectType)
			if err != nil {
				plan.Rejected = append(plan.Rejected, Rejected{BottleID: r.bottleID, Code: CodeSlotUnknown})
				continue
			}
			res, err := inv.ReserveSlot(backSlot, r.bottleID, r.objectType)
			if err != nil {
				plan.Rejected = append(plan.Rejected, Rejected{BottleID: r.bottleID, Code: codeForReserveErr(err, CodeOverCapacity)})
				continue
			}
			assignment := PickupAssignment{
				BottleID:   r.bottleID,
				ObjectType: r.objectType,
				SourcePose: r.sourcePose,
				Hand:       r.hand,
				BackSlot:   backSlot,
			}
			if hold {
				assignment.Reservation = res
				assignment.Held = true
			} else {
				inv.CancelReservation(res)
			}
			leg.Bottles = append(leg.Bottles, assignment)
		}
		if len(leg.Bottles) > 0 {
			plan.Legs = append(plan.Legs, leg)
		}
	}

	return plan, nil
}

// PutAssignment is one bottle's unload instruction within a put leg.
type PutAssignment struct {
	BottleID    string
	ObjectType  inventory.ObjectType
	Hand        inventory.Hand
	SourcePose  string // current (back-platform) location the bottle is grabbed from
	ReleasePose string
	Reservation inventory.Reservation
}

// PutLeg is a maximal sub-plan executed at a single navigation_pose,
// releasing bottles into their destination slots.
type PutLeg struct {
	NavigationPose string
	Bottles        []PutAssignment
}

// PutPlan is the output of Variant B.
type PutPlan struct {
	Legs     []PutLeg
	Rejected []Rejected
}

// ReleaseRequest names a bottle and the slot it should be released into.
type ReleaseRequest struct {
	BottleID    string
	ReleasePose string
}

type resolvedPut struct {
	bottleID    string
	objectType  inventory.ObjectType
	hand        inventory.Hand
	sourcePose  string
	releasePose string
	releaseNav  string
	reservation inventory.Reservation
}

// PlanPut implements Variant B. Destination reservations are always held —
// they are consumed by the handler's CommitPlace once the real put_object
// primitive for that bottle succeeds.
func PlanPut(inv *inventory.Inventory, requests []ReleaseRequest) (PutPlan, error) {
	var resolved []resolvedPut
	var rejected []Rejected

	for _, req := range requests {
		b, err := inv.LookupBottle(req.BottleID)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: req.BottleID, Code: CodeBottleUnknown})
			continue
		}
		slot, err := inv.LookupSlot(req.ReleasePose)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: req.BottleID, Code: CodeSlotUnknown})
			continue
		}
		res, err := inv.ReserveSlot(req.ReleasePose, req.BottleID, b.ObjectType)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: req.BottleID, Code: codeForReserveErr(err, CodeSlotFull)})
			continue
		}
		resolved = append(resolved, resolvedPut{
			bottleID:    req.BottleID,
			objectType:  b.ObjectType,
			hand:        b.Hand,
			sourcePose:  b.Location,
			releasePose: req.ReleasePose,
			releaseNav:  slot.NavigationPose,
			reservation: res,
		})
	}

	groups := make(map[string][]resolvedPut)
	for _, r := range resolved {
		groups[r.releaseNav] = append(groups[r.releaseNav], r)
	}
	sizes := make(map[string]int, len(groups))
	for nav, items := range groups {
		sizes[nav] = len(items)
	}
	navOrder := orderKeysBySizeDesc(sizes)

	plan := PutPlan{Rejected: rejected}
	for _, nav := range navOrder {
		items := groups[nav]
		sort.Slice(items, func(i, j int) bool {
			if items[i].releasePose != items[j].releasePose {
				return items[i].releasePose < items[j].releasePose
			}
			return items[i].bottleID < items[j].bottleID
		})
		leg := PutLeg{NavigationPose: nav}
		for _, r := range items {
			leg.Bottles = append(leg.Bottles, PutAssignment{
				BottleID:    r.bottleID,
				ObjectType:  r.objectType,
				Hand:        r.hand,
				SourcePose:  r.sourcePose,
				ReleasePose: r.releasePose,
				Reservation: r.reservation,
			})
		}
		plan.Legs = append(plan.Legs, leg)
	}

	return plan, nil
}

// TransferRequest pairs a bottle with its destination release_pose for a
// TAKE_BOTTOL_FROM_SP_TO_SP command.
type TransferRequest struct {
	BottleID    string
	ReleasePose string
}

// TransferBatch is one round of Variant C: a set of transfer requests sized
// to fit within the back platform's per-type and total capacity in a single
// pickup-then-put trip.
type TransferBatch struct {
	Requests []TransferRequest
}

type transferItem struct {
	bottleID    string
	objectType  inventory.ObjectType
	releasePose string
	releaseNav  string
}

// PlanTransferBatches implements the batching half of Variant C: it groups
// validated transfer requests into back-platform-capacity-bounded rounds.
// It deliberately does not reserve slots or build the pickup/put sub-plans
// for those rounds — the back-platform slot a bottle lands in, and
// therefore the put leg's source pose, is only known once that round's
// pickup has actually executed against the robot, so the caller must plan
// and run each batch's pickup (PlanPickup) before planning its put
// (PlanPut).
func PlanTransferBatches(inv *inventory.Inventory, requests []TransferRequest) (batches []TransferBatch, rejected []Rejected) {
	var remaining []transferItem

	for _, req := range requests {
		b, err := inv.LookupBottle(req.BottleID)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: req.BottleID, Code: CodeBottleUnknown})
			continue
		}
		slot, err := inv.LookupSlot(req.ReleasePose)
		if err != nil {
			rejected = append(rejected, Rejected{BottleID: req.BottleID, Code: CodeSlotUnknown})
			continue
		}
		remaining = append(remaining, transferItem{
			bottleID:    req.BottleID,
			objectType:  b.ObjectType,
			releasePose: req.ReleasePose,
			releaseNav:  slot.NavigationPose,
		})
	}

	for len(remaining) > 0 {
		batch, rest := selectBatch(remaining)
		if len(batch) == 0 {
			// Safeguard against a pathological item that can never be
			// batched; surface the rest as rejected rather than looping
			// forever.
			for _, item := range rest {
				rejected = append(rejected, Rejected{BottleID: item.bottleID, Code: CodeOverCapacity})
			}
			break
		}
		remaining = rest

		reqs := make([]TransferRequest, len(batch))
		for i, item := range batch {
			reqs[i] = TransferRequest{BottleID: item.bottleID, ReleasePose: item.releasePose}
		}
		batches = append(batches, TransferBatch{Requests: reqs})
	}

	return batches, rejected
}

// selectBatch greedily fills up to backPlatformTotalCapacity items (at most
// backPlatformTypeCapacity per object_type), preferring items whose
// release navigation_pose clusters with the most other pending items so
// later put legs stay few. Ties break lexicographically on release nav,
// then release pose, then bottle_id for determinism.
func selectBatch(items []transferItem) (batch, rest []transferItem) {
	navCount := make(map[string]int, len(items))
	for _, it := range items {
		navCount[it.releaseNav]++
	}

	ordered := append([]transferItem(nil), items...)
	sort.Slice(ordered, func(i, j int) bool {
		ci, cj := navCount[ordered[i].releaseNav], navCount[ordered[j].releaseNav]
		if ci != cj {
			return ci > cj
		}
		if ordered[i].releaseNav != ordered[j].releaseNav {
			return ordered[i].releaseNav < ordered[j].releaseNav
		}
		if ordered[i].releasePose != ordered[j].releasePose {
			return ordered[i].releasePose < ordered[j].releasePose
		}
		return ordered[i].bottleID < ordered[j].bottleID
	})

	typeCount := make(map[inventory.ObjectType]int)
	taken := make(map[string]bool, len(ordered))
	total := 0
	for _, it := range ordered {
		if total >= backPlatformTotalCapacity {
			break
		}
		if typeCount[it.objectType] >= backPlatformTypeCapacity {
			continue
		}
		batch = append(batch, it)
		taken[it.bottleID] = true
		typeCount[it.objectType]++
		total++
	}

	for _, it := range items {
		if !taken[it.bottleID] {
			rest = append(rest, it)
		}
	}
	return batch, rest
}

func findBackPlatformSlot(inv *inventory.Inventory, objectType inventory.ObjectType) (string, error) {
	for _, slot := range inv.SlotsByNavigation(BackPlatformNav) {
		if slot.AcceptedType == objectType {
			return slot.PoseName, nil
		}
	}
	return "", fmt.Errorf("planner: no back-platform slot configured for object_type %q", objectType)
}

func codeForReserveErr(err error, fullCode RejectCode) RejectCode {
	switch err {
	case inventory.ErrSlotFull:
		return fullCode
	case inventory.ErrTypeMismatch:
		return CodeTypeMismatch
	case inventory.ErrSlotNotFound:
		return CodeSlotUnknown
	default:
		return CodeSlotUnknown
	}
}

func orderGroupsBySizeDesc(groups map[string][]resolvedPickup) []string {
	sizes := make(map[string]int, len(groups))
	for k, v := range groups {
		sizes[k] = len(v)
	}
	return orderKeysBySizeDesc(sizes)
}

func orderKeysBySizeDesc(sizes map[string]int) []string {
	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if sizes[keys[i]] != sizes[keys[j]] {
			return sizes[keys[i]] > sizes[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
