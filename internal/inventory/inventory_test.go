package inventory

import "testing"

func newFixture() *Inventory {
	inv := New()
	inv.LoadSlot(Slot{PoseName: "shelf_a1", Category: CategoryShelf, NavigationPose: "nav_shelf", AcceptedType: Glass1000, Capacity: 1})
	inv.LoadSlot(Slot{PoseName: "back_platform_1000", Category: CategoryBackPlatform, NavigationPose: "nav_back", AcceptedType: Glass1000, Capacity: 2})
	inv.LoadSlot(Slot{PoseName: "worktable_1", Category: CategoryWorktable, NavigationPose: "nav_work", Capacity: 4})
	inv.LoadBottle(Bottle{BottleID: "b1", ObjectType: Glass1000, Location: "shelf_a1"})
	return inv
}

func TestReserveSlotTypeMismatch(t *testing.T) {
	inv := newFixture()
	_, err := inv.ReserveSlot("shelf_a1", "b2", Glass500)
	if err != ErrTypeMismatch {
		t.Fatalf("want ErrTypeMismatch, got %v", err)
	}
}

func TestReserveSlotFullAfterCapacityReached(t *testing.T) {
	inv := newFixture()
	r1, err := inv.ReserveSlot("back_platform_1000", "b2", Glass1000)
	if err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if err := inv.CommitPlace(r1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	r2, err := inv.ReserveSlot("back_platform_1000", "b3", Glass1000)
	if err != nil {
		t.Fatalf("second reservation: %v", err)
	}
	if err := inv.CommitPlace(r2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := inv.ReserveSlot("back_platform_1000", "b4", Glass1000); err != ErrSlotFull {
		t.Fatalf("want ErrSlotFull, got %v", err)
	}
}

func TestCancelReservationFreesCapacity(t *testing.T) {
	inv := newFixture()
	r, err := inv.ReserveSlot("shelf_a1", "b9", Glass1000)
	if err == nil {
		t.Fatalf("shelf_a1 already holds b1 at capacity 1, expected ErrSlotFull")
	}
	// reserve against an empty slot, then cancel, then reserve again.
	r, err = inv.ReserveSlot("back_platform_1000", "b9", Glass1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	inv.CancelReservation(r)
	slot, err := inv.LookupSlot("back_platform_1000")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(slot.Occupants) != 0 {
		t.Fatalf("want 0 occupants after cancel, got %d", len(slot.Occupants))
	}
	if _, err := inv.ReserveSlot("back_platform_1000", "b10", Glass1000); err != nil {
		t.Fatalf("reserve after cancel: %v", err)
	}
}

func TestCommitPlaceUpdatesBottleLocation(t *testing.T) {
	inv := newFixture()
	r, err := inv.ReserveSlot("worktable_1", "b1", Glass1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := inv.CommitPlace(r); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b, err := inv.LookupBottle("b1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if b.Location != "worktable_1" {
		t.Fatalf("want location worktable_1, got %q", b.Location)
	}
}

func TestCommitPlaceRejectsStaleReservation(t *testing.T) {
	inv := newFixture()
	r, err := inv.ReserveSlot("worktable_1", "b5", Glass1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := inv.CommitPlace(r); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := inv.CommitPlace(r); err != ErrStaleReservation {
		t.Fatalf("want ErrStaleReservation on replay, got %v", err)
	}
}

func TestCommitRemoveClearsLocation(t *testing.T) {
	inv := newFixture()
	if err := inv.CommitRemove("shelf_a1", "b1"); err != nil {
		t.Fatalf("commit remove: %v", err)
	}
	b, err := inv.LookupBottle("b1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if b.Location != "" {
		t.Fatalf("want empty location, got %q", b.Location)
	}
	slot, err := inv.LookupSlot("shelf_a1")
	if err != nil {
		t.Fatalf("lookup slot: %v", err)
	}
	if len(slot.Occupants) != 0 {
		t.Fatalf("want 0 occupants, got %d", len(slot.Occupants))
	}
}

func TestSlotsByNavigationOrdering(t *testing.T) {
	inv := New()
	inv.LoadSlot(Slot{PoseName: "z_slot", NavigationPose: "nav1", Capacity: 1})
	inv.LoadSlot(Slot{PoseName: "a_slot", NavigationPose: "nav1", Capacity: 1})
	inv.LoadSlot(Slot{PoseName: "other", NavigationPose: "nav2", Capacity: 1})

	slots := inv.SlotsByNavigation("nav1")
	if len(slots) != 2 {
		t.Fatalf("want 2 slots, got %d", len(slots))
	}
	if slots[0].PoseName != "a_slot" || slots[1].PoseName != "z_slot" {
		t.Fatalf("want lexicographic order, got %v, %v", slots[0].PoseName, slots[1].PoseName)
	}
}

func TestSummaryByBottleID(t *testing.T) {
	inv := newFixture()
	out := inv.Summary(SummaryFilter{BottleID: "b1", Detail: true})
	if len(out) != 1 {
		t.Fatalf("want 1 result, got %d", len(out))
	}
	if out[0]["location"] != "shelf_a1" {
		t.Fatalf("want location shelf_a1, got %v", out[0]["location"])
	}
}

func TestSummaryBySlot(t *testing.T) {
	inv := newFixture()
	out := inv.Summary(SummaryFilter{PoseName: "shelf_a1"})
	if len(out) != 1 || out[0]["bottle_id"] != "b1" {
		t.Fatalf("want b1 in shelf_a1, got %v", out)
	}
}

func TestReservationDoesNotLeakPlaceholderIntoSummary(t *testing.T) {
	inv := newFixture()
	if _, err := inv.ReserveSlot("worktable_1", "b7", Glass1000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	out := inv.Summary(SummaryFilter{PoseName: "worktable_1"})
	if len(out) != 0 {
		t.Fatalf("uncommitted reservation must not appear in summary, got %v", out)
	}
}

func TestCommitPlaceAsRebindsPlaceholderIdentity(t *testing.T) {
	inv := newFixture()
	r, err := inv.ReserveSlot("back_platform_1000", "provisional-1", Glass1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := inv.CommitPlaceAs(r, "b42"); err != nil {
		t.Fatalf("commit as: %v", err)
	}

	if _, err := inv.LookupBottle("provisional-1"); err != ErrBottleNotFound {
		t.Fatalf("provisional id must not resolve, got %v", err)
	}
	b, err := inv.LookupBottle("b42")
	if err != nil {
		t.Fatalf("lookup b42: %v", err)
	}
	if b.Location != "back_platform_1000" {
		t.Fatalf("want location back_platform_1000, got %q", b.Location)
	}

	slot, err := inv.LookupSlot("back_platform_1000")
	if err != nil {
		t.Fatalf("lookup slot: %v", err)
	}
	if len(slot.Occupants) != 1 || slot.Occupants[0] != "b42" {
		t.Fatalf("want occupants [b42], got %v", slot.Occupants)
	}
}

func TestCommitPlaceAsRejectsStaleReservation(t *testing.T) {
	inv := newFixture()
	r, err := inv.ReserveSlot("back_platform_1000", "provisional-2", Glass1000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := inv.CommitPlaceAs(r, "b43"); err != nil {
		t.Fatalf("first commit as: %v", err)
	}
	if err := inv.CommitPlaceAs(r, "b43"); err != ErrStaleReservation {
		t.Fatalf("want ErrStaleReservation on replay, got %v", err)
	}
}
