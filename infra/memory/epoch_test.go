package memory

import "testing"

type testNode struct {
	epoch uint64
	freed bool
}

func (n *testNode) RetireEpoch() uint64     { return n.epoch }
func (n *testNode) SetRetireEpoch(e uint64) { n.epoch = e }
func (n *testNode) Reclaim()                { n.freed = true }

func TestTwoEpochRule(t *testing.T) {
	rec := NewReclaimer(1, 8)
	h := rec.Register()

	n := &testNode{}
	h.Retire(n)

	if rec.Collect() != 0 {
		t.Fatal("node reclaimed in its retirement epoch")
	}
	if !rec.TryAdvance() {
		t.Fatal("advance failed with no pinned threads")
	}
	if rec.Collect() != 0 {
		t.Fatal("node reclaimed one epoch after retirement")
	}
	if !rec.TryAdvance() {
		t.Fatal("second advance failed")
	}
	if rec.Collect() != 1 {
		t.Fatal("node not reclaimed two epochs after retirement")
	}
	if !n.freed {
		t.Error("Reclaim was not called")
	}
}

func TestPinBlocksAdvance(t *testing.T) {
	rec := NewReclaimer(1, 8)
	h := rec.Register()

	h.Pin()
	if !rec.TryAdvance() {
		t.Fatal("thread pinned at the current epoch must not block advance")
	}
	if rec.TryAdvance() {
		t.Fatal("thread pinned at a stale epoch must block advance")
	}
	h.Unpin()
	if !rec.TryAdvance() {
		t.Fatal("unpinned thread must not block advance")
	}
}

func TestPinnedReaderDefersReclaim(t *testing.T) {
	rec := NewReclaimer(2, 8)
	reader := rec.Register()
	writer := rec.Register()

	reader.Pin()
	n := &testNode{}
	writer.Retire(n)

	rec.TryAdvance()
	rec.TryAdvance()
	if rec.Collect() != 0 {
		t.Fatal("node reclaimed while a reader from its epoch is still pinned")
	}

	reader.Unpin()
	rec.TryAdvance()
	rec.TryAdvance()
	if rec.Collect() != 1 {
		t.Fatal("node not reclaimed after the reader unpinned")
	}
	if !n.freed {
		t.Error("Reclaim was not called")
	}
}

func TestReentrantPin(t *testing.T) {
	rec := NewReclaimer(1, 8)
	h := rec.Register()

	h.Pin()
	h.Pin()
	h.Unpin()
	if !h.Pinned() {
		t.Fatal("inner Unpin must not clear the outer pin")
	}
	if h.Epoch() == inactive {
		t.Fatal("epoch record cleared while still pinned")
	}
	h.Unpin()
	if h.Pinned() {
		t.Fatal("outermost Unpin must clear the pin")
	}
	if h.Epoch() != inactive {
		t.Fatal("epoch record not cleared after outermost Unpin")
	}
}

func TestUnpinWithoutPinPanics(t *testing.T) {
	rec := NewReclaimer(1, 8)
	h := rec.Register()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced Unpin")
		}
	}()
	h.Unpin()
}

func TestRegistrationLimit(t *testing.T) {
	rec := NewReclaimer(1, 8)
	rec.Register()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic past the registration bound")
		}
	}()
	rec.Register()
}

func TestCollectStopsAtFirstUnsafeNode(t *testing.T) {
	rec := NewReclaimer(1, 8)
	h := rec.Register()

	early := &testNode{}
	h.Retire(early)

	rec.TryAdvance()
	rec.TryAdvance()
	late := &testNode{}
	h.Retire(late)

	// early is two epochs old, late is not.
	if rec.Collect() != 1 {
		t.Fatal("expected exactly the early node to be reclaimed")
	}
	if !early.freed || late.freed {
		t.Fatal("wrong node reclaimed")
	}
	if rec.Pending() != 1 {
		t.Fatalf("expected 1 pending node, got %d", rec.Pending())
	}
}
