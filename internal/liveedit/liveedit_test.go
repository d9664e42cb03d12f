package liveedit

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"collabrelay/internal/auth"
	"collabrelay/internal/channel"
	"collabrelay/internal/client"
	"collabrelay/pkg/types"
)

// fakeEditor is a string buffer that fires a change event after every
// applied delta, the way a real editor widget does.
type fakeEditor struct {
	buf      string
	onChange func(offset, removed int, added string)
}

func (e *fakeEditor) Content() string { return e.buf }

func (e *fakeEditor) SetContent(content string) error {
	e.buf = content
	return nil
}

func (e *fakeEditor) ApplyDelta(offset, removed int, added string) error {
	if offset < 0 || offset+removed > len(e.buf) {
		return fmt.Errorf("delta out of range: offset %d removed %d in %d chars", offset, removed, len(e.buf))
	}
	e.buf = e.buf[:offset] + added + e.buf[offset+removed:]
	if e.onChange != nil {
		e.onChange(offset, removed, added)
	}
	return nil
}

type liveTestPeer struct {
	peer  *client.Peer
	coord *Coordinator
}

func newLivePeer(t *testing.T, bus *channel.Router) *liveTestPeer {
	t.Helper()
	peer, err := client.Attach(context.Background(), bus, "alice", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := peer.Join(context.Background(), "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	coord := NewCoordinator(peer, zap.NewNop().Sugar())
	coord.Start()
	return &liveTestPeer{peer: peer, coord: coord}
}

func demoKey() Key {
	return Key{Username: "alice", Project: "demo", Path: "main.go"}
}

func TestDeltaPropagationAndMuteGuard(t *testing.T) {
	bus := channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
	a := newLivePeer(t, bus)
	b := newLivePeer(t, bus)

	base := "hello world"
	hash := ContentHash(base)
	edA := &fakeEditor{buf: base}
	edB := &fakeEditor{buf: base}

	sessA, err := a.coord.StartLiveEdit(demoKey(), edA, hash, 100)
	if err != nil {
		t.Fatalf("StartLiveEdit A: %v", err)
	}
	sessB, err := b.coord.StartLiveEdit(demoKey(), edB, hash, 100)
	if err != nil {
		t.Fatalf("StartLiveEdit B: %v", err)
	}

	// B's editor rebroadcasts every change event it sees. Applying a
	// remote delta fires that event under the mute guard, so nothing must
	// loop back to A.
	echoes := 0
	edB.onChange = func(offset, removed int, added string) {
		if err := b.coord.BroadcastChange(sessB, offset, removed, added); err != nil {
			t.Errorf("echo broadcast: %v", err)
		}
	}
	edA.onChange = func(int, int, string) { echoes++ }

	// A types "big " at offset 6: "hello world" -> "hello big world".
	if err := edA.ApplyDelta(6, 0, "big "); err != nil {
		t.Fatalf("local apply: %v", err)
	}
	echoes = 0
	if err := a.coord.BroadcastChange(sessA, 6, 0, "big "); err != nil {
		t.Fatalf("BroadcastChange: %v", err)
	}

	if edB.buf != "hello big world" {
		t.Errorf("peer buffer = %q, want %q", edB.buf, "hello big world")
	}
	if echoes != 0 {
		t.Errorf("remote apply echoed back %d times", echoes)
	}
	if !sessB.Dirty() {
		t.Error("receiving session should be dirty after a delta")
	}
}

func TestStartedResponseHandsOverDivergedContent(t *testing.T) {
	bus := channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
	a := newLivePeer(t, bus)
	b := newLivePeer(t, bus)

	base := "package main"
	hash := ContentHash(base)

	// A has unsaved live changes beyond the shared save-point.
	edA := &fakeEditor{buf: base + " // edited"}
	if _, err := a.coord.StartLiveEdit(demoKey(), edA, hash, 100); err != nil {
		t.Fatalf("StartLiveEdit A: %v", err)
	}

	// B opens the same resource at the same save-point and converges onto
	// A's live buffer through the started handshake.
	edB := &fakeEditor{buf: base}
	if _, err := b.coord.StartLiveEdit(demoKey(), edB, hash, 100); err != nil {
		t.Fatalf("StartLiveEdit B: %v", err)
	}

	if edB.buf != base+" // edited" {
		t.Errorf("buffer after handshake = %q, want handed-over live content", edB.buf)
	}
}

func TestStartedResponseSkipsContentWhenConverged(t *testing.T) {
	bus := channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
	a := newLivePeer(t, bus)
	b := newLivePeer(t, bus)

	base := "package main"
	hash := ContentHash(base)

	edA := &fakeEditor{buf: base}
	if _, err := a.coord.StartLiveEdit(demoKey(), edA, hash, 100); err != nil {
		t.Fatalf("StartLiveEdit A: %v", err)
	}

	applied := false
	edB := &fakeEditor{buf: base}
	edB.onChange = func(int, int, string) { applied = true }
	sessB, err := b.coord.StartLiveEdit(demoKey(), edB, hash, 100)
	if err != nil {
		t.Fatalf("StartLiveEdit B: %v", err)
	}

	if applied || edB.buf != base {
		t.Errorf("converged handshake transferred content: %q", edB.buf)
	}
	if sessB.Dirty() {
		t.Error("converged session must stay clean")
	}
}

func TestStartedResponseIgnoredOnSavePointMismatch(t *testing.T) {
	bus := channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
	a := newLivePeer(t, bus)
	b := newLivePeer(t, bus)

	edA := &fakeEditor{buf: "newer content"}
	if _, err := a.coord.StartLiveEdit(demoKey(), edA, ContentHash("newer"), 200); err != nil {
		t.Fatalf("StartLiveEdit A: %v", err)
	}

	edB := &fakeEditor{buf: "old content"}
	if _, err := b.coord.StartLiveEdit(demoKey(), edB, ContentHash("old"), 100); err != nil {
		t.Fatalf("StartLiveEdit B: %v", err)
	}

	if edB.buf != "old content" {
		t.Errorf("mismatched save-points still transferred content: %q", edB.buf)
	}
}

func TestResourceStoredCleansMatchingSession(t *testing.T) {
	bus := channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
	a := newLivePeer(t, bus)
	other, err := client.Attach(context.Background(), bus, "alice", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := other.Join(context.Background(), "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	ed := &fakeEditor{buf: "v2"}
	sess, err := a.coord.StartLiveEdit(demoKey(), ed, ContentHash("v1"), 100)
	if err != nil {
		t.Fatalf("StartLiveEdit: %v", err)
	}
	if !sess.localChange() {
		t.Fatal("local change unexpectedly muted")
	}
	if !sess.Dirty() {
		t.Fatal("session should be dirty after a local change")
	}

	// A store of different content leaves the session dirty.
	err = other.Session().Broadcast(types.MessageTypeResourceStored, types.Payload{
		types.FieldUsername:  "alice",
		types.FieldProject:   "demo",
		types.FieldResource:  "main.go",
		types.FieldHash:      ContentHash("something else"),
		types.FieldTimestamp: int64(150),
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if !sess.Dirty() {
		t.Error("mismatched store cleaned the session")
	}

	// A store of exactly the live content cleans it and moves the
	// save-point forward.
	err = other.Session().Broadcast(types.MessageTypeResourceStored, types.Payload{
		types.FieldUsername:  "alice",
		types.FieldProject:   "demo",
		types.FieldResource:  "main.go",
		types.FieldHash:      ContentHash("v2"),
		types.FieldTimestamp: int64(200),
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if sess.Dirty() {
		t.Error("matching store left the session dirty")
	}
	if sess.SavePointTimestamp() != 200 {
		t.Errorf("save-point timestamp = %d, want 200", sess.SavePointTimestamp())
	}
}

func TestGetLiveResourcesFiltering(t *testing.T) {
	bus := channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
	a := newLivePeer(t, bus)

	keys := []Key{
		{Username: "alice", Project: "demo", Path: "main.go"},
		{Username: "alice", Project: "demo", Path: "util.go"},
		{Username: "alice", Project: "website", Path: "index.html"},
	}
	for _, key := range keys {
		if _, err := a.coord.StartLiveEdit(key, &fakeEditor{}, "h", 100); err != nil {
			t.Fatalf("StartLiveEdit(%v): %v", key, err)
		}
	}

	requester, err := client.Attach(context.Background(), bus, "alice", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := requester.Join(context.Background(), "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	reply, err := requester.Call(context.Background(),
		types.MessageTypeGetLiveResourcesRequest, types.MessageTypeGetLiveResourcesResponse,
		types.Payload{
			types.FieldUsername: "alice",
			fieldProjectRegEx:   "^demo$",
			fieldResourceRegEx:  `\.go$`,
		})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	units, ok := reply[fieldLiveEditUnits].(map[string][]types.Payload)
	if !ok {
		t.Fatalf("liveEditUnits = %T, want map", reply[fieldLiveEditUnits])
	}
	if len(units) != 1 || len(units["demo"]) != 2 {
		t.Errorf("units = %v, want 2 demo entries", units)
	}
	for _, unit := range units["demo"] {
		if unit.Has(fieldLiveContent) {
			t.Error("enumeration reply must not carry content")
		}
	}
}
