package repository

import (
	"context"
	"errors"
	"testing"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

func seedProject(t *testing.T, store *MemoryStore) context.Context {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateProject(ctx, "alice", "demo"); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return ctx
}

func TestCreateProjectTwice(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateProject(ctx, "alice", "demo"); !errors.Is(err, interfaces.ErrProjectExists) {
		t.Errorf("second create = %v, want ErrProjectExists", err)
	}
	// Same name under another user is a different project.
	if err := store.CreateProject(ctx, "bob", "demo"); err != nil {
		t.Errorf("create for other user: %v", err)
	}
}

func TestUpdateRequiresNewerTimestamp(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	testCases := []struct {
		name      string
		timestamp int64
		wantStale bool
	}{
		{"older", 50, true},
		{"equal", 100, true},
		{"newer", 150, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.UpdateResource(ctx, "alice", "demo", "main.go", "v2", "h2", tc.timestamp)
			if tc.wantStale && !errors.Is(err, interfaces.ErrStaleWrite) {
				t.Errorf("err = %v, want ErrStaleWrite", err)
			}
			if !tc.wantStale && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}

	res, err := store.Resource(ctx, "alice", "demo", "main.go", nil, nil)
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if res.Content != "v2" || res.Timestamp != 150 {
		t.Errorf("stored state = (%q, %d), want (v2, 150)", res.Content, res.Timestamp)
	}
}

func TestDeleteThenRecreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := store.DeleteResource(ctx, "alice", "demo", "main.go", 50); !errors.Is(err, interfaces.ErrStaleWrite) {
		t.Errorf("stale delete = %v, want ErrStaleWrite", err)
	}
	if err := store.DeleteResource(ctx, "alice", "demo", "main.go", 200); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if _, err := store.Resource(ctx, "alice", "demo", "main.go", nil, nil); !errors.Is(err, interfaces.ErrResourceNotFound) {
		t.Errorf("read after delete = %v, want ErrResourceNotFound", err)
	}

	// The tombstone shows up in listings only on request.
	_, deleted, err := store.Project(ctx, "alice", "demo", true)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(deleted) != 1 || deleted[0].Path != "main.go" || deleted[0].Timestamp != 200 {
		t.Errorf("tombstones = %v, want main.go at 200", deleted)
	}

	// Recreating clears the tombstone.
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v3", "h3", 300, types.ResourceTypeFile); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	_, deleted, _ = store.Project(ctx, "alice", "demo", true)
	if len(deleted) != 0 {
		t.Errorf("tombstones after recreate = %v, want none", deleted)
	}
}

func TestCreateOverLiveResource(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	err := store.CreateResource(ctx, "alice", "demo", "main.go", "v2", "h2", 200, types.ResourceTypeFile)
	if !errors.Is(err, interfaces.ErrResourceExists) {
		t.Errorf("err = %v, want ErrResourceExists", err)
	}
}

func TestResourceInfoStalenessCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := store.CreateResource(ctx, "alice", "demo", "gone.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := store.DeleteResource(ctx, "alice", "demo", "gone.go", 300); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}

	testCases := []struct {
		name      string
		path      string
		resType   string
		timestamp int64
		expected  types.SyncStatus
	}{
		{"converged", "main.go", types.ResourceTypeFile, 100,
			types.SyncStatus{Exists: true}},
		{"announced version is newer", "main.go", types.ResourceTypeFile, 200,
			types.SyncStatus{Exists: true, NeedsUpdate: true}},
		{"announced version is older", "main.go", types.ResourceTypeFile, 50,
			types.SyncStatus{Exists: true}},
		{"type changed", "main.go", types.ResourceTypeFolder, 100,
			types.SyncStatus{Exists: true, NeedsUpdate: true}},
		{"unknown path", "other.go", types.ResourceTypeFile, 100,
			types.SyncStatus{}},
		{"tombstone newer than announcement", "gone.go", types.ResourceTypeFile, 200,
			types.SyncStatus{Deleted: true}},
		{"announcement newer than tombstone", "gone.go", types.ResourceTypeFile, 400,
			types.SyncStatus{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := store.ResourceInfo(ctx, "alice", "demo", tc.path, tc.resType, tc.timestamp, "h")
			if err != nil {
				t.Fatalf("ResourceInfo: %v", err)
			}
			if *status != tc.expected {
				t.Errorf("status = %+v, want %+v", *status, tc.expected)
			}
		})
	}
}

func TestResourceVersionNarrowing(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	ts, hash := int64(100), "h1"
	if _, err := store.Resource(ctx, "alice", "demo", "main.go", &ts, &hash); err != nil {
		t.Errorf("matching narrow read: %v", err)
	}
	staleTS := int64(50)
	if _, err := store.Resource(ctx, "alice", "demo", "main.go", &staleTS, nil); !errors.Is(err, interfaces.ErrResourceNotFound) {
		t.Errorf("timestamp mismatch = %v, want ErrResourceNotFound", err)
	}
	wrongHash := "h9"
	if _, err := store.Resource(ctx, "alice", "demo", "main.go", nil, &wrongHash); !errors.Is(err, interfaces.ErrResourceNotFound) {
		t.Errorf("hash mismatch = %v, want ErrResourceNotFound", err)
	}
}

func TestProjectListingSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	for _, path := range []string{"b.go", "a.go", "c.go"} {
		if err := store.CreateResource(ctx, "alice", "demo", path, "", "h", 100, types.ResourceTypeFile); err != nil {
			t.Fatalf("CreateResource(%s): %v", path, err)
		}
	}
	files, _, err := store.Project(ctx, "alice", "demo", false)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	want := []string{"a.go", "b.go", "c.go"}
	for i, f := range files {
		if f.Path != want[i] {
			t.Fatalf("files[%d] = %s, want %s", i, f.Path, want[i])
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := seedProject(t, store)
	if err := store.CreateResource(ctx, "alice", "demo", "main.go", "v1", "h1", 100, types.ResourceTypeFile); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	markers := types.Payload{"markers": []any{"unused import"}}
	if err := store.UpdateMetadata(ctx, "alice", "demo", "main.go", "problems", markers); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	got, err := store.Metadata(ctx, "alice", "demo", "main.go", "problems")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if !got.Has("markers") {
		t.Errorf("metadata = %v, want markers key", got)
	}
	if _, err := store.Metadata(ctx, "alice", "demo", "main.go", "coverage"); !errors.Is(err, interfaces.ErrMetadataNotFound) {
		t.Errorf("missing metadata = %v, want ErrMetadataNotFound", err)
	}
}
