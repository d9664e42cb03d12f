package interfaces

import (
	"context"

	"collabrelay/pkg/types"
)

// ResourceStore is the persistence contract behind the resource sync
// service. Implementations are selected by configuration at startup: an
// in-memory store or an embedded SQLite database.
//
// Write operations enforce the staleness rule themselves: an update or
// delete whose timestamp is not strictly greater than the stored one fails
// with ErrStaleWrite and leaves storage unchanged.
type ResourceStore interface {
	CreateProject(ctx context.Context, username, project string) error
	HasProject(ctx context.Context, username, project string) (bool, error)
	Projects(ctx context.Context, username string) ([]types.ProjectInfo, error)

	// Project lists the live resources of a project and, when
	// includeDeleted is set, its tombstones.
	Project(ctx context.Context, username, project string, includeDeleted bool) ([]types.ResourceInfo, []types.DeletedInfo, error)

	CreateResource(ctx context.Context, username, project, path, content, hash string, timestamp int64, resourceType string) error
	UpdateResource(ctx context.Context, username, project, path, content, hash string, timestamp int64) error
	DeleteResource(ctx context.Context, username, project, path string, timestamp int64) error
	HasResource(ctx context.Context, username, project, path string) (bool, error)

	// Resource fetches a save-point. Non-nil timestamp or hash narrow the
	// match; a mismatch is ErrResourceNotFound, so a caller pulling a
	// specific announced version never receives a different one.
	Resource(ctx context.Context, username, project, path string, timestamp *int64, hash *string) (*types.Resource, error)

	// ResourceInfo runs the staleness comparison a pull peer uses to
	// decide whether to fetch content.
	ResourceInfo(ctx context.Context, username, project, path, resourceType string, timestamp int64, hash string) (*types.SyncStatus, error)

	UpdateMetadata(ctx context.Context, username, project, path, metaType string, metadata types.Payload) error
	Metadata(ctx context.Context, username, project, path, metaType string) (types.Payload, error)

	Close() error
}
