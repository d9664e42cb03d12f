package repository

import (
	"context"
	"errors"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// handleGetProjectResponse reconciles a peer's project listing against the
// store: files that are new or newer than the stored copy are pulled, and
// tombstones are replayed through the stale-write guard.
func (s *Sync) handleGetProjectResponse(_ string, data types.Payload) {
	ctx := context.Background()
	username := data.Username()
	project := data.GetString(types.FieldProject)

	for _, entry := range payloadList(data["files"]) {
		path := entry.GetString(types.FieldPath)
		if path == "" {
			continue
		}
		s.pullIfStale(ctx, username, project, entry, path)
	}
	for _, entry := range payloadList(data["deleted"]) {
		path := entry.GetString(types.FieldPath)
		if path == "" {
			continue
		}
		err := s.store.DeleteResource(ctx, username, project, path, entry.GetInt64(types.FieldTimestamp))
		if err != nil && !errors.Is(err, interfaces.ErrStaleWrite) && !errors.Is(err, interfaces.ErrResourceNotFound) {
			s.log.Warnw("tombstone replay failed", "resource", path, "error", err)
		}
	}
}

// handleGetResourceResponse stores pulled content, creating or updating as
// appropriate. Stale responses lose the race to a newer write and are
// dropped quietly.
func (s *Sync) handleGetResourceResponse(_ string, data types.Payload) {
	ctx := context.Background()
	username := data.Username()
	project := data.GetString(types.FieldProject)
	path := data.GetString(types.FieldResource)
	if path == "" || !data.Has(types.FieldContent) {
		return
	}
	exists, err := s.store.HasResource(ctx, username, project, path)
	if err != nil {
		s.log.Warnw("resource existence check failed", "resource", path, "error", err)
		return
	}
	if exists {
		err = s.UpdateResource(ctx, username, project, path,
			data.GetString(types.FieldContent), data.GetString(types.FieldHash), data.GetInt64(types.FieldTimestamp))
	} else {
		err = s.CreateResource(ctx, username, project, path,
			data.GetString(types.FieldContent), data.GetString(types.FieldHash), data.GetInt64(types.FieldTimestamp),
			data.GetString(types.FieldType))
	}
	if err != nil && !errors.Is(err, interfaces.ErrStaleWrite) && !errors.Is(err, interfaces.ErrResourceExists) {
		s.log.Warnw("pulled resource store failed", "resource", path, "error", err)
	}
}

func (s *Sync) handleResourceCreated(_ string, data types.Payload) {
	s.handleResourceAnnouncement(data)
}

func (s *Sync) handleResourceChanged(_ string, data types.Payload) {
	s.handleResourceAnnouncement(data)
}

// handleResourceAnnouncement pulls the announced resource only when the
// stored copy is missing or behind the announced timestamp.
func (s *Sync) handleResourceAnnouncement(data types.Payload) {
	ctx := context.Background()
	path := data.GetString(types.FieldResource)
	if path == "" {
		return
	}
	s.pullIfStale(ctx, data.Username(), data.GetString(types.FieldProject), data, path)
}

func (s *Sync) handleResourceDeleted(_ string, data types.Payload) {
	ctx := context.Background()
	path := data.GetString(types.FieldResource)
	if path == "" {
		return
	}
	err := s.store.DeleteResource(ctx, data.Username(), data.GetString(types.FieldProject), path, data.GetInt64(types.FieldTimestamp))
	if err != nil && !errors.Is(err, interfaces.ErrStaleWrite) && !errors.Is(err, interfaces.ErrResourceNotFound) {
		s.log.Warnw("announced delete failed", "resource", path, "error", err)
	}
}

// pullIfStale compares announced version info against the store and issues
// a getResourceRequest when the stored copy needs the announced version.
func (s *Sync) pullIfStale(ctx context.Context, username, project string, entry types.Payload, path string) {
	info, err := s.store.ResourceInfo(ctx, username, project, path,
		entry.GetString(types.FieldType), entry.GetInt64(types.FieldTimestamp), entry.GetString(types.FieldHash))
	if errors.Is(err, interfaces.ErrProjectNotFound) {
		// Announcements for projects this store never synchronized.
		return
	}
	if err != nil {
		s.log.Warnw("staleness check failed", "resource", path, "error", err)
		return
	}
	if info.Deleted || (info.Exists && !info.NeedsUpdate) {
		return
	}
	_ = s.peer.Session().Request(types.MessageTypeGetResourceRequest, types.Payload{
		types.FieldCallbackID: s.peer.NextCallbackID(),
		types.FieldUsername:   username,
		types.FieldProject:    project,
		types.FieldResource:   path,
		types.FieldTimestamp:  entry.GetInt64(types.FieldTimestamp),
		types.FieldHash:       entry.GetString(types.FieldHash),
	})
}

// payloadList normalizes a decoded JSON array, or a slice of structured
// listing entries, into payloads.
func payloadList(v any) []types.Payload {
	switch list := v.(type) {
	case []types.Payload:
		return list
	case []any:
		out := make([]types.Payload, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, types.Payload(m))
			}
		}
		return out
	case []types.ResourceInfo:
		out := make([]types.Payload, 0, len(list))
		for _, item := range list {
			out = append(out, types.Payload{
				types.FieldPath:      item.Path,
				types.FieldType:      item.Type,
				types.FieldTimestamp: item.Timestamp,
				types.FieldHash:      item.Hash,
			})
		}
		return out
	case []types.DeletedInfo:
		out := make([]types.Payload, 0, len(list))
		for _, item := range list {
			out = append(out, types.Payload{
				types.FieldPath:      item.Path,
				types.FieldTimestamp: item.Timestamp,
			})
		}
		return out
	default:
		return nil
	}
}
