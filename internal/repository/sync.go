package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"collabrelay/internal/client"
	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// Sync is the resource synchronization service. It attaches to the bus as
// a superuser peer (so every user's announcements reach it), answers the
// repository pull protocol, and reconciles its store against peer
// announcements: content is fetched only when the staleness check says the
// stored copy is actually behind.
type Sync struct {
	store interfaces.ResourceStore
	peer  *client.Peer
	log   *zap.SugaredLogger
	subs  []*client.Subscription
}

func NewSync(store interfaces.ResourceStore, log *zap.SugaredLogger) *Sync {
	return &Sync{store: store, log: log}
}

// Start attaches the service to the bus and registers all handlers.
func (s *Sync) Start(ctx context.Context, bus interfaces.Bus) error {
	peer, err := client.Attach(ctx, bus, types.SuperUser, s.log)
	if err != nil {
		return err
	}
	if err := peer.Join(ctx, types.SuperUser); err != nil {
		_ = peer.Close()
		return err
	}
	s.peer = peer

	subscribe := func(messageType string, h client.Handler) {
		s.subs = append(s.subs, peer.Subscribe(messageType, h))
	}
	subscribe(types.MessageTypeGetProjectsRequest, s.handleGetProjects)
	subscribe(types.MessageTypeGetProjectRequest, s.handleGetProject)
	subscribe(types.MessageTypeGetResourceRequest, s.handleGetResource)
	subscribe(types.MessageTypeGetMetadataRequest, s.handleGetMetadata)
	subscribe(types.MessageTypeProjectConnected, s.handleProjectConnected)
	subscribe(types.MessageTypeGetProjectResponse, s.handleGetProjectResponse)
	subscribe(types.MessageTypeGetResourceResponse, s.handleGetResourceResponse)
	subscribe(types.MessageTypeResourceCreated, s.handleResourceCreated)
	subscribe(types.MessageTypeResourceChanged, s.handleResourceChanged)
	subscribe(types.MessageTypeResourceDeleted, s.handleResourceDeleted)
	return nil
}

// Stop unsubscribes every handler and detaches the peer.
func (s *Sync) Stop() error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	if s.peer == nil {
		return nil
	}
	return s.peer.Close()
}

// CreateProject creates a project and announces it.
func (s *Sync) CreateProject(ctx context.Context, username, project string) error {
	if err := s.store.CreateProject(ctx, username, project); err != nil {
		return err
	}
	return s.peer.Session().Broadcast(types.MessageTypeProjectCreated, types.Payload{
		types.FieldUsername: username,
		types.FieldProject:  project,
	})
}

// CreateResource inserts a save-point and announces resourceCreated.
func (s *Sync) CreateResource(ctx context.Context, username, project, path, content, hash string, timestamp int64, resourceType string) error {
	if err := s.store.CreateResource(ctx, username, project, path, content, hash, timestamp, resourceType); err != nil {
		return err
	}
	return s.peer.Session().Broadcast(types.MessageTypeResourceCreated, types.Payload{
		types.FieldUsername:  username,
		types.FieldProject:   project,
		types.FieldResource:  path,
		types.FieldHash:      hash,
		types.FieldTimestamp: timestamp,
		types.FieldType:      resourceType,
	})
}

// UpdateResource applies a stale-guarded update and announces both
// resourceChanged and resourceStored.
func (s *Sync) UpdateResource(ctx context.Context, username, project, path, content, hash string, timestamp int64) error {
	if err := s.store.UpdateResource(ctx, username, project, path, content, hash, timestamp); err != nil {
		return err
	}
	notification := types.Payload{
		types.FieldUsername:  username,
		types.FieldProject:   project,
		types.FieldResource:  path,
		types.FieldTimestamp: timestamp,
		types.FieldHash:      hash,
	}
	if err := s.peer.Session().Broadcast(types.MessageTypeResourceChanged, notification); err != nil {
		return err
	}
	return s.peer.Session().Broadcast(types.MessageTypeResourceStored, notification)
}

// DeleteResource applies a stale-guarded delete and announces it.
func (s *Sync) DeleteResource(ctx context.Context, username, project, path string, timestamp int64) error {
	if err := s.store.DeleteResource(ctx, username, project, path, timestamp); err != nil {
		return err
	}
	return s.peer.Session().Broadcast(types.MessageTypeResourceDeleted, types.Payload{
		types.FieldUsername:  username,
		types.FieldProject:   project,
		types.FieldResource:  path,
		types.FieldTimestamp: timestamp,
	})
}

// UpdateMetadata stores per-type metadata and announces metadataChanged.
func (s *Sync) UpdateMetadata(ctx context.Context, username, project, path, metaType string, metadata types.Payload) error {
	if err := s.store.UpdateMetadata(ctx, username, project, path, metaType, metadata); err != nil {
		return err
	}
	return s.peer.Session().Broadcast(types.MessageTypeMetadataChanged, types.Payload{
		types.FieldUsername: username,
		types.FieldProject:  project,
		types.FieldResource: path,
		types.FieldType:     metaType,
		"metadata":          metadata,
	})
}

func (s *Sync) handleGetProjects(_ string, data types.Payload) {
	ctx := context.Background()
	projects, err := s.store.Projects(ctx, data.Username())
	if err != nil {
		s.log.Warnw("getProjectsRequest failed", "user", data.Username(), "error", err)
		return
	}
	s.respond(types.MessageTypeGetProjectsResponse, data, types.Payload{
		types.FieldUsername: data.Username(),
		"projects":          projects,
	})
}

func (s *Sync) handleGetProject(_ string, data types.Payload) {
	ctx := context.Background()
	includeDeleted := data.GetBool("includeDeleted")
	files, deleted, err := s.store.Project(ctx, data.Username(), data.GetString(types.FieldProject), includeDeleted)
	if err != nil {
		s.log.Debugw("getProjectRequest failed", "project", data.GetString(types.FieldProject), "error", err)
		return
	}
	response := types.Payload{
		types.FieldUsername: data.Username(),
		types.FieldProject:  data.GetString(types.FieldProject),
		"files":             files,
	}
	if includeDeleted {
		response["deleted"] = deleted
	}
	s.respond(types.MessageTypeGetProjectResponse, data, response)
}

func (s *Sync) handleGetResource(_ string, data types.Payload) {
	ctx := context.Background()
	var ts *int64
	var hash *string
	if data.Has(types.FieldTimestamp) {
		v := data.GetInt64(types.FieldTimestamp)
		ts = &v
	}
	if data.Has(types.FieldHash) {
		v := data.GetString(types.FieldHash)
		hash = &v
	}
	res, err := s.store.Resource(ctx, data.Username(), data.GetString(types.FieldProject), data.GetString(types.FieldResource), ts, hash)
	if err != nil {
		s.log.Debugw("getResourceRequest failed", "resource", data.GetString(types.FieldResource), "error", err)
		return
	}
	s.respond(types.MessageTypeGetResourceResponse, data, types.Payload{
		types.FieldUsername:  data.Username(),
		types.FieldProject:   data.GetString(types.FieldProject),
		types.FieldResource:  data.GetString(types.FieldResource),
		types.FieldContent:   res.Content,
		types.FieldType:      res.Type,
		types.FieldTimestamp: res.Timestamp,
		types.FieldHash:      res.Hash,
	})
}

func (s *Sync) handleGetMetadata(_ string, data types.Payload) {
	ctx := context.Background()
	meta, err := s.store.Metadata(ctx, data.Username(), data.GetString(types.FieldProject), data.GetString(types.FieldResource), data.GetString(types.FieldType))
	if err != nil {
		s.log.Debugw("getMetadataRequest failed", "resource", data.GetString(types.FieldResource), "error", err)
		return
	}
	s.respond(types.MessageTypeGetMetadataResponse, data, types.Payload{
		types.FieldUsername: data.Username(),
		types.FieldProject:  data.GetString(types.FieldProject),
		types.FieldResource: data.GetString(types.FieldResource),
		types.FieldType:     data.GetString(types.FieldType),
		"metadata":          meta,
	})
}

// handleProjectConnected creates the project if it is new and pulls its
// content from whichever peer attached it.
func (s *Sync) handleProjectConnected(_ string, data types.Payload) {
	ctx := context.Background()
	username := data.Username()
	project := data.GetString(types.FieldProject)
	exists, err := s.store.HasProject(ctx, username, project)
	if err != nil {
		s.log.Warnw("projectConnected check failed", "project", project, "error", err)
		return
	}
	if !exists {
		if err := s.CreateProject(ctx, username, project); err != nil && !errors.Is(err, interfaces.ErrProjectExists) {
			s.log.Warnw("projectConnected create failed", "project", project, "error", err)
			return
		}
	}
	_ = s.peer.Session().Request(types.MessageTypeGetProjectRequest, types.Payload{
		types.FieldCallbackID: s.peer.NextCallbackID(),
		types.FieldUsername:   username,
		types.FieldProject:    project,
		"includeDeleted":      true,
	})
}

// respond echoes the correlation fields and routes directly back to the
// requester.
func (s *Sync) respond(messageType string, request, response types.Payload) {
	response[types.FieldCallbackID] = request.CallbackID()
	response[types.FieldRequestSenderID] = request.GetString(types.FieldRequestSenderID)
	if err := s.peer.Session().Response(messageType, response); err != nil {
		s.log.Warnw("response send failed", "type", messageType, "error", err)
	}
}
