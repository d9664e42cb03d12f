package liveedit

import (
	"regexp"
	"sync"

	"go.uber.org/zap"

	"collabrelay/internal/client"
	"collabrelay/pkg/types"
)

// Wire fields specific to the live-edit message family.
const (
	fieldOffset             = "offset"
	fieldRemovedCharCount   = "removedCharCount"
	fieldAddedCharacters    = "addedCharacters"
	fieldSavePointHash      = "savePointHash"
	fieldSavePointTimestamp = "savePointTimestamp"
	fieldLiveContent        = "liveContent"
	fieldLiveEditUnits      = "liveEditUnits"
	fieldProjectRegEx       = "projectRegEx"
	fieldResourceRegEx      = "resourceRegEx"
)

// Coordinator runs the live-edit protocol for every buffer this peer has
// open. It converges a newly started session with whichever peer already
// holds live content, fans local deltas out, and applies remote ones under
// the session mute guard.
type Coordinator struct {
	peer *client.Peer
	log  *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[Key]*Session
	pending  map[Key]int64
	subs     []*client.Subscription
}

func NewCoordinator(peer *client.Peer, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		peer:     peer,
		log:      log,
		sessions: make(map[Key]*Session),
		pending:  make(map[Key]int64),
	}
}

// Start registers the protocol handlers.
func (c *Coordinator) Start() {
	subscribe := func(messageType string, h client.Handler) {
		c.subs = append(c.subs, c.peer.Subscribe(messageType, h))
	}
	subscribe(types.MessageTypeLiveResourceStarted, c.handleStarted)
	subscribe(types.MessageTypeLiveResourceStartedResponse, c.handleStartedResponse)
	subscribe(types.MessageTypeLiveResourceChanged, c.handleChanged)
	subscribe(types.MessageTypeGetLiveResourcesRequest, c.handleGetLiveResources)
	subscribe(types.MessageTypeResourceStored, c.handleStored)
}

// Stop unregisters the handlers and drops all sessions.
func (c *Coordinator) Stop() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	c.mu.Lock()
	c.sessions = make(map[Key]*Session)
	c.pending = make(map[Key]int64)
	c.mu.Unlock()
}

// StartLiveEdit opens a live session for a buffer sitting at the given
// save-point and announces it so converged peers can hand over their live
// content.
func (c *Coordinator) StartLiveEdit(key Key, editor Editor, savePointHash string, savePointTimestamp int64) (*Session, error) {
	session := newSession(key, editor, savePointHash, savePointTimestamp)
	callbackID := c.peer.NextCallbackID()

	c.mu.Lock()
	c.sessions[key] = session
	c.pending[key] = callbackID
	c.mu.Unlock()

	err := c.peer.Session().Request(types.MessageTypeLiveResourceStarted, types.Payload{
		types.FieldCallbackID: callbackID,
		types.FieldUsername:   key.Username,
		types.FieldProject:    key.Project,
		types.FieldResource:   key.Path,
		types.FieldHash:       savePointHash,
		types.FieldTimestamp:  savePointTimestamp,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// StopLiveEdit destroys the session for key, if any.
func (c *Coordinator) StopLiveEdit(key Key) {
	c.mu.Lock()
	delete(c.sessions, key)
	delete(c.pending, key)
	c.mu.Unlock()
}

// Session returns the live session for key, or nil.
func (c *Coordinator) Session(key Key) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[key]
}

// BroadcastChange propagates a local buffer edit. Edits observed while a
// remote delta is being applied are suppressed by the mute guard.
func (c *Coordinator) BroadcastChange(session *Session, offset, removedCharCount int, addedCharacters string) error {
	if !session.localChange() {
		return nil
	}
	key := session.Key()
	return c.peer.Session().Broadcast(types.MessageTypeLiveResourceChanged, types.Payload{
		types.FieldUsername:   key.Username,
		types.FieldProject:    key.Project,
		types.FieldResource:   key.Path,
		fieldOffset:           int64(offset),
		fieldRemovedCharCount: int64(removedCharCount),
		fieldAddedCharacters:  addedCharacters,
	})
}

func keyOf(data types.Payload) Key {
	return Key{
		Username: data.Username(),
		Project:  data.GetString(types.FieldProject),
		Path:     data.GetString(types.FieldResource),
	}
}

// handleStarted answers a peer's session start when this peer holds an
// equivalent session on the same save-point. Live content rides along only
// when it has diverged from that save-point, so converged peers exchange
// no content at all.
func (c *Coordinator) handleStarted(_ string, data types.Payload) {
	session := c.Session(keyOf(data))
	if session == nil ||
		session.SavePointHash() != data.GetString(types.FieldHash) ||
		session.SavePointTimestamp() != data.GetInt64(types.FieldTimestamp) {
		return
	}
	key := session.Key()
	response := types.Payload{
		types.FieldCallbackID:      data.CallbackID(),
		types.FieldRequestSenderID: data.GetString(types.FieldRequestSenderID),
		types.FieldUsername:        key.Username,
		types.FieldProject:         key.Project,
		types.FieldResource:        key.Path,
		fieldSavePointHash:         session.SavePointHash(),
		fieldSavePointTimestamp:    session.SavePointTimestamp(),
	}
	if live := session.content(); ContentHash(live) != data.GetString(types.FieldHash) {
		response[fieldLiveContent] = live
	}
	if err := c.peer.Session().Response(types.MessageTypeLiveResourceStartedResponse, response); err != nil {
		c.log.Warnw("live started response failed", "resource", key.Path, "error", err)
	}
}

// handleStartedResponse folds a peer's live content into our freshly
// started session, provided the reply matches our announcement's callback
// and save-point.
func (c *Coordinator) handleStartedResponse(_ string, data types.Payload) {
	key := keyOf(data)

	c.mu.Lock()
	session := c.sessions[key]
	callbackID, waiting := c.pending[key]
	c.mu.Unlock()

	if session == nil || !waiting || data.CallbackID() != callbackID {
		return
	}
	if data.GetString(fieldSavePointHash) != session.SavePointHash() ||
		data.GetInt64(fieldSavePointTimestamp) != session.SavePointTimestamp() {
		return
	}
	if !data.Has(fieldLiveContent) {
		return
	}
	if err := session.applyRemoteContent(data.GetString(fieldLiveContent)); err != nil {
		c.log.Warnw("live content apply failed", "resource", key.Path, "error", err)
		return
	}
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Coordinator) handleChanged(_ string, data types.Payload) {
	session := c.Session(keyOf(data))
	if session == nil {
		return
	}
	err := session.applyRemoteDelta(
		int(data.GetInt64(fieldOffset)),
		int(data.GetInt64(fieldRemovedCharCount)),
		data.GetString(fieldAddedCharacters),
	)
	if err != nil {
		c.log.Warnw("remote delta apply failed", "resource", session.Key().Path, "error", err)
	}
}

// handleGetLiveResources enumerates sessions matching the optional project
// and resource patterns. Replies carry save-point identity only, never
// content, and nothing at all when no session matches.
func (c *Coordinator) handleGetLiveResources(_ string, data types.Payload) {
	projectRe, err := optionalPattern(data, fieldProjectRegEx)
	if err != nil {
		c.log.Debugw("bad project pattern", "error", err)
		return
	}
	resourceRe, err := optionalPattern(data, fieldResourceRegEx)
	if err != nil {
		c.log.Debugw("bad resource pattern", "error", err)
		return
	}

	units := make(map[string][]types.Payload)
	c.mu.Lock()
	for key, session := range c.sessions {
		if key.Username != data.Username() {
			continue
		}
		if projectRe != nil && !projectRe.MatchString(key.Project) {
			continue
		}
		if resourceRe != nil && !resourceRe.MatchString(key.Path) {
			continue
		}
		units[key.Project] = append(units[key.Project], types.Payload{
			types.FieldResource:     key.Path,
			fieldSavePointHash:      session.SavePointHash(),
			fieldSavePointTimestamp: session.SavePointTimestamp(),
		})
	}
	c.mu.Unlock()

	if len(units) == 0 {
		return
	}
	err = c.peer.Session().Response(types.MessageTypeGetLiveResourcesResponse, types.Payload{
		types.FieldCallbackID:      data.CallbackID(),
		types.FieldRequestSenderID: data.GetString(types.FieldRequestSenderID),
		types.FieldUsername:        data.Username(),
		fieldLiveEditUnits:         units,
	})
	if err != nil {
		c.log.Warnw("live resources response failed", "error", err)
	}
}

func (c *Coordinator) handleStored(_ string, data types.Payload) {
	session := c.Session(keyOf(data))
	if session == nil {
		return
	}
	session.stored(data.GetString(types.FieldHash), data.GetInt64(types.FieldTimestamp))
}

func optionalPattern(data types.Payload, field string) (*regexp.Regexp, error) {
	if !data.Has(field) {
		return nil, nil
	}
	pattern := data.GetString(field)
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}
