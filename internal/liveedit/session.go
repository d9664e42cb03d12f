package liveedit

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

// Editor is the local buffer a live session drives. Implementations are
// not required to be safe for concurrent use; the session serializes all
// access through its own lock.
type Editor interface {
	Content() string
	SetContent(content string) error
	ApplyDelta(offset, removedCharCount int, addedCharacters string) error
}

// Key identifies one live-edited resource.
type Key struct {
	Username string
	Project  string
	Path     string
}

// Session is the transient live-edit state of one buffer: the save-point
// it diverged from, a dirty flag, and the mute counter that suppresses
// echo while a remote delta is being applied.
type Session struct {
	key                Key
	editor             Editor
	savePointHash      string
	savePointTimestamp int64

	mu        sync.Mutex
	muteCount int
	dirty     bool
}

func newSession(key Key, editor Editor, savePointHash string, savePointTimestamp int64) *Session {
	return &Session{
		key:                key,
		editor:             editor,
		savePointHash:      savePointHash,
		savePointTimestamp: savePointTimestamp,
	}
}

func (s *Session) Key() Key                  { return s.key }
func (s *Session) SavePointHash() string     { return s.savePointHash }
func (s *Session) SavePointTimestamp() int64 { return s.savePointTimestamp }

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// ContentHash hashes the current live buffer the same way save-points are
// hashed, so stored-notification comparison works across peers.
func (s *Session) ContentHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ContentHash(s.editor.Content())
}

func (s *Session) content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Content()
}

// mute raises the guard around one remote apply. The lock is not held
// while the editor runs, because applying a delta fires the editor's own
// change events, which re-enter localChange.
func (s *Session) mute() {
	s.mu.Lock()
	s.muteCount++
	s.dirty = true
	s.mu.Unlock()
}

// unmute lowers the guard. Runs even when the apply failed, otherwise one
// bad delta would mute the session forever.
func (s *Session) unmute() {
	s.mu.Lock()
	s.muteCount--
	s.mu.Unlock()
}

// applyRemoteDelta applies an incoming delta under the mute guard.
func (s *Session) applyRemoteDelta(offset, removedCharCount int, addedCharacters string) error {
	s.mute()
	defer s.unmute()
	return s.editor.ApplyDelta(offset, removedCharCount, addedCharacters)
}

// applyRemoteContent replaces the whole buffer under the mute guard.
func (s *Session) applyRemoteContent(content string) error {
	s.mute()
	defer s.unmute()
	return s.editor.SetContent(content)
}

// localChange reports whether a local buffer change may be broadcast.
// Changes observed while a remote delta is being applied are echoes and
// must stay local.
func (s *Session) localChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muteCount > 0 {
		return false
	}
	s.dirty = true
	return true
}

// stored records a save-point landing. A hash match means every live
// change is now persisted and the session is clean; a mismatch means
// edits happened after the store and the session stays dirty.
func (s *Session) stored(hash string, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ContentHash(s.editor.Content()) == hash {
		s.dirty = false
		s.savePointHash = hash
		s.savePointTimestamp = timestamp
	}
}

// ContentHash is the save-point content hash used across the protocol.
func ContentHash(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
