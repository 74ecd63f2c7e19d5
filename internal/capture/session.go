package capture

import (
	"encoding/json"
	"sync"

	"richform/internal/imagedata"
)

// SessionKey is the storage slot capture snapshots live under.
const SessionKey = "jotform_richtext_images"

// SessionStore is a string key-value store scoped to one page session.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{values: make(map[string]string)}
}

func (m *MemorySessionStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemorySessionStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemorySessionStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// SaveSession writes the current capture log into the session store so the
// captures survive reloads within the session. An empty log clears the slot.
func (e *Engine) SaveSession(store SessionStore) error {
	snap := e.captures.Snapshot()
	populated := false
	for _, imgs := range snap {
		if len(imgs) > 0 {
			populated = true
			break
		}
	}
	if !populated {
		store.Delete(SessionKey)
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	store.Set(SessionKey, string(b))
	return nil
}

// RestoreSession merges a previously saved snapshot back into the capture
// log. A missing or corrupt slot is treated as empty.
func (e *Engine) RestoreSession(store SessionStore) {
	raw, ok := store.Get(SessionKey)
	if !ok || raw == "" {
		return
	}
	var snap map[string][]imagedata.CapturedImage
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		e.log.Warn().Err(err).Msg("discarding corrupt session snapshot")
		store.Delete(SessionKey)
		return
	}
	for fieldID, imgs := range snap {
		e.captures.Register(fieldID)
		for _, img := range imgs {
			e.captures.Append(fieldID, img)
		}
	}
}

// ClearSession drops the saved snapshot, typically after a completed
// submission.
func ClearSession(store SessionStore) {
	store.Delete(SessionKey)
}
