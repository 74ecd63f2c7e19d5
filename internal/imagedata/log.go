package imagedata

import (
	"encoding/json"
	"sync"
)

// FieldImageLog maps a field identifier to the ordered sequence of images
// captured on it. Insertion order is the temporal order of capture. One log
// lives for a page session; it is never shared across sessions.
type FieldImageLog struct {
	mu     sync.Mutex
	fields map[string][]CapturedImage
}

func NewFieldImageLog() *FieldImageLog {
	return &FieldImageLog{fields: make(map[string][]CapturedImage)}
}

// Register ensures a field has an entry, so it shows up in snapshots even
// when nothing was captured on it yet.
func (l *FieldImageLog) Register(fieldID string) {
	if fieldID == "" {
		return
	}
	l.mu.Lock()
	if _, ok := l.fields[fieldID]; !ok {
		l.fields[fieldID] = nil
	}
	l.mu.Unlock()
}

// Append records a captured image for the field.
func (l *FieldImageLog) Append(fieldID string, img CapturedImage) {
	if fieldID == "" {
		return
	}
	l.mu.Lock()
	l.fields[fieldID] = append(l.fields[fieldID], img)
	l.mu.Unlock()
}

// Images returns a copy of the capture sequence for one field.
func (l *FieldImageLog) Images(fieldID string) []CapturedImage {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.fields[fieldID]
	out := make([]CapturedImage, len(src))
	copy(out, src)
	return out
}

// Count returns how many images were captured for the field.
func (l *FieldImageLog) Count(fieldID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fields[fieldID])
}

// Clear drops the capture sequence for one field.
func (l *FieldImageLog) Clear(fieldID string) {
	l.mu.Lock()
	delete(l.fields, fieldID)
	l.mu.Unlock()
}

// HasImages reports whether any field captured at least one image.
func (l *FieldImageLog) HasImages() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, imgs := range l.fields {
		if len(imgs) > 0 {
			return true
		}
	}
	return false
}

// Snapshot deep-copies the full field to capture-list mapping.
func (l *FieldImageLog) Snapshot() map[string][]CapturedImage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]CapturedImage, len(l.fields))
	for field, imgs := range l.fields {
		cp := make([]CapturedImage, len(imgs))
		copy(cp, imgs)
		out[field] = cp
	}
	return out
}

// MarshalJSON serializes the snapshot as {field: [image...]}.
func (l *FieldImageLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}
