package domain

import "time"

// Broadcast is the meeting-wide view of the share currently on air,
// regardless of which participant publishes it.
type Broadcast struct {
	ContentType ContentType `json:"content_type"`
	Stream      string      `json:"stream"`
	HasAudio    bool        `json:"has_audio"`
	Publisher   string      `json:"publisher,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// OnAir reports whether the broadcast carries a stream of the given content type.
func (b *Broadcast) OnAir(contentType ContentType) bool {
	return b != nil && b.ContentType == contentType && b.Stream != ""
}
