package domain

import "time"

// ContentType classifies what an outbound share publishes.
type ContentType string

const (
	ContentTypeNone        ContentType = ""
	ContentTypeCamera      ContentType = "camera"
	ContentTypeScreenshare ContentType = "screenshare"
)

type ShareSessionID string

// SharingState is a consistent snapshot of the local share session.
type SharingState struct {
	IsSharing   bool        `json:"is_sharing"`
	ContentType ContentType `json:"content_type"`
	// CameraDeviceID is only set while a camera-as-content share is active.
	CameraDeviceID string `json:"camera_device_id,omitempty"`
}

// SharePhase is the lifecycle phase of the local share session.
type SharePhase int

const (
	PhaseIdle SharePhase = iota
	PhaseAcquiring
	PhasePublishing
	PhaseActive
)

func (p SharePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAcquiring:
		return "acquiring"
	case PhasePublishing:
		return "publishing"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

// ShareSession describes the share currently owned by this client.
type ShareSession struct {
	ID          ShareSessionID `json:"id"`
	ContentType ContentType    `json:"content_type"`
	StreamID    string         `json:"stream_id"`
	StartedAt   time.Time      `json:"started_at"`
}

// ViewOptions parameterises subscription to an incoming share.
type ViewOptions struct {
	HasAudio       bool   `json:"has_audio"`
	OutputDeviceID string `json:"output_device_id,omitempty"`
}
