package domain

import "time"

// SessionState models the live session lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateActive   SessionState = "active"
	SessionStateStopping SessionState = "stopping"
	SessionStateError    SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady            SessionStateReason = "ready"
	SessionReasonStarting         SessionStateReason = "session_starting"
	SessionReasonActive           SessionStateReason = "session_active"
	SessionReasonRestarted        SessionStateReason = "session_restarted"
	SessionReasonStoppedByUser    SessionStateReason = "stopped_by_user"
	SessionReasonChannelClosed    SessionStateReason = "channel_closed"
	SessionReasonChannelError     SessionStateReason = "channel_error"
	SessionReasonCaptureDenied    SessionStateReason = "capture_denied"
	SessionReasonStartAborted     SessionStateReason = "start_aborted"
	SessionReasonModeSwitched     SessionStateReason = "mode_switched"
	SessionReasonApplicationClose SessionStateReason = "application_close"
)

// ErrorCode identifies errors reported to the UI outside the conversation log.
type ErrorCode string

const (
	ErrorCodeStartup ErrorCode = "startup"
	ErrorCodeLive    ErrorCode = "live"
	ErrorCodeJournal ErrorCode = "journal"
)

// ChatRole identifies who produced a conversation entry.
type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

// ChatEntry is one finalized line of the conversation log.
type ChatEntry struct {
	SessionID string    `json:"sessionId"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	IsError   bool      `json:"isError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MediaChunk is a base64 payload tagged with its MIME type.
type MediaChunk struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// LiveMessage is one inbound provider message, already stripped of wire framing.
type LiveMessage struct {
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
	Interrupted      bool
	Audio            []MediaChunk
}

// AudioBuffer holds de-interleaved float samples in [-1, 1].
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames per channel.
func (b *AudioBuffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *AudioBuffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// StartOptions selects which devices a live session captures.
type StartOptions struct {
	Video bool `json:"video"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Video     bool         `json:"video"`
	Message   string       `json:"message,omitempty"`
}
