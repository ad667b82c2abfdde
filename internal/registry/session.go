package registry

import (
	"time"
)

// SessionStatus is the lifecycle state recorded for a playback session.
type SessionStatus string

const (
	StatusOpened  SessionStatus = "opened"
	StatusPlaying SessionStatus = "playing"
	StatusStopped SessionStatus = "stopped"
	StatusError   SessionStatus = "error"
)

// Session is the registry record of one playback session. Position is the
// last presented media position and doubles as a resume point.
type Session struct {
	ID            string        `json:"id"`
	Path          string        `json:"path"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Duration      float64       `json:"duration"`
	Position      float64       `json:"position"`

	// Stream info
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Hardware   bool    `json:"hardware,omitempty"`

	Error string `json:"error,omitempty"`
}

// Clone returns a copy safe to hand out of a registry.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Active reports whether the session still owns running loops.
func (s *Session) Active() bool {
	return s.Status == StatusOpened || s.Status == StatusPlaying
}
