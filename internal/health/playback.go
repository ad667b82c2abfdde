package health

import (
	"context"

	"github.com/zsiec/reel/internal/playback"
)

// Player is the part of the playback manager the checker observes.
type Player interface {
	Stats() playback.Stats
	Err() error
}

// PlaybackChecker reports a failed last session as degraded; the player
// still accepts new files.
type PlaybackChecker struct {
	player Player
}

func NewPlaybackChecker(player Player) *PlaybackChecker {
	return &PlaybackChecker{player: player}
}

func (p *PlaybackChecker) Name() string {
	return "playback"
}

func (p *PlaybackChecker) Check(ctx context.Context) error {
	if err := p.player.Err(); err != nil {
		return Degraded("last session failed: " + err.Error())
	}
	return nil
}

func (p *PlaybackChecker) Details() map[string]interface{} {
	st := p.player.Stats()
	details := map[string]interface{}{
		"state":    st.State,
		"position": st.Position,
	}
	if st.SessionID != "" {
		details["session_id"] = st.SessionID
	}
	if st.Demux != nil {
		details["demux_retries"] = st.Demux.Retries
	}
	if st.VideoDecode != nil {
		details["video_decode_errors"] = st.VideoDecode.Errors
	}
	return details
}
