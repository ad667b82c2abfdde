package media

import "sync"

// StreamHandle is an opened stream ready for a decode loop. The decoder and
// resampler are owned by the handle; Close releases them exactly once.
type StreamHandle struct {
	Info      StreamInfo
	Decoder   Decoder
	Resampler Resampler
	Timing    Timing
	// Valid is set once the decoder has been opened.
	Valid bool

	closeOnce sync.Once
	closeErr  error
}

// Index returns the container stream index.
func (h *StreamHandle) Index() int {
	if h == nil {
		return -1
	}
	return h.Info.Index
}

// Close releases the decoder and resampler. It is safe to call from
// several goroutines; later calls return the first call's error.
func (h *StreamHandle) Close() error {
	if h == nil || !h.Valid {
		return nil
	}
	h.closeOnce.Do(func() {
		if h.Resampler != nil {
			h.closeErr = h.Resampler.Close()
		}
		if h.Decoder != nil {
			if err := h.Decoder.Close(); err != nil && h.closeErr == nil {
				h.closeErr = err
			}
		}
	})
	return h.closeErr
}
