package recaperr

import "strings"

// memoryMarkers are lowercase fragments that identify memory or quota
// exhaustion in encoder output (ffmpeg, libvpx, libx264, the OS).
var memoryMarkers = []string{
	"out of memory",
	"cannot allocate memory",
	"memory allocation",
	"enomem",
	"quota",
	"no space left on device",
}

// IsMemoryPressure reports whether text describes memory or quota exhaustion.
func IsMemoryPressure(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range memoryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// FromEncoder remaps a raw encoder runtime failure. Errors that are already
// classified pass through unchanged.
func FromEncoder(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if IsMemoryPressure(err.Error()) {
		return New(KindMemoryPressure, err)
	}
	return New(KindEncoding, err)
}
