// Package upload moves finished recaps out of the process: it encodes
// artifacts for transport and publishes them to the storage sink.
package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyVideo is returned when a transport string carries no bytes.
var ErrEmptyVideo = errors.New("upload: empty video payload")

// EncodeVideo returns the standard base64 form of data.
func EncodeVideo(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeVideo reverses EncodeVideo. A leading data URI header is accepted.
func DecodeVideo(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode video: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyVideo
	}
	return data, nil
}
