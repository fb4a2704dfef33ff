package media

import (
	"fmt"
	"mime"
	"strings"
)

// Container names accepted by Negotiate.
const (
	ContainerWebM = "webm"
	ContainerMP4  = "mp4"
)

// Profile is one codec/container combination the encoder can produce.
type Profile struct {
	// Container is the ffmpeg muxer name.
	Container string
	// MimeType is the tag attached to the artifact.
	MimeType string
	// VideoCodec is the ffmpeg encoder name; empty uses the muxer default.
	VideoCodec string
	// AudioCodec is the ffmpeg encoder name; empty uses the muxer default.
	AudioCodec string
}

// Basic reports whether the profile relies on the muxer's default encoders.
func (p Profile) Basic() bool {
	return p.VideoCodec == "" && p.AudioCodec == ""
}

// Extension returns the file extension for the profile's container.
func (p Profile) Extension() string {
	return "." + p.Container
}

// profiles lists, per container, the candidates in preference order.
var profiles = map[string][]Profile{
	ContainerWebM: {
		{Container: ContainerWebM, MimeType: "video/webm;codecs=vp9,opus", VideoCodec: "libvpx-vp9", AudioCodec: "libopus"},
		{Container: ContainerWebM, MimeType: "video/webm;codecs=vp8,opus", VideoCodec: "libvpx", AudioCodec: "libopus"},
		{Container: ContainerWebM, MimeType: "video/webm;codecs=vp8", VideoCodec: "libvpx"},
		{Container: ContainerWebM, MimeType: "video/webm"},
	},
	ContainerMP4: {
		{Container: ContainerMP4, MimeType: "video/mp4;codecs=avc1,mp4a", VideoCodec: "libx264", AudioCodec: "aac"},
		{Container: ContainerMP4, MimeType: "video/mp4;codecs=mp4v,mp4a", VideoCodec: "mpeg4", AudioCodec: "aac"},
		{Container: ContainerMP4, MimeType: "video/mp4"},
	},
}

// Containers returns the supported container names, preferred first.
func Containers() []string {
	return []string{ContainerWebM, ContainerMP4}
}

// Profiles returns the candidate profiles of container in preference order.
func Profiles(container string) []Profile {
	list := profiles[container]
	out := make([]Profile, len(list))
	copy(out, list)
	return out
}

// Supported reports whether every encoder and the muxer of p are available.
func (c Capabilities) Supported(p Profile) bool {
	if !c.HasMuxer(p.Container) {
		return false
	}
	if p.VideoCodec != "" && !c.HasEncoder(p.VideoCodec) {
		return false
	}
	if p.AudioCodec != "" && !c.HasEncoder(p.AudioCodec) {
		return false
	}
	return true
}

// Negotiate returns the first profile of container supported by caps.
func Negotiate(caps Capabilities, container string) (Profile, error) {
	candidates, ok := profiles[container]
	if !ok {
		return Profile{}, fmt.Errorf("%w: unknown container %q", ErrNoSupportedProfile, container)
	}

	for _, p := range candidates {
		if caps.Supported(p) {
			return p, nil
		}
	}

	return Profile{}, fmt.Errorf("%w: container %q", ErrNoSupportedProfile, container)
}

// ExtensionFor maps a video MIME type (codec parameters allowed) to the
// extension of its container, or ".bin" for anything else.
func ExtensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}

	for _, c := range Containers() {
		if strings.EqualFold(mediaType, "video/"+c) {
			return Profile{Container: c}.Extension()
		}
	}
	return ".bin"
}
