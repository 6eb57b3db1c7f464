// Package encoder records composited frames and PCM audio into WebM chunks with ffmpeg.
package encoder

import "strings"

// Profile maps a container MIME type to the ffmpeg codecs that produce it.
type Profile struct {
	MimeType   string
	VideoCodec string
	AudioCodec string
	// Requires lists encoders at least one of which must be present.
	Requires []string
}

var profiles = []Profile{
	{
		MimeType:   "video/webm;codecs=vp9",
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
		Requires:   []string{"libvpx-vp9"},
	},
	{
		MimeType:   "video/webm;codecs=vp8",
		VideoCodec: "libvpx",
		AudioCodec: "libvorbis",
		Requires:   []string{"libvpx"},
	},
	{
		MimeType: "video/webm",
		Requires: []string{"libvpx-vp9", "libvpx", "libaom-av1"},
	},
}

// Profiles returns the known profiles, most preferred first.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Lookup finds the profile for mimeType, ignoring case and spaces.
func Lookup(mimeType string) (Profile, bool) {
	key := normalizeMime(mimeType)
	for _, p := range profiles {
		if p.MimeType == key {
			return p, true
		}
	}
	return Profile{}, false
}

func (p Profile) supported(encoders map[string]bool) bool {
	for _, name := range p.Requires {
		if encoders[name] {
			return true
		}
	}
	return false
}

func normalizeMime(mimeType string) string {
	return strings.ToLower(strings.ReplaceAll(mimeType, " ", ""))
}
