package media

import "strings"

// Policy lists the containers and codecs that must be re-encoded before
// delivery. Values are compared case-insensitively.
type Policy struct {
	Containers  []string
	VideoCodecs []string
	AudioCodecs []string
}

// NeedsTranscode reports whether the profile matches any configured set.
//
// ffprobe reports demuxers with comma-separated aliases ("matroska,webm"). A
// container entry matches the whole format name or its first alias only, so
// "3gp" does not catch the "mov,mp4,m4a,3gp,3g2,mj2" family.
func (p Policy) NeedsTranscode(profile Profile) bool {
	return p.ContainerUnsupported(profile.ContainerFormat) ||
		contains(p.VideoCodecs, profile.VideoCodec) ||
		contains(p.AudioCodecs, profile.AudioCodec)
}

// ContainerUnsupported reports whether formatName is in the container set.
func (p Policy) ContainerUnsupported(formatName string) bool {
	formatName = strings.ToLower(strings.TrimSpace(formatName))
	if formatName == "" {
		return false
	}
	if contains(p.Containers, formatName) {
		return true
	}
	primary, _, _ := strings.Cut(formatName, ",")
	return contains(p.Containers, primary)
}

// Reasons lists which sets matched, for logging.
func (p Policy) Reasons(profile Profile) []string {
	var reasons []string
	if p.ContainerUnsupported(profile.ContainerFormat) {
		reasons = append(reasons, "container "+profile.ContainerFormat)
	}
	if contains(p.VideoCodecs, profile.VideoCodec) {
		reasons = append(reasons, "video codec "+profile.VideoCodec)
	}
	if contains(p.AudioCodecs, profile.AudioCodec) {
		reasons = append(reasons, "audio codec "+profile.AudioCodec)
	}
	return reasons
}

func contains(set []string, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, candidate := range set {
		if strings.ToLower(strings.TrimSpace(candidate)) == value {
			return true
		}
	}
	return false
}
