package encoding

import (
	"math"

	"clipforge/internal/media"
)

// Transcode decision reasons.
const (
	ReasonAudioOnly  = "audio_only"
	ReasonPolicy     = "policy"
	ReasonResolution = "resolution"
	ReasonCompatible = "compatible"
)

// TranscodeDecision is the outcome of DecideTranscode.
type TranscodeDecision struct {
	Needed bool
	Reason string
	Width  int
	Height int
}

// DecideTranscode reports whether a profile must be re-encoded: it must carry
// video, and either match the transcode policy or exceed targetHeight.
func DecideTranscode(profile media.Profile, targetHeight int) TranscodeDecision {
	width, height := TargetDimensions(profile.Width, profile.Height, targetHeight)
	decision := TranscodeDecision{Width: width, Height: height}
	switch {
	case !profile.HasVideo():
		decision.Reason = ReasonAudioOnly
	case profile.NeedsTranscode:
		decision.Needed = true
		decision.Reason = ReasonPolicy
	case targetHeight > 0 && profile.Height > targetHeight:
		decision.Needed = true
		decision.Reason = ReasonResolution
	default:
		decision.Reason = ReasonCompatible
	}
	return decision
}

// TargetDimensions scales (width, height) down to targetHeight preserving the
// aspect ratio. Sources at or below the target keep their size; unknown
// dimensions yield 0x0.
func TargetDimensions(width, height, targetHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	if targetHeight <= 0 || height <= targetHeight {
		return width, height
	}
	targetWidth := int(math.Round(float64(width) * float64(targetHeight) / float64(height)))
	return targetWidth, targetHeight
}

// evenDimension rounds down to an even value, the minimum NVENC and libx264
// accept for 4:2:0 output.
func evenDimension(value int) int {
	if value%2 != 0 {
		value--
	}
	return max(value, 2)
}
