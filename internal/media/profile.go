package media

// Profile summarizes one probed media file.
type Profile struct {
	Path            string   `json:"path"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	VideoBitrateBps int64    `json:"video_bitrate_bps"`
	AudioBitrateBps int64    `json:"audio_bitrate_bps"`
	DurationSeconds float64  `json:"duration_seconds"`
	SizeBytes       int64    `json:"size_bytes"`
	FrameRate       Rational `json:"frame_rate"`
	VideoCodec      string   `json:"video_codec,omitempty"`
	AudioCodec      string   `json:"audio_codec,omitempty"`
	ContainerFormat string   `json:"container_format,omitempty"`
	NeedsTranscode  bool     `json:"needs_transcode"`
}

// HasVideo reports whether the file carries a video stream.
func (p Profile) HasVideo() bool {
	return p.VideoCodec != ""
}

// HasAudio reports whether the file carries an audio stream.
func (p Profile) HasAudio() bool {
	return p.AudioCodec != ""
}

// Resolution returns width and height.
func (p Profile) Resolution() (int, int) {
	return p.Width, p.Height
}
