package config

import "github.com/c2h5oh/datasize"

// GPU lock backends.
const (
	LockBackendLease  = "lease"
	LockBackendRedis  = "redis"
	LockBackendMemory = "memory"
	LockBackendFlag   = "flag"
)

// Split remainder policies.
const (
	RemainderEmit  = "emit"
	RemainderMerge = "merge"
	RemainderDrop  = "drop"
)

const (
	defaultConfigPath         = "~/.config/clipforge/config.toml"
	defaultWorkDir            = "~/.local/share/clipforge/downloads"
	defaultUploadDir          = "~/.local/share/clipforge/uploads"
	defaultTranscriptionDir   = "~/.local/share/clipforge/transcriptions"
	defaultLogDir             = "~/.local/share/clipforge/logs"
	defaultLockPath           = "~/.local/share/clipforge/gpu.lock"
	defaultAPIBind            = "127.0.0.1:7490"
	defaultFFmpeg             = "ffmpeg"
	defaultFFprobe            = "ffprobe"
	defaultDownloader         = "yt-dlp"
	defaultWhisper            = "faster-whisper-xxl"
	defaultDownloaderFormat   = "bestvideo[height<=720]+bestaudio/best"
	defaultToolTimeoutSeconds = 6 * 60 * 60
	defaultLeaseTTLSeconds    = 30
	defaultPollIntervalMillis = 1000
	defaultRedisKey           = "clipforge:gpu"
	defaultVideoCodec         = "h264_nvenc"
	defaultAudioCodec         = "aac"
	defaultHWAccel            = "cuda"
	defaultTargetHeight       = 720
	defaultAudioSampleRate    = 44100
	defaultSegmentAudioKbps   = 128
	defaultSizeCeiling        = 31 * datasize.MB
	defaultAudioBitrate       = 128000
	defaultLanguage           = "Portuguese"
	defaultModel              = "medium"
	defaultWorkers            = 2
	defaultQueueCapacity      = 64
	defaultMaxFilenameLength  = 255
	defaultMinFreeDisk        = 1 * datasize.GB
	defaultSubmitRateLimit    = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:          defaultWorkDir,
			UploadDir:        defaultUploadDir,
			TranscriptionDir: defaultTranscriptionDir,
			LogDir:           defaultLogDir,
			APIBind:          defaultAPIBind,
		},
		Tools: Tools{
			FFmpeg:             defaultFFmpeg,
			FFprobe:            defaultFFprobe,
			Downloader:         defaultDownloader,
			Whisper:            defaultWhisper,
			DownloaderFormat:   defaultDownloaderFormat,
			ToolTimeoutSeconds: defaultToolTimeoutSeconds,
		},
		GPU: GPU{
			LockBackend:        LockBackendLease,
			LockPath:           defaultLockPath,
			LeaseTTLSeconds:    defaultLeaseTTLSeconds,
			PollIntervalMillis: defaultPollIntervalMillis,
			RedisKey:           defaultRedisKey,
		},
		Encoding: Encoding{
			VideoCodec:              defaultVideoCodec,
			AudioCodec:              defaultAudioCodec,
			HWAccel:                 defaultHWAccel,
			TargetHeight:            defaultTargetHeight,
			AudioSampleRate:         defaultAudioSampleRate,
			SegmentAudioBitrateKbps: defaultSegmentAudioKbps,
		},
		Split: Split{
			SizeCeiling: defaultSizeCeiling,
			Remainder:   RemainderEmit,
		},
		Probe: Probe{
			UnsupportedContainers:  []string{"matroska,webm", "flv", "avi", "mpeg", "3gp", "3g2", "ogg"},
			UnsupportedVideoCodecs: []string{"vp8", "vp9", "hevc", "h265", "av1"},
			UnsupportedAudioCodecs: []string{"opus", "vorbis"},
			DefaultAudioBitrate:    defaultAudioBitrate,
		},
		Transcription: Transcription{
			Language:               defaultLanguage,
			Model:                  defaultModel,
			VideoExtensions:        []string{".mp4", ".mkv", ".avi"},
			AudioExtensions:        []string{".wav", ".mp3", ".aac"},
			PassthroughAudioCodecs: []string{"aac", "mp3", "pcm_s16le"},
		},
		Workflow: Workflow{
			Workers:           defaultWorkers,
			QueueCapacity:     defaultQueueCapacity,
			MaxFilenameLength: defaultMaxFilenameLength,
			MinFreeDisk:       defaultMinFreeDisk,
			SubmitRateLimit:   defaultSubmitRateLimit,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
