package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/google/shlex"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir          string `toml:"work_dir"`
	UploadDir        string `toml:"upload_dir"`
	TranscriptionDir string `toml:"transcription_dir"`
	LogDir           string `toml:"log_dir"`
	APIBind          string `toml:"api_bind"`
}

// Tools names the external executables the pipeline drives.
type Tools struct {
	FFmpeg             string `toml:"ffmpeg"`
	FFprobe            string `toml:"ffprobe"`
	Downloader         string `toml:"downloader"`
	Whisper            string `toml:"whisper"`
	EncoderExtraArgs   string `toml:"encoder_extra_args"`
	WhisperExtraArgs   string `toml:"whisper_extra_args"`
	DownloaderFormat   string `toml:"downloader_format"`
	ToolTimeoutSeconds int    `toml:"tool_timeout_seconds"`
}

// GPU configures the accelerator exclusivity lock.
type GPU struct {
	LockBackend           string `toml:"lock_backend"`
	LockPath              string `toml:"lock_path"`
	LeaseTTLSeconds       int    `toml:"lease_ttl_seconds"`
	PollIntervalMillis    int    `toml:"poll_interval_ms"`
	AcquireTimeoutSeconds int    `toml:"acquire_timeout_seconds"`
	RedisAddr             string `toml:"redis_addr"`
	RedisDB               int    `toml:"redis_db"`
	RedisPassword         string `toml:"redis_password"`
	RedisKey              string `toml:"redis_key"`
}

// Encoding configures the transcode stage.
type Encoding struct {
	VideoCodec              string `toml:"video_codec"`
	AudioCodec              string `toml:"audio_codec"`
	HWAccel                 string `toml:"hwaccel"`
	TargetHeight            int    `toml:"target_height"`
	AudioSampleRate         int    `toml:"audio_sample_rate"`
	SegmentAudioBitrateKbps int    `toml:"segment_audio_bitrate_kbps"`
}

// Split configures size-ceiling segmentation.
type Split struct {
	SizeCeiling datasize.ByteSize `toml:"size_ceiling"`
	Remainder   string            `toml:"remainder"`
}

// Probe configures the transcode-necessity policy sets.
type Probe struct {
	UnsupportedContainers  []string `toml:"unsupported_containers"`
	UnsupportedVideoCodecs []string `toml:"unsupported_video_codecs"`
	UnsupportedAudioCodecs []string `toml:"unsupported_audio_codecs"`
	DefaultAudioBitrate    int64    `toml:"default_audio_bitrate"`
}

// Transcription configures the speech-to-text pipeline.
type Transcription struct {
	Language               string   `toml:"language"`
	Model                  string   `toml:"model"`
	BeamSize               int      `toml:"beam_size"`
	ChunkLength            int      `toml:"chunk_length"`
	Precision              string   `toml:"precision"`
	RemoveAudioAfter       bool     `toml:"remove_audio_after"`
	VideoExtensions        []string `toml:"video_extensions"`
	AudioExtensions        []string `toml:"audio_extensions"`
	PassthroughAudioCodecs []string `toml:"passthrough_audio_codecs"`
}

// Workflow contains configuration for queues and admission.
type Workflow struct {
	Workers           int               `toml:"workers"`
	QueueCapacity     int               `toml:"queue_capacity"`
	MaxFilenameLength int               `toml:"max_filename_length"`
	MinFreeDisk       datasize.ByteSize `toml:"min_free_disk"`
	SubmitRateLimit   int               `toml:"submit_rate_limit"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for clipforge.
//
// Configuration sections by subsystem:
//   - Paths: working directories and API bind address
//   - Tools: external executables and extra arguments
//   - GPU: accelerator lock backend and timing
//   - Encoding: transcode codec pair and target height
//   - Split: size ceiling and remainder handling
//   - Probe: formats that force a transcode
//   - Transcription: speech-to-text options
//   - Workflow: worker pool, queue capacity, admission checks
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tools         Tools         `toml:"tools"`
	GPU           GPU           `toml:"gpu"`
	Encoding      Encoding      `toml:"encoding"`
	Split         Split         `toml:"split"`
	Probe         Probe         `toml:"probe"`
	Transcription Transcription `toml:"transcription"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	if value, ok := os.LookupEnv("CLIPFORGE_CONFIG"); ok && strings.TrimSpace(value) != "" {
		return resolveConfigPath(strings.TrimSpace(value))
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.WorkDir,
		c.Paths.UploadDir,
		c.Paths.TranscriptionDir,
		c.Paths.LogDir,
		c.TaskLogDir(),
	}
	if c.GPU.LockBackend != LockBackendRedis {
		dirs = append(dirs, filepath.Dir(c.GPU.LockPath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TaskLogDir is where per-task log streams are written.
func (c *Config) TaskLogDir() string {
	return filepath.Join(c.Paths.LogDir, "tasks")
}

// QueueDBPath returns the task store database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.LogDir, "tasks.db")
}

// DaemonLockPath returns the single-instance lock file location.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.LogDir, "clipforged.lock")
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	if v := strings.TrimSpace(c.Tools.FFprobe); v != "" {
		return v
	}
	return defaultFFprobe
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	if v := strings.TrimSpace(c.Tools.FFmpeg); v != "" {
		return v
	}
	return defaultFFmpeg
}

// EncoderExtraArgs splits tools.encoder_extra_args using shell quoting rules.
func (c *Config) EncoderExtraArgs() ([]string, error) {
	return splitArgs("tools.encoder_extra_args", c.Tools.EncoderExtraArgs)
}

// WhisperExtraArgs splits tools.whisper_extra_args using shell quoting rules.
func (c *Config) WhisperExtraArgs() ([]string, error) {
	return splitArgs("tools.whisper_extra_args", c.Tools.WhisperExtraArgs)
}

func splitArgs(key, value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	args, err := shlex.Split(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return args, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
