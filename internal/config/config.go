package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingRequired is returned (wrapped with the key) when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

const (
	keyConfigFile = "REVPILOT_CONFIG"
	keyAPIURL     = "REVPILOT_API_URL"
	keyAPIKey     = "REVPILOT_API_KEY"

	defaultAutoQuery = "What is at risk?"
)

// Config stores runtime configuration for the desktop app and CLI.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Voice      VoiceConfig      `yaml:"voice"`
	Audio      AudioConfig      `yaml:"audio"`
	Copilot    CopilotConfig    `yaml:"copilot"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Log        LogConfig        `yaml:"log"`

	// Source is the YAML file that was overlaid, if any.
	Source string `yaml:"-"`
}

type APIConfig struct {
	BaseURL        string        `yaml:"url"`
	APIKey         string        `yaml:"key"`
	UserID         string        `yaml:"userId"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type VoiceConfig struct {
	Demo              bool          `yaml:"demo"`
	ReadyResetAfter   time.Duration `yaml:"readyResetAfter"`
	TranscriptPreview bool          `yaml:"transcriptPreview"`
	PreviewGrace      time.Duration `yaml:"previewGrace"`
	SpeechVoice       string        `yaml:"speechVoice"`
	SpeechFormat      string        `yaml:"speechFormat"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorderCommand"`
	PlayerCommand   string `yaml:"playerCommand"`
	InputFormat     string `yaml:"inputFormat"`
	InputDevice     string `yaml:"inputDevice"`
	SampleRate      int    `yaml:"sampleRate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunkSize"`
}

type CopilotConfig struct {
	Mode        string        `yaml:"mode"`
	RequireCRM  bool          `yaml:"requireCrm"`
	AutoQuery   string        `yaml:"autoQuery"`
	GateTimeout time.Duration `yaml:"gateTimeout"`
}

type VocabularyConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when neither file nor environment say otherwise.
func Defaults() Config {
	return Config{
		API: APIConfig{
			UserID: "dev",
		},
		Voice: VoiceConfig{
			Demo:         true,
			PreviewGrace: 500 * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			PlayerCommand:   "ffplay",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Copilot: CopilotConfig{
			Mode:        "hybrid",
			RequireCRM:  true,
			AutoQuery:   defaultAutoQuery,
			GateTimeout: 5 * time.Second,
		},
		Vocabulary: VocabularyConfig{
			Path: defaultVocabularyPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load resolves configuration from defaults, the optional YAML file named by
// REVPILOT_CONFIG, and environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv(keyConfigFile)); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.Source = path
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.API.BaseURL = envOrDefault(keyAPIURL, cfg.API.BaseURL)
	cfg.API.APIKey = envOrDefault(keyAPIKey, cfg.API.APIKey)
	cfg.API.UserID = envOrDefault("REVPILOT_USER_ID", cfg.API.UserID)
	cfg.API.RequestTimeout = envOrDefaultMillis("REVPILOT_REQUEST_TIMEOUT_MS", cfg.API.RequestTimeout)

	cfg.Voice.Demo = envOrDefaultBool("REVPILOT_DEMO_MODE", cfg.Voice.Demo)
	cfg.Voice.ReadyResetAfter = envOrDefaultMillis("REVPILOT_READY_RESET_MS", cfg.Voice.ReadyResetAfter)
	cfg.Voice.TranscriptPreview = envOrDefaultBool("REVPILOT_TRANSCRIPT_PREVIEW", cfg.Voice.TranscriptPreview)
	cfg.Voice.PreviewGrace = envOrDefaultMillis("REVPILOT_PREVIEW_GRACE_MS", cfg.Voice.PreviewGrace)
	cfg.Voice.SpeechVoice = envOrDefault("REVPILOT_SPEECH_VOICE", cfg.Voice.SpeechVoice)
	cfg.Voice.SpeechFormat = envOrDefault("REVPILOT_SPEECH_FORMAT", cfg.Voice.SpeechFormat)

	cfg.Audio.RecorderCommand = envOrDefault("REVPILOT_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.PlayerCommand = envOrDefault("REVPILOT_FFPLAY_COMMAND", cfg.Audio.PlayerCommand)
	cfg.Audio.InputFormat = envOrDefault("REVPILOT_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("REVPILOT_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("REVPILOT_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("REVPILOT_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("REVPILOT_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)

	cfg.Copilot.Mode = strings.ToLower(envOrDefault("REVPILOT_MODE", cfg.Copilot.Mode))
	cfg.Copilot.RequireCRM = envOrDefaultBool("REVPILOT_REQUIRE_CRM", cfg.Copilot.RequireCRM)
	cfg.Copilot.AutoQuery = envOrDefault("REVPILOT_AUTO_QUERY", cfg.Copilot.AutoQuery)
	cfg.Copilot.GateTimeout = envOrDefaultMillis("REVPILOT_GATE_TIMEOUT_MS", cfg.Copilot.GateTimeout)

	cfg.Vocabulary.Path = envOrDefault("REVPILOT_VOCABULARY_FILE", cfg.Vocabulary.Path)

	cfg.Log.Level = strings.ToLower(envOrDefault("REVPILOT_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("REVPILOT_LOG_FORMAT", cfg.Log.Format))
}

func normalize(cfg *Config) {
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	cfg.API.APIKey = strings.TrimSpace(cfg.API.APIKey)
	cfg.Copilot.AutoQuery = strings.TrimSpace(cfg.Copilot.AutoQuery)

	if strings.TrimSpace(cfg.API.UserID) == "" {
		cfg.API.UserID = "dev"
	}
	if cfg.API.RequestTimeout < 0 {
		cfg.API.RequestTimeout = 0
	}
	if cfg.Voice.ReadyResetAfter < 0 {
		cfg.Voice.ReadyResetAfter = 0
	}
	if cfg.Voice.PreviewGrace < 0 {
		cfg.Voice.PreviewGrace = 500 * time.Millisecond
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	switch cfg.Copilot.Mode {
	case "silent", "hybrid", "voice":
	default:
		cfg.Copilot.Mode = "hybrid"
	}
	if cfg.Copilot.GateTimeout < 0 {
		cfg.Copilot.GateTimeout = 0
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		cfg.Log.Format = "console"
	}
}

func validate(cfg Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, keyAPIURL)
	}
	if cfg.API.APIKey == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, keyAPIKey)
	}
	return nil
}

func defaultVocabularyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "revpilot", "vocabulary.yaml")
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
