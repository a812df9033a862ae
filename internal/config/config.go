package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nbsplayer/pkg/models"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvPort              = "NBSPLAYER_PORT"
	EnvDBPath            = "NBSPLAYER_DB_PATH"
	EnvArchivePassphrase = "NBSPLAYER_ARCHIVE_PASSPHRASE"
	EnvLogLevel          = "NBSPLAYER_LOG_LEVEL"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Playback PlaybackConfig `toml:"playback"`
	Library  LibraryConfig  `toml:"library"`
	Cache    CacheConfig    `toml:"cache"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port           string `toml:"port"`
	Host           string `toml:"host"`
	EnableCORS     bool   `toml:"enable_cors"`
	ReadTimeout    int    `toml:"read_timeout_seconds"`
	RequestLogging bool   `toml:"request_logging"`
	MaxUploadMB    int64  `toml:"max_upload_mb"`
}

// StorageConfig contains persistence configuration
type StorageConfig struct {
	Path              string `toml:"path"`
	ArchivePassphrase string `toml:"archive_passphrase"`
	Autosave          bool   `toml:"autosave"`
}

// PlaybackConfig contains playlist and player defaults
type PlaybackConfig struct {
	SettleDelayMS int    `toml:"settle_delay_ms"`
	Parity        bool   `toml:"parity"`
	Identity      string `toml:"identity"`    // name, hash or id
	RepeatMode    string `toml:"repeat_mode"` // off, song or playlist
	VoiceQueue    int    `toml:"voice_queue"`
}

// LibraryConfig contains song and sample locations
type LibraryConfig struct {
	SoundsDir    string   `toml:"sounds_dir"`
	InboxDir     string   `toml:"inbox_dir"`
	WatchInbox   bool     `toml:"watch_inbox"`
	SongFormats  []string `toml:"song_formats"`
	SoundFormats []string `toml:"sound_formats"`
}

// CacheConfig contains decoded song cache limits
type CacheConfig struct {
	TTLMinutes int `toml:"ttl_minutes"`
	MaxEntries int `toml:"max_entries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "127.0.0.1",
			EnableCORS:     true,
			ReadTimeout:    30,
			RequestLogging: true,
			MaxUploadMB:    32,
		},
		Storage: StorageConfig{
			Path:     "./nbsplayer.db",
			Autosave: true,
		},
		Playback: PlaybackConfig{
			SettleDelayMS: 1000,
			Parity:        true,
			Identity:      "name",
			RepeatMode:    "off",
			VoiceQueue:    256,
		},
		Library: LibraryConfig{
			SoundsDir:    "./sounds",
			InboxDir:     "./songs",
			WatchInbox:   true,
			SongFormats:  []string{".nbs"},
			SoundFormats: []string{".wav", ".flac", ".mp3"},
		},
		Cache: CacheConfig{
			TTLMinutes: 15,
			MaxEntries: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies a .env file
// next to it (if any) and NBSPLAYER_* environment variables.
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envFile); err == nil {
		// Variables already set in the environment win over the file
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides settings from NBSPLAYER_* environment variables.
func (c *Config) ApplyEnv() error {
	if port := os.Getenv(EnvPort); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid %s: %q", EnvPort, port)
		}
		c.Server.Port = port
	}
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Storage.Path = path
	}
	if passphrase := os.Getenv(EnvArchivePassphrase); passphrase != "" {
		c.Storage.ArchivePassphrase = passphrase
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# nbsplayer configuration
# Settings for the note block song player and its control server.
# NBSPLAYER_PORT, NBSPLAYER_DB_PATH, NBSPLAYER_ARCHIVE_PASSPHRASE and
# NBSPLAYER_LOG_LEVEL override the values below.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	// Validate storage config
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}

	// Validate playback config
	if c.Playback.SettleDelayMS < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	validIdentities := map[string]bool{
		"name": true, "hash": true, "id": true,
	}
	if !validIdentities[c.Playback.Identity] {
		return fmt.Errorf("invalid identity: %s (must be name, hash, or id)", c.Playback.Identity)
	}
	if _, err := models.ParseRepeatMode(c.Playback.RepeatMode); err != nil {
		return err
	}

	// Validate library config
	if len(c.Library.SongFormats) == 0 {
		return fmt.Errorf("at least one song format must be specified")
	}
	if c.Library.WatchInbox && c.Library.InboxDir == "" {
		return fmt.Errorf("inbox directory cannot be empty when watching is enabled")
	}

	// Validate cache config
	if c.Cache.TTLMinutes < 0 || c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache limits cannot be negative")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// MaxUploadBytes returns the request body limit for uploads and imports
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB * 1024 * 1024
}

// SettleDelay returns the pause between songs when advancing the playlist
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Playback.SettleDelayMS) * time.Millisecond
}

// CacheTTL returns how long decoded songs stay cached
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// IsSongFile checks if a file has a song extension
func (c *Config) IsSongFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range c.Library.SongFormats {
		if supported == ext {
			return true
		}
	}
	return false
}
