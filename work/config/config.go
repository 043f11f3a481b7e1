package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the SeriousCast gateway.
// It covers the backend account credentials, the externally advertised address used
// when building absolute URLs in generated playlists, and tuning knobs for the
// relay engine (polling cadence, rate limiting, worker pool sizing, cache capacity).
type Config struct {
	Username           string        `json:"username"`           // Backend account username (required)
	Password           string        `json:"password"`           // Backend account password (required)
	Hostname           string        `json:"hostname"`           // Externally visible hostname for generated URLs
	Port               int           `json:"port"`               // Externally visible port; also the listen port
	LogLevel           string        `json:"logLevel"`           // Log level: DEBUG, INFO, WARN, ERROR
	Debug              bool          `json:"debug"`              // Enable verbose debug logging
	ObfuscateUrls      bool          `json:"obfuscateUrls"`      // Obfuscate backend URLs in logs
	WorkerThreads      int           `json:"workerThreads"`      // Size of the stream pump worker pool
	RequestsPerSecond  int           `json:"requestsPerSecond"`  // Rate limit for outbound backend requests
	PlaylistCacheSize  int           `json:"playlistCacheSize"`  // Maximum cached variant playlist URLs
	PlaylistIdleWait   time.Duration `json:"playlistIdleWait"`   // Sleep between playlist polls when no audio is pending
	StreamBufferChunks int           `json:"streamBufferChunks"` // Bounded channel depth between generator and client writer
}

// ConfigFile represents the JSON file structure for configuration on disk.
// Duration fields are stored as strings (e.g. "10s") and parsed into
// time.Duration values during conversion.
type ConfigFile struct {
	Username           string `json:"username"`
	Password           string `json:"password"`
	Hostname           string `json:"hostname"`
	Port               int    `json:"port"`
	LogLevel           string `json:"logLevel"`
	Debug              bool   `json:"debug"`
	ObfuscateUrls      bool   `json:"obfuscateUrls"`
	WorkerThreads      int    `json:"workerThreads"`
	RequestsPerSecond  int    `json:"requestsPerSecond"`
	PlaylistCacheSize  int    `json:"playlistCacheSize"`
	PlaylistIdleWait   string `json:"playlistIdleWait"` // Duration string (e.g. "10s")
	StreamBufferChunks int    `json:"streamBufferChunks"`
}

// ErrMissingCredentials is returned by Validate when the backend username or
// password is absent. This is the one configuration failure that is fatal to
// the process; everything else falls back to a default.
var ErrMissingCredentials = errors.New("backend username and password are required")

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// DefaultConfigPath is where LoadConfig looks for the JSON settings file when
// the SERIOUSCAST_CONFIG environment variable is not set.
const DefaultConfigPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Reads from $SERIOUSCAST_CONFIG if set, else DefaultConfigPath.
//   - Falls back to defaults for any missing tuning value.
//   - Credentials are NOT defaulted; callers must run Validate before use.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("SERIOUSCAST_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing tuning values
	validateAndSetDefaults(config)

	configCache = config
	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read the raw settings file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the on-disk representation
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our runtime settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings
// into time.Duration. An absent or empty duration falls back to the default
// during validation instead of failing the load.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		Username:           cf.Username,
		Password:           cf.Password,
		Hostname:           cf.Hostname,
		Port:               cf.Port,
		LogLevel:           cf.LogLevel,
		Debug:              cf.Debug,
		ObfuscateUrls:      cf.ObfuscateUrls,
		WorkerThreads:      cf.WorkerThreads,
		RequestsPerSecond:  cf.RequestsPerSecond,
		PlaylistCacheSize:  cf.PlaylistCacheSize,
		StreamBufferChunks: cf.StreamBufferChunks,
	}

	if cf.PlaylistIdleWait != "" {
		var err error
		if config.PlaylistIdleWait, err = time.ParseDuration(cf.PlaylistIdleWait); err != nil {
			return nil, fmt.Errorf("invalid playlistIdleWait: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no settings file is present. Credentials stay empty and must come
// from the file; Validate will reject this configuration as-is.
func getDefaultConfig() *Config {
	return &Config{
		Hostname:           "localhost",
		Port:               8000,
		LogLevel:           "INFO",
		Debug:              false,
		ObfuscateUrls:      false,
		WorkerThreads:      32,               // Upper bound on concurrent listening clients
		RequestsPerSecond:  10,               // Backend request rate ceiling
		PlaylistCacheSize:  512,              // Variant URL cache entries
		PlaylistIdleWait:   10 * time.Second, // Poll backpressure when no new audio is available
		StreamBufferChunks: 4,                // Segments buffered ahead of the client writer
	}
}

// validateAndSetDefaults ensures all tuning values are valid, filling in
// defaults for missing or out-of-range ones. Credentials are intentionally
// left untouched; see Validate.
func validateAndSetDefaults(config *Config) {
	if config.Hostname == "" {
		config.Hostname = "localhost"
	}
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = 8000
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 32
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.PlaylistCacheSize <= 0 {
		config.PlaylistCacheSize = 512
	}
	if config.PlaylistIdleWait <= 0 {
		config.PlaylistIdleWait = 10 * time.Second
	}
	if config.StreamBufferChunks <= 0 {
		config.StreamBufferChunks = 4
	}
}

// Validate checks that the required backend credentials are present.
// This is called once at startup; a failure here terminates the process.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// BaseURL returns the externally visible base URL of the gateway, built from
// the configured hostname and port. Embedded in generated M3U playlists so
// that players resolve stream URLs back to this process.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Hostname, c.Port)
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CreateExampleConfig creates an example settings file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		Username:           "you@example.com",
		Password:           "hunter2",
		Hostname:           "localhost",
		Port:               8000,
		LogLevel:           "INFO",
		Debug:              false,
		ObfuscateUrls:      true,
		WorkerThreads:      32,
		RequestsPerSecond:  10,
		PlaylistCacheSize:  512,
		PlaylistIdleWait:   "10s",
		StreamBufferChunks: 4,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil, forcing a reload on the
// next LoadConfig() call. Used by tests.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
