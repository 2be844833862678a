package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "snaprec"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SNAPREC"

	// DotEnvFile is read before environment variables are bound. Variables
	// already present in the environment win.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v          *viper.Viper
	dotEnvPath string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper(), dotEnvPath: DotEnvFile}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, dotEnvPath: DotEnvFile}
}

// WithDotEnv sets the .env file to read; an empty path disables it.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// Load loads configuration from files, environment variables, and sets defaults.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			if configFile != "" {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, continue with defaults and env vars
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// loadDotEnv exports variables from the .env file without overriding the
// real environment. A missing file is not an error.
func (l *Loader) loadDotEnv() error {
	if l.dotEnvPath == "" {
		return nil
	}
	err := godotenv.Load(l.dotEnvPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", l.dotEnvPath, err)
	}
	return nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// pipeline.max_width -> SNAPREC_PIPELINE_MAX_WIDTH
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options. Every key
// needs a default so AutomaticEnv can resolve it during Unmarshal.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("log_format", defaults.LogFormat)
	l.v.SetDefault("log_file", defaults.LogFile)
	l.v.SetDefault("verbose", defaults.Verbose)

	// Recognition defaults
	r := defaults.Recognition
	l.v.SetDefault("recognition.endpoint", r.Endpoint)
	l.v.SetDefault("recognition.status_path", r.StatusPath)
	l.v.SetDefault("recognition.envelope", r.Envelope)
	l.v.SetDefault("recognition.model", r.Model)
	l.v.SetDefault("recognition.instruction", r.Instruction)
	l.v.SetDefault("recognition.max_tokens", r.MaxTokens)
	l.v.SetDefault("recognition.temperature", r.Temperature)
	l.v.SetDefault("recognition.user_agent", r.UserAgent)
	l.v.SetDefault("recognition.connect_timeout_sec", r.ConnectTimeoutSec)
	l.v.SetDefault("recognition.write_timeout_sec", r.WriteTimeoutSec)
	l.v.SetDefault("recognition.read_timeout_sec", r.ReadTimeoutSec)
	l.v.SetDefault("recognition.max_response_bytes", r.MaxResponseBytes)
	l.v.SetDefault("recognition.strict_response", r.StrictResponse)

	// Pipeline defaults
	p := defaults.Pipeline
	l.v.SetDefault("pipeline.filter", p.Filter)
	l.v.SetDefault("pipeline.orientation", p.Orientation)
	l.v.SetDefault("pipeline.sample_factor", p.SampleFactor)
	l.v.SetDefault("pipeline.max_pixels", p.MaxPixels)
	l.v.SetDefault("pipeline.max_width", p.MaxWidth)
	l.v.SetDefault("pipeline.max_height", p.MaxHeight)
	l.v.SetDefault("pipeline.quality", p.Quality)
	l.v.SetDefault("pipeline.max_payload_bytes", p.MaxPayloadBytes)
	l.v.SetDefault("pipeline.history_display", p.HistoryDisplay)
	l.v.SetDefault("pipeline.subscriber_buffer", p.SubscriberBuffer)

	// Output defaults
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)

	// Server defaults
	s := defaults.Server
	l.v.SetDefault("server.host", s.Host)
	l.v.SetDefault("server.port", s.Port)
	l.v.SetDefault("server.cors_origin", s.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", s.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", s.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit_enabled", s.RateLimitEnabled)
	l.v.SetDefault("server.requests_per_minute", s.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", s.RequestsPerHour)
	l.v.SetDefault("server.max_requests_per_day", s.MaxRequestsPerDay)
	l.v.SetDefault("server.max_data_per_day", s.MaxDataPerDay)
	l.v.SetDefault("server.trust_proxy", s.TrustProxy)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile generates a default configuration file.
func GenerateDefaultConfigFile(filename string) error {
	// A private viper keeps flag bindings and env values out of the file.
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}

	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, "/etc/"+ConfigFileName)

	return paths
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo() {
	fmt.Printf("Configuration file used: %s\n", l.GetConfigFileUsed())
	fmt.Printf("Configuration search paths: %v\n", GetConfigSearchPaths())
	fmt.Printf("Environment prefix: %s\n", EnvPrefix)
}
