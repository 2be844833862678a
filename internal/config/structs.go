//nolint:lll
package config

// Config represents the complete configuration for the snaprec application.
// It covers the capture pipeline, the recognition client, the presentation
// server and logging, and supports loading from configuration files,
// environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Recognition service client
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition" json:"recognition"`

	// Capture pipeline
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// RecognitionConfig contains upload client settings.
type RecognitionConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	StatusPath  string  `mapstructure:"status_path" yaml:"status_path" json:"status_path"`
	Envelope    string  `mapstructure:"envelope" yaml:"envelope" json:"envelope"`
	Model       string  `mapstructure:"model" yaml:"model" json:"model"`
	Instruction string  `mapstructure:"instruction" yaml:"instruction" json:"instruction"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	UserAgent   string  `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`

	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec" json:"connect_timeout_sec"`
	WriteTimeoutSec   int `mapstructure:"write_timeout_sec" yaml:"write_timeout_sec" json:"write_timeout_sec"`
	ReadTimeoutSec    int `mapstructure:"read_timeout_sec" yaml:"read_timeout_sec" json:"read_timeout_sec"`

	MaxResponseBytes int64 `mapstructure:"max_response_bytes" yaml:"max_response_bytes" json:"max_response_bytes"`
	StrictResponse   bool  `mapstructure:"strict_response" yaml:"strict_response" json:"strict_response"`
}

// PipelineConfig contains capture pipeline settings.
type PipelineConfig struct {
	// Filter is "kind" or "kind:factor", e.g. "grayscale" or "contrast:1.5".
	Filter      string `mapstructure:"filter" yaml:"filter" json:"filter"`
	Orientation string `mapstructure:"orientation" yaml:"orientation" json:"orientation"`

	SampleFactor int `mapstructure:"sample_factor" yaml:"sample_factor" json:"sample_factor"`
	MaxPixels    int `mapstructure:"max_pixels" yaml:"max_pixels" json:"max_pixels"`

	MaxWidth        int `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	MaxHeight       int `mapstructure:"max_height" yaml:"max_height" json:"max_height"`
	Quality         int `mapstructure:"quality" yaml:"quality" json:"quality"`
	MaxPayloadBytes int `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes" json:"max_payload_bytes"`

	HistoryDisplay   int `mapstructure:"history_display" yaml:"history_display" json:"history_display"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer" json:"subscriber_buffer"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Capture rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
	TrustProxy        bool  `mapstructure:"trust_proxy" yaml:"trust_proxy" json:"trust_proxy"`
}
