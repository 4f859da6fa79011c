package bugreport

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level capture engine configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Page    PageConfig    `yaml:"page"`
	Capture CaptureConfig `yaml:"capture"`
	Tracker TrackerConfig `yaml:"tracker"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote       string `yaml:"remote"` // attach instead of launching
	Headless     bool   `yaml:"headless"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
}

// PageConfig defines the page under observation.
type PageConfig struct {
	URL string `yaml:"url"`
	ID  string `yaml:"id"`
}

// CaptureConfig tunes recording and audio capture.
type CaptureConfig struct {
	MaxDuration time.Duration `yaml:"max_duration"`
	FrameRate   int           `yaml:"frame_rate"`
	Quality     int           `yaml:"quality"` // screencast JPEG quality 1-100
	MaxWidth    int           `yaml:"max_width"`
	MaxHeight   int           `yaml:"max_height"`

	MicrophoneDevice string  `yaml:"microphone_device"` // pulse source, empty = default
	SystemAudio      bool    `yaml:"system_audio"`
	SystemGain       float64 `yaml:"system_gain"`
	MicGain          float64 `yaml:"mic_gain"`

	FFmpegPath string `yaml:"ffmpeg_path"`
}

// TrackerConfig selects and credentials the submission target.
type TrackerConfig struct {
	Provider string       `yaml:"provider"` // linear | jira | cloud
	Linear   LinearConfig `yaml:"linear"`
	Jira     JiraConfig   `yaml:"jira"`
	Cloud    CloudConfig  `yaml:"cloud"`
}

// LinearConfig credentials the Linear GraphQL API, or points at a
// server-side proxy that holds the key instead.
type LinearConfig struct {
	APIKey   string `yaml:"api_key"`
	TeamID   string `yaml:"team_id"`
	ProxyURL string `yaml:"proxy_url"`
}

// JiraConfig credentials a Jira Cloud site.
type JiraConfig struct {
	BaseURL    string `yaml:"base_url"`
	Email      string `yaml:"email"`
	APIToken   string `yaml:"api_token"`
	ProjectKey string `yaml:"project_key"`
	IssueType  string `yaml:"issue_type"`
}

// CloudConfig points at a hosted ingestion endpoint.
type CloudConfig struct {
	Endpoint   string `yaml:"endpoint"`
	ProjectKey string `yaml:"project_key"`
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a config with every default applied and no
// page or tracker credentials set.
func DefaultConfig() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Browser.WindowWidth <= 0 {
		c.Browser.WindowWidth = 1280
	}
	if c.Browser.WindowHeight <= 0 {
		c.Browser.WindowHeight = 800
	}
	if c.Capture.MaxDuration <= 0 {
		c.Capture.MaxDuration = DefaultMaxDuration
	}
	if c.Capture.FrameRate <= 0 {
		c.Capture.FrameRate = 15
	}
	if c.Capture.Quality <= 0 {
		c.Capture.Quality = 80
	}
	if c.Capture.MaxWidth <= 0 {
		c.Capture.MaxWidth = 1280
	}
	if c.Capture.MaxHeight <= 0 {
		c.Capture.MaxHeight = 720
	}
	if c.Capture.SystemGain == 0 {
		c.Capture.SystemGain = 0.6
	}
	if c.Capture.MicGain == 0 {
		c.Capture.MicGain = 1.0
	}
	if c.Tracker.Provider == "" {
		c.Tracker.Provider = "cloud"
	}
	if c.Tracker.Jira.IssueType == "" {
		c.Tracker.Jira.IssueType = "Bug"
	}
}
