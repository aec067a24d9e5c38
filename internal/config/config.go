package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "IMAGE_SEARCH_"

// Config holds the application configuration
type Config struct {
	Backend  string         `yaml:"backend"`
	Model    ModelConfig    `yaml:"model"`
	Detector DetectorConfig `yaml:"detector"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModelConfig holds configuration for the vision-language model
type ModelConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	DescribePrompt string `yaml:"describe_prompt"`
	SendFormat     string `yaml:"send_format"`
	SendSize       int    `yaml:"send_size"`
	SendQuality    int    `yaml:"send_quality"`
}

// DetectorConfig selects how objects are located
type DetectorConfig struct {
	// Kind is "vision" (the model above) or "yolo" (ONNX Runtime)
	Kind          string  `yaml:"kind"`
	YOLOModel     string  `yaml:"yolo_model"`
	ORTLibrary    string  `yaml:"ort_library"`
	InputSize     int     `yaml:"input_size"`
	ConfThreshold float32 `yaml:"conf_threshold"`
	IoUThreshold  float32 `yaml:"iou_threshold"`
	Threads       int     `yaml:"threads"`
}

// IndexerConfig holds configuration for indexing runs
type IndexerConfig struct {
	StorePath     string `yaml:"store_path"`
	OutputDir     string `yaml:"output_dir"`
	Prefix        string `yaml:"prefix"`
	ImageTimeout  string `yaml:"image_timeout"`
	OutputFormat  string `yaml:"output_format"`
	OutputQuality int    `yaml:"output_quality"`
	BoxStroke     int    `yaml:"box_stroke"`
}

// ServerConfig holds configuration for the web interface
type ServerConfig struct {
	Listen          string `yaml:"listen"`
	ImageDir        string `yaml:"image_dir"`
	RenderCacheSize int    `yaml:"render_cache_size"`
}

// LoggingConfig holds configuration for logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: "ollama",
		Model: ModelConfig{
			Name:        "openbmb/minicpm-v4.5",
			SendFormat:  "jpg",
			SendSize:    1536,
			SendQuality: 85,
		},
		Detector: DetectorConfig{
			Kind:          "vision",
			InputSize:     640,
			ConfThreshold: 0.25,
			IoUThreshold:  0.45,
		},
		Indexer: IndexerConfig{
			StorePath:     "results.json",
			OutputDir:     "output",
			Prefix:        "bbox_",
			ImageTimeout:  "5m",
			OutputQuality: 90,
			BoxStroke:     3,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8090",
			ImageDir:        "data",
			RenderCacheSize: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when empty or missing), then .env, then IMAGE_SEARCH_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional and never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(filename); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"BACKEND":       &c.Backend,
		"MODEL":         &c.Model.Name,
		"URL":           &c.Model.URL,
		"DETECTOR":      &c.Detector.Kind,
		"YOLO_MODEL":    &c.Detector.YOLOModel,
		"ORT_LIBRARY":   &c.Detector.ORTLibrary,
		"STORE":         &c.Indexer.StorePath,
		"OUTPUT_DIR":    &c.Indexer.OutputDir,
		"IMAGE_TIMEOUT": &c.Indexer.ImageTimeout,
		"LISTEN":        &c.Server.Listen,
		"IMAGE_DIR":     &c.Server.ImageDir,
		"LOG_LEVEL":     &c.Logging.Level,
		"LOG_FORMAT":    &c.Logging.Format,
		"LOG_FILE":      &c.Logging.File,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "RENDER_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRENDER_CACHE_SIZE: %w", EnvPrefix, err)
		}
		c.Server.RenderCacheSize = n
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ImageTimeoutDuration parses indexer.image_timeout
func (c *Config) ImageTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Indexer.ImageTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ModelURL returns the configured model server URL or the backend's default
func (c *Config) ModelURL() string {
	if c.Model.URL != "" {
		return c.Model.URL
	}
	if c.Backend == "llamacpp" {
		return "http://localhost:8080"
	}
	return "http://localhost:11434"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("backend must be ollama or llamacpp, got %q", c.Backend)
	}

	if strings.TrimSpace(c.Model.Name) == "" {
		return fmt.Errorf("model.name cannot be empty")
	}

	switch strings.ToLower(c.Model.SendFormat) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("model.send_format must be jpg or png")
	}

	if c.Model.SendQuality < 1 || c.Model.SendQuality > 100 {
		return fmt.Errorf("model.send_quality must be between 1 and 100")
	}

	if c.Model.SendSize < 0 {
		return fmt.Errorf("model.send_size cannot be negative")
	}

	switch c.Detector.Kind {
	case "vision":
	case "yolo":
		if c.Detector.YOLOModel == "" {
			return fmt.Errorf("detector.yolo_model is required when detector.kind is yolo")
		}
	default:
		return fmt.Errorf("detector.kind must be vision or yolo, got %q", c.Detector.Kind)
	}

	if c.Detector.ConfThreshold < 0 || c.Detector.ConfThreshold > 1 {
		return fmt.Errorf("detector.conf_threshold must be between 0 and 1")
	}

	if c.Detector.IoUThreshold < 0 || c.Detector.IoUThreshold > 1 {
		return fmt.Errorf("detector.iou_threshold must be between 0 and 1")
	}

	if c.Indexer.StorePath == "" {
		return fmt.Errorf("indexer.store_path cannot be empty")
	}

	if c.Indexer.ImageTimeout != "" {
		if d, err := time.ParseDuration(c.Indexer.ImageTimeout); err != nil || d <= 0 {
			return fmt.Errorf("indexer.image_timeout must be a positive duration, got %q", c.Indexer.ImageTimeout)
		}
	}

	switch strings.ToLower(c.Indexer.OutputFormat) {
	case "", "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("indexer.output_format must be jpg, png or webp")
	}

	if c.Indexer.OutputQuality < 1 || c.Indexer.OutputQuality > 100 {
		return fmt.Errorf("indexer.output_quality must be between 1 and 100")
	}

	if c.Server.RenderCacheSize < 1 {
		return fmt.Errorf("server.render_cache_size must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-search", "config.yaml")
}
