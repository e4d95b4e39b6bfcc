package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MINERU_SERVICE_"

type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Mineru     MineruConfig     `yaml:"mineru"`
	Office     OfficeConfig     `yaml:"office"`
	Layout     LayoutConfig     `yaml:"layout"`
	Processing ProcessingConfig `yaml:"processing"`
	Minio      MinioConfig      `yaml:"minio"`
	Log        LogConfig        `yaml:"log"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	UploadDir   string `yaml:"upload_dir"`
	OutputDir   string `yaml:"output_dir"`
	DataDir     string `yaml:"data_dir"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

type MineruConfig struct {
	Binary  string        `yaml:"binary"`
	Device  string        `yaml:"device"` // auto, cpu, cuda, mps
	Timeout time.Duration `yaml:"timeout"`
}

type OfficeConfig struct {
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
}

// LayoutConfig controls how text is laid out into intermediate PDFs. Without a
// FontPath only cp1252 characters survive; point it at a TrueType font with CJK
// glyphs to keep Chinese text.
type LayoutConfig struct {
	FontPath string `yaml:"font_path"`
}

type ProcessingConfig struct {
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
}

type MinioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// Load reads the YAML file at path, then .env, then MINERU_SERVICE_* overrides.
// A missing file is not an error; the service runs on defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with only defaults applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "MinerU Document Recognition Service"
	}
	if c.App.Version == "" {
		c.App.Version = "0.1.0"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8002
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.MaxFileSize == 0 {
		c.Storage.MaxFileSize = 100 << 20
	}
	if c.Mineru.Binary == "" {
		c.Mineru.Binary = "mineru"
	}
	if c.Mineru.Device == "" {
		c.Mineru.Device = "auto"
	}
	if c.Mineru.Timeout == 0 {
		c.Mineru.Timeout = 5 * time.Minute
	}
	if c.Office.Binary == "" {
		c.Office.Binary = "libreoffice"
	}
	if c.Office.Timeout == 0 {
		c.Office.Timeout = 60 * time.Second
	}
	if c.Processing.MaxConcurrentTasks <= 0 {
		c.Processing.MaxConcurrentTasks = 3
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = []string{"*"}
	}
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"HOST":          &c.Server.Host,
		"UPLOAD_DIR":    &c.Storage.UploadDir,
		"OUTPUT_DIR":    &c.Storage.OutputDir,
		"DATA_DIR":      &c.Storage.DataDir,
		"MINERU_BINARY": &c.Mineru.Binary,
		"MINERU_DEVICE": &c.Mineru.Device,
		"OFFICE_BINARY": &c.Office.Binary,
		"FONT_PATH":     &c.Layout.FontPath,
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
		"LOG_FILE":      &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                 &c.Server.Port,
		"MAX_CONCURRENT_TASKS": &c.Processing.MaxConcurrentTasks,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, v, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(EnvPrefix + "MAX_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_FILE_SIZE=%q: %w", EnvPrefix, v, err)
		}
		c.Storage.MaxFileSize = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MINERU_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sMINERU_TIMEOUT=%q: %w", EnvPrefix, v, err)
		}
		c.Mineru.Timeout = d
	}
	return nil
}

// EnsureDirs creates the storage directories and the log file's parent
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Storage.UploadDir, c.Storage.OutputDir, c.Storage.DataDir}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
