package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultHashWorkers is used when hash_workers is unset or invalid
const DefaultHashWorkers = 4

// Config represents the application configuration
type Config struct {
	LibraryDir   string `yaml:"library_dir"`
	DBPath       string `yaml:"db_path"`
	ImagesDir    string `yaml:"images_dir"`
	TempDir      string `yaml:"temp_dir"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	Output       string `yaml:"output"`
	HashWorkers  int    `yaml:"hash_workers"`
	UpgradeLocal bool   `yaml:"upgrade_local_schema"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/sellv/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:     "warn",
		LogFormat:    "console",
		Output:       "table",
		HashWorkers:  DefaultHashWorkers,
		UpgradeLocal: true,
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional
	if err := loadYAMLConfig(cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if dir := os.Getenv("SELLV_LIBRARY_DIR"); dir != "" {
		cfg.LibraryDir = dir
	}
	if dbPath := getEnvOrFile("SELLV_DB_PATH", "SELLV_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if imagesDir := os.Getenv("SELLV_IMAGES_DIR"); imagesDir != "" {
		cfg.ImagesDir = imagesDir
	}
	if tempDir := os.Getenv("SELLV_TEMP_DIR"); tempDir != "" {
		cfg.TempDir = tempDir
	}
	if logLevel := os.Getenv("SELLV_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("SELLV_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if output := os.Getenv("SELLV_OUTPUT"); output != "" {
		cfg.Output = output
	}
	if workers := os.Getenv("SELLV_HASH_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid SELLV_HASH_WORKERS %q: %w", workers, err)
		}
		cfg.HashWorkers = n
	}
	if upgrade := os.Getenv("SELLV_UPGRADE_SCHEMA"); upgrade != "" {
		b, err := strconv.ParseBool(upgrade)
		if err != nil {
			return fmt.Errorf("invalid SELLV_UPGRADE_SCHEMA %q: %w", upgrade, err)
		}
		cfg.UpgradeLocal = b
	}
	return nil
}

// fillDefaults derives the store paths from the library directory
func (c *Config) fillDefaults() error {
	if c.LibraryDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.LibraryDir = filepath.Join(homeDir, ".sellventory_companion", "library")
	}
	c.LibraryDir = expandHome(c.LibraryDir)

	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.LibraryDir, "sellventory.db")
	}
	if c.ImagesDir == "" {
		c.ImagesDir = filepath.Join(c.LibraryDir, "images")
	}
	c.DBPath = expandHome(strings.TrimSpace(c.DBPath))
	c.ImagesDir = expandHome(c.ImagesDir)

	if c.HashWorkers <= 0 {
		c.HashWorkers = DefaultHashWorkers
	}
	return nil
}

// UseLibrary points the store paths at dir
func (c *Config) UseLibrary(dir string) {
	c.LibraryDir = expandHome(dir)
	c.DBPath = filepath.Join(c.LibraryDir, "sellventory.db")
	c.ImagesDir = filepath.Join(c.LibraryDir, "images")
}

// loadYAMLConfig loads configuration from ~/.config/sellv/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "sellv", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	return nil
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
