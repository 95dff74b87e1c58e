package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/internal/images"
	"github.com/mesh-intelligence/erpdb/internal/paths"
	"github.com/mesh-intelligence/erpdb/internal/suggest"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "ERPDB"

	cfgKeyDataDir = "data_dir"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# erpdb configuration
# Relative file names are resolved against the data directory.

# data_dir:
database: parts.json
taxonomy: categories.json
settings: settings.json
prompts: prompts.json
# images_dir:

log_level: warn
log_format: console
# metrics_file: erpdb.prom

provider:
  url: http://localhost:11434
  model: llama3.2
  timeout: 60s
  candidates: 5

images:
  max_width: 800
  max_height: 600
  quality: 85
  format: jpeg

# backup:
#   bucket: my-parts-backups
#   region: us-east-1
#   endpoint: http://localhost:9000
#   prefix: erpdb
`

// defaults mirror defaultConfigYAML so keys missing from an older file, and
// keys only set in the environment, still resolve.
var defaults = map[string]any{
	cfgKeyDataDir:         "",
	"database":            paths.DefaultDatabase,
	"taxonomy":            paths.DefaultTaxonomy,
	"settings":            paths.DefaultSettings,
	"prompts":             paths.DefaultPrompts,
	"images_dir":          "",
	"log_level":           "warn",
	"log_format":          "console",
	"metrics_file":        "",
	"provider.url":        suggest.DefaultURL,
	"provider.model":      suggest.DefaultModel,
	"provider.timeout":    suggest.DefaultTimeout,
	"provider.candidates": suggest.DefaultCandidates,
	"images.max_width":    images.DefaultMaxWidth,
	"images.max_height":   images.DefaultMaxHeight,
	"images.quality":      images.DefaultQuality,
	"images.format":       images.DefaultFormat,
	"backup.bucket":       "",
	"backup.region":       "",
	"backup.endpoint":     "",
	"backup.prefix":       "",
}

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run. ERPDB_* environment variables override file
// values, e.g. ERPDB_PROVIDER_URL for provider.url.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, system(fmt.Errorf("ensure config dir: %w", err))
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, system(fmt.Errorf("ensure default config: %w", err))
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, &types.LoadError{Source: filepath.Join(configDir, configFileExt), Err: err}
	}
	return v, nil
}

func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// decodeConfig builds the session configuration and resolves its file names
// against dataDir.
func decodeConfig(v *viper.Viper, dataDir string) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	}
	cfg.Database = paths.DataFile(dataDir, cfg.Database, paths.DefaultDatabase)
	cfg.Taxonomy = paths.DataFile(dataDir, cfg.Taxonomy, paths.DefaultTaxonomy)
	cfg.Settings = paths.DataFile(dataDir, cfg.Settings, paths.DefaultSettings)
	cfg.Prompts = paths.DataFile(dataDir, cfg.Prompts, paths.DefaultPrompts)
	cfg.ImagesDir = paths.DataFile(dataDir, cfg.ImagesDir, "")
	cfg.MetricsFile = paths.DataFile(dataDir, cfg.MetricsFile, "")
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = suggest.DefaultTimeout
	}
	return cfg, cfg.Validate()
}

// setup resolves directories, loads the configuration and builds the logger.
func (a *app) setup() error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return system(fmt.Errorf("resolve config dir: %w", err))
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return system(fmt.Errorf("resolve data dir: %w", err))
	}
	cfg, err := decodeConfig(v, dataDir)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	a.logger.Debug("configuration loaded",
		zap.String("config_dir", configDir),
		zap.String("data_dir", dataDir),
		zap.String("database", cfg.Database),
	)
	return nil
}

// newLogger builds a stderr logger. The console format is meant for people;
// json is meant for log collectors.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %v", types.ErrInvalidConfig, err)
	}
	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	zc.Level = lvl
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, system(fmt.Errorf("build logger: %w", err))
	}
	return l, nil
}

// durationString formats d for human output.
func durationString(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
