// config.go: settings struct and the functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/battycoda/battycoda/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process-wide settings.
type MainSettings struct {
	Name      string               `yaml:"name" mapstructure:"name"`
	MediaRoot string               `yaml:"media_root" mapstructure:"media_root"` // root for recordings, models, spectrograms
	Log       logger.LoggingConfig `yaml:"log" mapstructure:"log"`
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DatabaseSettings selects and configures the store backend.
type DatabaseSettings struct {
	Type          string         `yaml:"type" mapstructure:"type"` // "sqlite" or "mysql"
	SQLite        SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL         MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
	SlowThreshold time.Duration  `yaml:"slow_threshold" mapstructure:"slow_threshold"`
}

// RServerSettings configures the R model server client.
type RServerSettings struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	PingTimeout    time.Duration `yaml:"ping_timeout" mapstructure:"ping_timeout"`
	TrainTimeout   time.Duration `yaml:"train_timeout" mapstructure:"train_timeout"`
	PredictTimeout time.Duration `yaml:"predict_timeout" mapstructure:"predict_timeout"`
	PredictRate    float64       `yaml:"predict_rate" mapstructure:"predict_rate"` // requests per second, 0 disables pacing
	PredictBurst   int           `yaml:"predict_burst" mapstructure:"predict_burst"`
}

// SegmentationDefaults are applied when a job leaves a parameter unset.
type SegmentationDefaults struct {
	MinDurationMs   float64 `yaml:"min_duration_ms" mapstructure:"min_duration_ms"`
	SmoothWindow    int     `yaml:"smooth_window" mapstructure:"smooth_window"`
	ThresholdFactor float64 `yaml:"threshold_factor" mapstructure:"threshold_factor"`
}

// SegmentationSettings configures C3 and previews.
type SegmentationSettings struct {
	PreviewMaxSeconds float64              `yaml:"preview_max_seconds" mapstructure:"preview_max_seconds"`
	PreviewTTL        time.Duration        `yaml:"preview_ttl" mapstructure:"preview_ttl"`
	ExternalTimeout   time.Duration        `yaml:"external_timeout" mapstructure:"external_timeout"`
	Defaults          SegmentationDefaults `yaml:"defaults" mapstructure:"defaults"`
}

// LeaseSettings selects the backend of the classification lease.
type LeaseSettings struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"` // "local" or "redis"
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
}

// ClassificationSettings configures C5.
type ClassificationSettings struct {
	ProgressInterval int           `yaml:"progress_interval" mapstructure:"progress_interval"` // segments between progress writes
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Lease            LeaseSettings `yaml:"lease" mapstructure:"lease"`
}

// ClusteringSettings configures C7.
type ClusteringSettings struct {
	BatchSize        int           `yaml:"batch_size" mapstructure:"batch_size"`
	DefaultAlgorithm string        `yaml:"default_algorithm" mapstructure:"default_algorithm"`
	NClusters        int           `yaml:"n_clusters" mapstructure:"n_clusters"`
	CustomURL        string        `yaml:"custom_url" mapstructure:"custom_url"`
	CustomTimeout    time.Duration `yaml:"custom_timeout" mapstructure:"custom_timeout"`
}

// TrainingSettings configures C6.
type TrainingSettings struct {
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"` // labeled-folder datasets root
}

// SpectrogramSettings configures spectrogram rendering.
type SpectrogramSettings struct {
	FFTSize int `yaml:"fft_size" mapstructure:"fft_size"`
	HopSize int `yaml:"hop_size" mapstructure:"hop_size"`
	Width   int `yaml:"width" mapstructure:"width"`
	Height  int `yaml:"height" mapstructure:"height"`
}

// JobSettings configures the job runner.
type JobSettings struct {
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	QueueSize       int           `yaml:"queue_size" mapstructure:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"` // worker scan for pending jobs
}

// AlertingSettings configures administrator alerts.
type AlertingSettings struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs            []string      `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
	Cooldown        time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	DiskThreshold   float64       `yaml:"disk_threshold" mapstructure:"disk_threshold"`     // percent used
	MemoryThreshold float64       `yaml:"memory_threshold" mapstructure:"memory_threshold"` // percent used
	CheckInterval   time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
}

// MQTTSettings contains settings for the job event MQTT sink.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"` // tcp://host:port
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// MetricsSettings contains settings for the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// Settings is the root configuration.
type Settings struct {
	Debug          bool                   `yaml:"debug" mapstructure:"debug"`
	Main           MainSettings           `yaml:"main" mapstructure:"main"`
	Database       DatabaseSettings       `yaml:"database" mapstructure:"database"`
	RServer        RServerSettings        `yaml:"rserver" mapstructure:"rserver"`
	Segmentation   SegmentationSettings   `yaml:"segmentation" mapstructure:"segmentation"`
	Classification ClassificationSettings `yaml:"classification" mapstructure:"classification"`
	Clustering     ClusteringSettings     `yaml:"clustering" mapstructure:"clustering"`
	Training       TrainingSettings       `yaml:"training" mapstructure:"training"`
	Spectrogram    SpectrogramSettings    `yaml:"spectrogram" mapstructure:"spectrogram"`
	Jobs           JobSettings            `yaml:"jobs" mapstructure:"jobs"`
	Alerting       AlertingSettings       `yaml:"alerting" mapstructure:"alerting"`
	MQTT           MQTTSettings           `yaml:"mqtt" mapstructure:"mqtt"`
	Sentry         SentrySettings         `yaml:"sentry" mapstructure:"sentry"`
	Metrics        MetricsSettings        `yaml:"metrics" mapstructure:"metrics"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An empty
// configPath searches the default locations and writes a default config.yaml
// when none exists.
func Load(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(configPath string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration problems", logger.Error(err))
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config to the first
// default path and reads it back.
func createDefaultConfig() error {
	configPath := filepath.Join(GetDefaultConfigPaths()[1], "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath via a temp file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// MediaPath joins elements under the media root.
func (s *Settings) MediaPath(elem ...string) string {
	return filepath.Join(append([]string{s.Main.MediaRoot}, elem...)...)
}
