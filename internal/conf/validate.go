// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError collects all settings problems found in one pass.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	add(validateMainSettings(&settings.Main))
	add(validateDatabaseSettings(&settings.Database))
	add(validateRServerSettings(&settings.RServer))
	add(validateSegmentationSettings(&settings.Segmentation))
	add(validateClassificationSettings(&settings.Classification))
	add(validateClusteringSettings(&settings.Clustering))
	add(validateJobSettings(&settings.Jobs))
	add(validateAlertingSettings(&settings.Alerting))
	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		add(fmt.Errorf("mqtt broker is required when mqtt is enabled"))
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		add(fmt.Errorf("sentry dsn is required when sentry is enabled"))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMainSettings(s *MainSettings) error {
	if strings.TrimSpace(s.MediaRoot) == "" {
		return fmt.Errorf("main.media_root must not be empty")
	}
	return nil
}

func validateDatabaseSettings(s *DatabaseSettings) error {
	switch s.Type {
	case "sqlite":
		if s.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path must not be empty")
		}
	case "mysql":
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			return fmt.Errorf("database.mysql requires host and database")
		}
	default:
		return fmt.Errorf("database.type must be sqlite or mysql, got %q", s.Type)
	}
	return nil
}

func validateRServerSettings(s *RServerSettings) error {
	if s.URL == "" {
		return fmt.Errorf("rserver.url must not be empty")
	}
	if err := validateEnvURL(s.URL); err != nil {
		return fmt.Errorf("rserver.url: %w", err)
	}
	if s.PingTimeout <= 0 || s.TrainTimeout <= 0 || s.PredictTimeout <= 0 {
		return fmt.Errorf("rserver timeouts must be positive")
	}
	if s.PredictRate < 0 {
		return fmt.Errorf("rserver.predict_rate must not be negative")
	}
	return nil
}

func validateSegmentationSettings(s *SegmentationSettings) error {
	if s.PreviewMaxSeconds <= 0 || s.PreviewMaxSeconds > 60 {
		return fmt.Errorf("segmentation.preview_max_seconds must be in (0, 60]")
	}
	if s.Defaults.SmoothWindow < 1 {
		return fmt.Errorf("segmentation.defaults.smooth_window must be at least 1")
	}
	if s.Defaults.ThresholdFactor <= 0 {
		return fmt.Errorf("segmentation.defaults.threshold_factor must be positive")
	}
	return nil
}

func validateClassificationSettings(s *ClassificationSettings) error {
	if s.ProgressInterval < 1 {
		return fmt.Errorf("classification.progress_interval must be at least 1")
	}
	switch s.Lease.Backend {
	case "local":
	case "redis":
		if s.Lease.RedisAddr == "" {
			return fmt.Errorf("classification.lease.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("classification.lease.backend must be local or redis, got %q", s.Lease.Backend)
	}
	return nil
}

func validateClusteringSettings(s *ClusteringSettings) error {
	if s.BatchSize < 1 {
		return fmt.Errorf("clustering.batch_size must be at least 1")
	}
	if s.NClusters < 2 {
		return fmt.Errorf("clustering.n_clusters must be at least 2")
	}
	return nil
}

func validateJobSettings(s *JobSettings) error {
	if s.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1")
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("jobs.queue_size must be at least 1")
	}
	return nil
}

func validateAlertingSettings(s *AlertingSettings) error {
	if !s.Enabled {
		return nil
	}
	if len(s.URLs) == 0 {
		return fmt.Errorf("alerting.urls must not be empty when alerting is enabled")
	}
	if s.DiskThreshold <= 0 || s.DiskThreshold > 100 || s.MemoryThreshold <= 0 || s.MemoryThreshold > 100 {
		return fmt.Errorf("alerting thresholds must be percentages in (0, 100]")
	}
	return nil
}
