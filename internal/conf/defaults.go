// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "BattyCoda")
	viper.SetDefault("main.media_root", "media")
	viper.SetDefault("main.log.default_level", "info")
	viper.SetDefault("main.log.timezone", "Local")
	viper.SetDefault("main.log.console.enabled", true)
	viper.SetDefault("main.log.console.level", "info")
	viper.SetDefault("main.log.file_output.enabled", false)
	viper.SetDefault("main.log.file_output.path", "logs/battycoda.log")
	viper.SetDefault("main.log.file_output.level", "info")

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "battycoda.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.slow_threshold", 200*time.Millisecond)

	viper.SetDefault("rserver.url", "http://localhost:8000")
	viper.SetDefault("rserver.ping_timeout", 5*time.Second)
	viper.SetDefault("rserver.train_timeout", time.Hour)
	viper.SetDefault("rserver.predict_timeout", 60*time.Second)
	viper.SetDefault("rserver.predict_rate", 0.0)
	viper.SetDefault("rserver.predict_burst", 1)

	viper.SetDefault("segmentation.preview_max_seconds", 60.0)
	viper.SetDefault("segmentation.preview_ttl", 30*time.Minute)
	viper.SetDefault("segmentation.external_timeout", 5*time.Minute)
	viper.SetDefault("segmentation.defaults.min_duration_ms", 10.0)
	viper.SetDefault("segmentation.defaults.smooth_window", 3)
	viper.SetDefault("segmentation.defaults.threshold_factor", 0.5)

	viper.SetDefault("classification.progress_interval", 10)
	viper.SetDefault("classification.poll_interval", 2*time.Second)
	viper.SetDefault("classification.lease.backend", "local")
	viper.SetDefault("classification.lease.ttl", 2*time.Hour)
	viper.SetDefault("classification.lease.redis_addr", "localhost:6379")

	viper.SetDefault("clustering.batch_size", 500)
	viper.SetDefault("clustering.default_algorithm", "kmeans")
	viper.SetDefault("clustering.n_clusters", 5)
	viper.SetDefault("clustering.custom_timeout", 10*time.Minute)

	viper.SetDefault("training.data_dir", "training_data")

	viper.SetDefault("spectrogram.fft_size", 512)
	viper.SetDefault("spectrogram.hop_size", 128)
	viper.SetDefault("spectrogram.width", 1000)
	viper.SetDefault("spectrogram.height", 400)

	viper.SetDefault("jobs.workers", 4)
	viper.SetDefault("jobs.queue_size", 100)
	viper.SetDefault("jobs.shutdown_timeout", 30*time.Second)
	viper.SetDefault("jobs.poll_interval", 2*time.Second)

	viper.SetDefault("alerting.enabled", false)
	viper.SetDefault("alerting.urls", []string{})
	viper.SetDefault("alerting.cooldown", 5*time.Minute)
	viper.SetDefault("alerting.disk_threshold", 90.0)
	viper.SetDefault("alerting.memory_threshold", 95.0)
	viper.SetDefault("alerting.check_interval", time.Minute)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "battycoda/jobs")
	viper.SetDefault("mqtt.client_id", "battycoda")

	viper.SetDefault("sentry.enabled", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "0.0.0.0:8090")
}
