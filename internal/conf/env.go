// env.go environment variable bindings for BattyCoda
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BATTYCODA_DEBUG", validateEnvBool},
		{"main.media_root", "BATTYCODA_MEDIA_ROOT", nil},
		{"database.type", "BATTYCODA_DATABASE_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "BATTYCODA_SQLITE_PATH", nil},
		{"database.mysql.host", "BATTYCODA_MYSQL_HOST", nil},
		{"database.mysql.port", "BATTYCODA_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "BATTYCODA_MYSQL_USERNAME", nil},
		{"database.mysql.password", "BATTYCODA_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "BATTYCODA_MYSQL_DATABASE", nil},
		{"rserver.url", "BATTYCODA_RSERVER_URL", validateEnvURL},
		{"classification.lease.backend", "BATTYCODA_LEASE_BACKEND", nil},
		{"classification.lease.redis_addr", "BATTYCODA_REDIS_ADDR", nil},
		{"classification.lease.redis_password", "BATTYCODA_REDIS_PASSWORD", nil},
		{"jobs.workers", "BATTYCODA_WORKERS", validateEnvPositiveInt},
		{"sentry.dsn", "BATTYCODA_SENTRY_DSN", nil},
		{"mqtt.password", "BATTYCODA_MQTT_PASSWORD", nil},
	}
}

// bindEnvVars binds BATTYCODA_* variables and reports invalid values.
func bindEnvVars() error {
	var warnings []string
	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch strings.TrimSpace(value) {
	case "sqlite", "mysql":
		return nil
	}
	return fmt.Errorf("must be sqlite or mysql")
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
