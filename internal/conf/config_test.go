package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, "main:\n  media_root: /srv/media\n")
	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/media", settings.Main.MediaRoot)
	assert.Equal(t, "sqlite", settings.Database.Type)
	assert.Equal(t, 5*time.Second, settings.RServer.PingTimeout)
	assert.Equal(t, time.Hour, settings.RServer.TrainTimeout)
	assert.Equal(t, 500, settings.Clustering.BatchSize)
	assert.Equal(t, 5*time.Minute, settings.Alerting.Cooldown)
	assert.InDelta(t, 60.0, settings.Segmentation.PreviewMaxSeconds, 0)
	assert.Equal(t, "local", settings.Classification.Lease.Backend)
	assert.Same(t, settings, GetSettings())
}

func TestLoadEnvironmentOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("BATTYCODA_RSERVER_URL", "http://r.internal:9000")
	t.Setenv("BATTYCODA_WORKERS", "8")

	settings, err := Load(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)
	assert.True(t, settings.Debug)
	assert.Equal(t, "http://r.internal:9000", settings.RServer.URL)
	assert.Equal(t, 8, settings.Jobs.Workers)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := Load(writeConfig(t, "database:\n  type: postgres\nclustering:\n  batch_size: 0\n"))
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestEmbeddedDefaultConfigIsValid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)

	settings, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, "battycoda/jobs", settings.MQTT.Topic)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, "main:\n  media_root: media\n")
	settings, err := Load(path)
	require.NoError(t, err)

	settings.Clustering.BatchSize = 250
	require.NoError(t, SaveYAMLConfig(path, settings))

	viper.Reset()
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, reloaded.Clustering.BatchSize)
}

func TestValidateEnvValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fn      func(string) error
		value   string
		wantErr bool
	}{
		{"bool true", validateEnvBool, " true ", false},
		{"bool yes", validateEnvBool, "yes", true},
		{"port ok", validateEnvPort, "3306", false},
		{"port zero", validateEnvPort, "0", true},
		{"url ok", validateEnvURL, "http://localhost:8000", false},
		{"url relative", validateEnvURL, "localhost", true},
		{"db mysql", validateEnvDatabaseType, "mysql", false},
		{"db other", validateEnvDatabaseType, "oracle", true},
		{"workers", validateEnvPositiveInt, "-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.fn(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMediaPath(t *testing.T) {
	s := &Settings{Main: MainSettings{MediaRoot: "/srv/media"}}
	assert.Equal(t, "/srv/media/models/classifiers", s.MediaPath("models", "classifiers"))
}
