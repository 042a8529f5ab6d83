// conf/utils.go config file location helpers
package conf

import (
	"os"
	"path/filepath"

	"github.com/battycoda/battycoda/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in order: the working directory, the user config directory and /etc.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "battycoda"))
	} else {
		paths = append(paths, filepath.Join(os.TempDir(), "battycoda"))
	}
	return append(paths, "/etc/battycoda")
}

// FindConfigFile returns the first existing config.yaml in the default paths.
func FindConfigFile() (string, error) {
	for _, path := range GetDefaultConfigPaths() {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}
	return "", errors.Newf("config file not found").
		Component("conf").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}
