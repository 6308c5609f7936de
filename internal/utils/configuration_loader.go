package utils

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	configurationFileReadErrorTemplateConstant = "unable to read configuration file %s: %w"
	configurationDecodeErrorTemplateConstant   = "unable to decode configuration: %w"
	environmentKeySeparatorConstant            = "."
	environmentKeyReplacementConstant          = "_"
)

// LoadedConfiguration describes where the effective configuration came from.
type LoadedConfiguration struct {
	ConfigFileUsed string
}

// ConfigurationLoader layers defaults, a configuration file, and environment overrides.
type ConfigurationLoader struct {
	configurationType string
	environmentPrefix string
}

// NewConfigurationLoader constructs a loader for documents of the given type whose keys may be overridden by PREFIX_SECTION_KEY variables.
func NewConfigurationLoader(configurationType string, environmentPrefix string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
	}
}

// LoadConfiguration decodes the merged configuration into target.
// An empty configurationFilePath yields defaults and environment overrides only; a non-empty one must exist.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, target any) (LoadedConfiguration, error) {
	configurationReader := viper.New()
	for key, value := range defaultValues {
		configurationReader.SetDefault(key, value)
	}

	trimmedPath := strings.TrimSpace(configurationFilePath)
	if len(trimmedPath) > 0 {
		configurationReader.SetConfigFile(trimmedPath)
		configurationReader.SetConfigType(loader.configurationType)
		if readError := configurationReader.ReadInConfig(); readError != nil {
			return LoadedConfiguration{}, fmt.Errorf(configurationFileReadErrorTemplateConstant, trimmedPath, readError)
		}
	}

	if len(loader.environmentPrefix) > 0 {
		configurationReader.SetEnvPrefix(loader.environmentPrefix)
	}
	configurationReader.SetEnvKeyReplacer(strings.NewReplacer(environmentKeySeparatorConstant, environmentKeyReplacementConstant))
	configurationReader.AutomaticEnv()

	if decodeError := configurationReader.Unmarshal(target); decodeError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, decodeError)
	}

	return LoadedConfiguration{ConfigFileUsed: configurationReader.ConfigFileUsed()}, nil
}
