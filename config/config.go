// ttsapi/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	ModelDir             string        `mapstructure:"MODEL_DIR"`
	OutputDir            string        `mapstructure:"OUTPUT_DIR"`
	TTSBin               string        `mapstructure:"TTS_BIN"`
	TTSExtraArgs         string        `mapstructure:"TTS_EXTRA_ARGS"`
	TTSTimeout           time.Duration `mapstructure:"TTS_TIMEOUT"`
	MaxConcurrency       int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize            int           `mapstructure:"QUEUE_SIZE"`
	ThrottleCPU          float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem      int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk     int64         `mapstructure:"THROTTLE_FREEDISK"`
	OutputLocalLifetime  time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	ModelVersionFallback string        `mapstructure:"MODEL_VERSION_FALLBACK"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to int64s for byte sizes.
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("PORT", "8000")
	vp.SetDefault("MODEL_DIR", "./checkpoints")
	vp.SetDefault("OUTPUT_DIR", "outputs/tasks")
	vp.SetDefault("TTS_BIN", "indextts")
	vp.SetDefault("TTS_EXTRA_ARGS", "")
	vp.SetDefault("TTS_TIMEOUT", "10m")
	vp.SetDefault("MAX_CONCURRENCY", 1)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "0")
	vp.SetDefault("MODEL_VERSION_FALLBACK", "unknown")

	// Load from config file
	vp.SetConfigName("ttsapi_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ttsapi/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("TTSAPI")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// Unmarshal the config, providing our custom composed hooks.
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
