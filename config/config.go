package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("server.port", "CAMCAST_PORT")
	v.BindEnv("stream.max_fps", "CAMCAST_MAX_FPS")
	v.BindEnv("capture.retry_backoff", "CAMCAST_RETRY_BACKOFF")
	v.BindEnv("capture.read_timeout", "CAMCAST_READ_TIMEOUT")
	v.BindEnv("camera.driver", "CAMCAST_CAMERA_DRIVER")
	v.BindEnv("camera.device", "CAMCAST_CAMERA_DEVICE")
	v.BindEnv("encoder.driver", "CAMCAST_ENCODER")
	v.BindEnv("frame.cache_dir", "CAMCAST_CACHE_DIR")
	v.BindEnv("camcast.home", "CAMCAST_HOME")
	v.BindEnv("log.file", "CAMCAST_LOG_FILE")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		"$HOME/.camcast",
		"/etc/camcast",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8888)

	v.SetDefault("stream.max_fps", 20)
	v.SetDefault("stream.wait_timeout", time.Second)

	v.SetDefault("capture.retry_backoff", 200*time.Millisecond)
	v.SetDefault("capture.max_backoff", 5*time.Second)
	v.SetDefault("capture.read_timeout", time.Second)

	v.SetDefault("camera.driver", "pattern")
	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)

	v.SetDefault("encoder.driver", "jpeg")
	v.SetDefault("encoder.quality", 80)

	v.SetDefault("frame.cache_dir", os.TempDir())

	v.SetDefault("camcast.home", filepath.Join(xdg.Home, ".camcast"))
	v.SetDefault("log.file", "")
}

// Settings is a typed snapshot of the configuration consumed by the server.
type Settings struct {
	Port int

	MaxFPS      float64
	WaitTimeout time.Duration

	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	ReadTimeout  time.Duration

	CameraDriver string
	CameraDevice int
	Width        int
	Height       int

	Encoder     string
	JPEGQuality int
	CacheDir    string
}

// Load returns the current settings.
func Load() Settings {
	return Settings{
		Port:         v.GetInt("server.port"),
		MaxFPS:       v.GetFloat64("stream.max_fps"),
		WaitTimeout:  v.GetDuration("stream.wait_timeout"),
		RetryBackoff: v.GetDuration("capture.retry_backoff"),
		MaxBackoff:   v.GetDuration("capture.max_backoff"),
		ReadTimeout:  v.GetDuration("capture.read_timeout"),
		CameraDriver: v.GetString("camera.driver"),
		CameraDevice: v.GetInt("camera.device"),
		Width:        v.GetInt("camera.width"),
		Height:       v.GetInt("camera.height"),
		Encoder:      v.GetString("encoder.driver"),
		JPEGQuality:  v.GetInt("encoder.quality"),
		CacheDir:     v.GetString("frame.cache_dir"),
	}
}

// Set overrides a configuration key, used for CLI flags.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// GetPort returns the server port
func GetPort() int {
	return v.GetInt("server.port")
}

// GetHome returns the camcast home directory
func GetHome() string {
	return v.GetString("camcast.home")
}

// GetLogFile returns the server log file path used in background mode
func GetLogFile() string {
	if logFile := v.GetString("log.file"); logFile != "" {
		return logFile
	}
	return filepath.Join(GetHome(), "server.log")
}
