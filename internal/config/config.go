// ABOUTME: Application configuration from defaults, YAML file, and environment
// ABOUTME: Produces typed capture, render, and bridge settings with validation
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Capture holds microphone-side settings.
type Capture struct {
	Device          string
	TargetLatencyMs int
	BufferMs        int
	Gain            float64
	SampleRate      int
	Channels        int
	BitsPerSample   int
	Float           bool
	SpeechOptimized bool
	DropOutOfOrder  bool
	PollIntervalMs  int // 0 = event-driven
}

// Render holds speaker-side settings.
type Render struct {
	Device          string
	TargetLatencyMs int
	RingMs          int
	Gain            float64
}

// Bridge holds streaming bridge settings.
type Bridge struct {
	Port       int
	Name       string
	EnableMDNS bool
	QueueDepth int
}

// Config is the full application configuration.
type Config struct {
	LogFile string
	Capture Capture
	Render  Render
	Bridge  Bridge
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logfile", "")

	v.SetDefault("capture.device", "")
	v.SetDefault("capture.target_latency_ms", 20)
	v.SetDefault("capture.buffer_ms", 0)
	v.SetDefault("capture.gain", 1.0)
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.channels", 1)
	v.SetDefault("capture.bits_per_sample", 16)
	v.SetDefault("capture.float", false)
	v.SetDefault("capture.speech_optimized", false)
	v.SetDefault("capture.drop_out_of_order", false)
	v.SetDefault("capture.poll_interval_ms", 0)

	v.SetDefault("render.device", "")
	v.SetDefault("render.target_latency_ms", 40)
	v.SetDefault("render.ring_ms", 500)
	v.SetDefault("render.gain", 1.0)

	v.SetDefault("bridge.port", 8927)
	v.SetDefault("bridge.name", "wavebridge")
	v.SetDefault("bridge.enable_mdns", true)
	v.SetDefault("bridge.queue_depth", 32)
}

// Load reads configuration from the optional YAML file at path, layered
// under WAVEBRIDGE_* environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WAVEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("Loaded config from %s", v.ConfigFileUsed())
	}

	cfg := &Config{
		LogFile: v.GetString("logfile"),
		Capture: Capture{
			Device:          v.GetString("capture.device"),
			TargetLatencyMs: v.GetInt("capture.target_latency_ms"),
			BufferMs:        v.GetInt("capture.buffer_ms"),
			Gain:            v.GetFloat64("capture.gain"),
			SampleRate:      v.GetInt("capture.sample_rate"),
			Channels:        v.GetInt("capture.channels"),
			BitsPerSample:   v.GetInt("capture.bits_per_sample"),
			Float:           v.GetBool("capture.float"),
			SpeechOptimized: v.GetBool("capture.speech_optimized"),
			DropOutOfOrder:  v.GetBool("capture.drop_out_of_order"),
			PollIntervalMs:  v.GetInt("capture.poll_interval_ms"),
		},
		Render: Render{
			Device:          v.GetString("render.device"),
			TargetLatencyMs: v.GetInt("render.target_latency_ms"),
			RingMs:          v.GetInt("render.ring_ms"),
			Gain:            v.GetFloat64("render.gain"),
		},
		Bridge: Bridge{
			Port:       v.GetInt("bridge.port"),
			Name:       v.GetString("bridge.name"),
			EnableMDNS: v.GetBool("bridge.enable_mdns"),
			QueueDepth: v.GetInt("bridge.queue_depth"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engines cannot work with.
func (c *Config) Validate() error {
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture sample rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels <= 0 {
		return fmt.Errorf("capture channels must be positive, got %d", c.Capture.Channels)
	}
	switch c.Capture.BitsPerSample {
	case 16, 24, 32:
	default:
		return fmt.Errorf("capture bits per sample must be 16, 24, or 32, got %d", c.Capture.BitsPerSample)
	}
	if c.Capture.Float && c.Capture.BitsPerSample != 32 {
		return fmt.Errorf("float capture requires 32 bits per sample, got %d", c.Capture.BitsPerSample)
	}
	if c.Capture.Gain < 0 {
		return fmt.Errorf("capture gain must be non-negative, got %f", c.Capture.Gain)
	}
	if c.Capture.PollIntervalMs < 0 {
		return fmt.Errorf("capture poll interval must be non-negative, got %d", c.Capture.PollIntervalMs)
	}
	if c.Render.Gain < 0 {
		return fmt.Errorf("render gain must be non-negative, got %f", c.Render.Gain)
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge port must be in 1..65535, got %d", c.Bridge.Port)
	}
	return nil
}
