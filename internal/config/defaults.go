package config

import "time"

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Path:     "vosk-model-small-en-us-0.15",
			Autoload: true,
		},
		Recording: RecordingConfig{
			Backend:           "pipewire",
			SampleRate:        16000,
			Channels:          1,
			Format:            "s16",
			Device:            "",
			ChannelBufferSize: 30,
		},
		Recognition: RecognitionConfig{
			Engine:     "vosk",
			Grammar:    nil,
			Timeout:    30 * time.Second,
			Continuous: false,
			LogLevel:   -1,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Type:    "desktop",
		},
		Output: OutputConfig{
			Enabled:  false,
			Backends: []string{"wtype", "ydotool", "clipboard"},
			Timeout:  5 * time.Second,
			Suffix:   " ",
		},
	}
}
