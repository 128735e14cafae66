package config

import (
	"fmt"

	"github.com/leonardotrapani/voskbind/internal/injection"
)

func (c *Config) Validate() error {
	if c.Model.Autoload && c.Model.Path == "" {
		return fmt.Errorf("model.path required when model.autoload = true")
	}

	validBackends := map[string]bool{"pipewire": true, "portaudio": true}
	if !validBackends[c.Recording.Backend] {
		return fmt.Errorf("invalid recording.backend: %s (must be pipewire or portaudio)", c.Recording.Backend)
	}
	if c.Recording.SampleRate < 0 {
		return fmt.Errorf("invalid recording.sample_rate: %d", c.Recording.SampleRate)
	}
	if c.Recording.SampleRate == 0 && c.Recording.Backend == "pipewire" {
		return fmt.Errorf("recording.sample_rate required for pipewire backend")
	}
	if c.Recording.Channels != 1 {
		return fmt.Errorf("invalid recording.channels: %d (recognition needs mono audio)", c.Recording.Channels)
	}
	if c.Recording.Format != "s16" {
		return fmt.Errorf("invalid recording.format: %q (must be s16)", c.Recording.Format)
	}
	if c.Recording.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid recording.channel_buffer_size: %d", c.Recording.ChannelBufferSize)
	}

	if c.Recognition.Engine == "" {
		return fmt.Errorf("invalid recognition.engine: empty")
	}
	if c.Recognition.Timeout < 0 {
		return fmt.Errorf("invalid recognition.timeout: %v", c.Recognition.Timeout)
	}
	if c.Recognition.LogLevel < -1 {
		return fmt.Errorf("invalid recognition.log_level: %d (must be -1 or greater)", c.Recognition.LogLevel)
	}
	for i, phrase := range c.Recognition.Grammar {
		if phrase == "" {
			return fmt.Errorf("invalid recognition.grammar[%d]: empty phrase", i)
		}
	}

	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	if c.Output.Timeout < 0 {
		return fmt.Errorf("invalid output.timeout: %v", c.Output.Timeout)
	}
	for _, name := range c.Output.Backends {
		if !injection.ValidBackend(name) {
			return fmt.Errorf("invalid output.backends entry: %q (must be wtype, ydotool, or clipboard)", name)
		}
	}

	return nil
}
