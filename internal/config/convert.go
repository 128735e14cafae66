package config

import (
	"slices"

	"github.com/leonardotrapani/voskbind/internal/injection"
	"github.com/leonardotrapani/voskbind/internal/models"
	"github.com/leonardotrapani/voskbind/internal/notify"
	"github.com/leonardotrapani/voskbind/internal/recording"
	"github.com/leonardotrapani/voskbind/internal/session"
)

func (c *Config) ToRecordingConfig() recording.Config {
	return recording.Config{
		Backend:           c.Recording.Backend,
		SampleRate:        c.Recording.SampleRate,
		Channels:          c.Recording.Channels,
		Format:            c.Recording.Format,
		Device:            c.Recording.Device,
		ChannelBufferSize: c.Recording.ChannelBufferSize,
	}
}

func (c *Config) ToStartOptions() session.Options {
	return session.Options{
		Grammar:    slices.Clone(c.Recognition.Grammar),
		Timeout:    c.Recognition.Timeout,
		Continuous: c.Recognition.Continuous,
	}
}

// ToUnpacker returns nil when no assets directory is configured.
func (c *Config) ToUnpacker() *models.Unpacker {
	if c.Model.AssetsDir == "" {
		return nil
	}
	dir := c.Model.ModelsDir
	if dir == "" {
		var err error
		if dir, err = models.GetModelsDir(); err != nil {
			return nil
		}
	}
	return models.NewUnpacker(c.Model.AssetsDir, dir)
}

// ResolveModelPath maps a catalog id to its install directory when the model
// is installed; anything else is returned unchanged.
func (c *Config) ResolveModelPath() string {
	if path, err := models.GetInstalledPath(c.Model.Path); err == nil {
		return path
	}
	return c.Model.Path
}

func (c *Config) ToNotifier() notify.Notifier {
	if !c.Notifications.Enabled {
		return notify.Nop{}
	}
	return notify.New(c.Notifications.Type, c.Notifications.Messages.Resolve())
}

// ToInjector returns nil when output is disabled.
func (c *Config) ToInjector() (*injection.Injector, error) {
	if !c.Output.Enabled {
		return nil, nil
	}
	return injection.New(injection.Config{
		Backends: c.Output.Backends,
		Timeout:  c.Output.Timeout,
		Suffix:   c.Output.Suffix,
	})
}
