package config

import (
	"reflect"
	"time"

	"github.com/leonardotrapani/voskbind/internal/notify"
)

type Config struct {
	Model         ModelConfig         `toml:"model"`
	Recording     RecordingConfig     `toml:"recording"`
	Recognition   RecognitionConfig   `toml:"recognition"`
	Notifications NotificationsConfig `toml:"notifications"`
	Output        OutputConfig        `toml:"output"`
}

type ModelConfig struct {
	Path      string `toml:"path"`       // model directory, or a catalog id from `voskbind model list`
	AssetsDir string `toml:"assets_dir"` // bundled model assets to unpack on demand
	ModelsDir string `toml:"models_dir"` // where assets are unpacked (empty = default models dir)
	Autoload  bool   `toml:"autoload"`   // load the model when the daemon starts
}

type RecordingConfig struct {
	Backend           string `toml:"backend"` // "pipewire" or "portaudio"
	SampleRate        int    `toml:"sample_rate"`
	Channels          int    `toml:"channels"`
	Format            string `toml:"format"`
	Device            string `toml:"device"`
	ChannelBufferSize int    `toml:"channel_buffer_size"`
}

type RecognitionConfig struct {
	Engine     string        `toml:"engine"`
	Grammar    []string      `toml:"grammar"`
	Timeout    time.Duration `toml:"timeout"`
	Continuous bool          `toml:"continuous"`
	LogLevel   int           `toml:"log_level"` // engine verbosity, -1 silences it
}

type NotificationsConfig struct {
	Enabled  bool           `toml:"enabled"`
	Type     string         `toml:"type"` // "desktop", "log", "none"
	Messages MessagesConfig `toml:"messages"`
}

// OutputConfig controls typing recognized results into the focused window.
type OutputConfig struct {
	Enabled  bool          `toml:"enabled"`
	Backends []string      `toml:"backends"` // tried in order: "wtype", "ydotool", "clipboard"
	Timeout  time.Duration `toml:"timeout"`
	Suffix   string        `toml:"suffix"`
}

type MessageConfig struct {
	Title string `toml:"title"`
	Body  string `toml:"body"`
}

type MessagesConfig struct {
	Listening      MessageConfig `toml:"listening"`
	Stopped        MessageConfig `toml:"stopped"`
	Result         MessageConfig `toml:"result"`
	Timeout        MessageConfig `toml:"timeout"`
	ModelLoaded    MessageConfig `toml:"model_loaded"`
	ConfigReloaded MessageConfig `toml:"config_reloaded"`
	Error          MessageConfig `toml:"error"`
}

// Resolve merges user config with defaults from MessageDefs
func (m *MessagesConfig) Resolve() map[notify.MessageType]notify.Message {
	result := notify.DefaultMessages()

	v := reflect.ValueOf(m).Elem()
	t := v.Type()
	tagToField := make(map[string]int)
	for i := 0; i < t.NumField(); i++ {
		tagToField[t.Field(i).Tag.Get("toml")] = i
	}

	for _, def := range notify.MessageDefs {
		idx, ok := tagToField[def.ConfigKey]
		if !ok {
			continue
		}
		msg := result[def.Type]
		userMsg := v.Field(idx).Interface().(MessageConfig)
		if userMsg.Title != "" {
			msg.Title = userMsg.Title
		}
		if userMsg.Body != "" {
			msg.Body = userMsg.Body
		}
		result[def.Type] = msg
	}
	return result
}
