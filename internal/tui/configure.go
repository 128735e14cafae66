package tui

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/leonardotrapani/voskbind/internal/config"
	"github.com/leonardotrapani/voskbind/internal/injection"
	"github.com/leonardotrapani/voskbind/internal/models"
	"github.com/muesli/termenv"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

type ConfigSection string

const (
	SectionModel         ConfigSection = "model"
	SectionRecording     ConfigSection = "recording"
	SectionRecognition   ConfigSection = "recognition"
	SectionNotifications ConfigSection = "notifications"
	SectionOutput        ConfigSection = "output"
	SectionSaveExit      ConfigSection = "save_exit"
	SectionDiscardExit   ConfigSection = "discard_exit"
)

// customModel marks the "enter a path" choice in the model picker.
const customModel = "__custom__"

// Run starts the menu-based configuration editor on a copy of cfg.
func Run(cfg *config.Config) (*ConfigureResult, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		c := *cfg
		c.Recognition.Grammar = append([]string(nil), cfg.Recognition.Grammar...)
		c.Output.Backends = append([]string(nil), cfg.Output.Backends...)
		cfg = &c
	}

	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(cfg)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}

		switch section {
		case SectionSaveExit:
			if err := cfg.Validate(); err != nil {
				fmt.Println(StyleError.Render("Invalid configuration: " + err.Error()))
				continue
			}
			confirmed, err := showSummary(cfg)
			if err != nil {
				return &ConfigureResult{Cancelled: true}, nil
			}
			if confirmed {
				return &ConfigureResult{Config: cfg}, nil
			}

		case SectionDiscardExit:
			return &ConfigureResult{Cancelled: true}, nil

		case SectionModel:
			_ = editModel(cfg)
		case SectionRecording:
			_ = editRecording(cfg)
		case SectionRecognition:
			_ = editRecognition(cfg)
		case SectionNotifications:
			_ = editNotifications(cfg)
		case SectionOutput:
			_ = editOutput(cfg)
		}
	}
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	options := []huh.Option[ConfigSection]{
		huh.NewOption(fmt.Sprintf("Model (%s)", cfg.Model.Path), SectionModel),
		huh.NewOption(fmt.Sprintf("Recording (%s, %d Hz)", cfg.Recording.Backend, cfg.Recording.SampleRate), SectionRecording),
		huh.NewOption(fmt.Sprintf("Recognition (%s)", describeGrammar(cfg.Recognition.Grammar)), SectionRecognition),
		huh.NewOption(formatNotificationsLabel(cfg), SectionNotifications),
		huh.NewOption(formatOutputLabel(cfg), SectionOutput),
		huh.NewOption("Save & Exit", SectionSaveExit),
		huh.NewOption("Discard & Exit", SectionDiscardExit),
	}

	var selected ConfigSection
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("Configuration Menu").
				Description("↑/↓ navigate • enter select • esc cancel").
				Options(options...).
				Value(&selected),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func editModel(cfg *config.Config) error {
	choice := cfg.Model.Path
	if models.GetModel(choice) == nil {
		choice = customModel
	}
	path := cfg.Model.Path
	autoload := cfg.Model.Autoload
	assets := cfg.Model.AssetsDir

	pick := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model").
				Description("Catalog models are fetched with `voskbind model download`").
				Options(modelOptions()...).
				Value(&choice),
		),
	).WithTheme(getTheme())
	if err := pick.Run(); err != nil {
		return err
	}

	fields := []huh.Field{
		huh.NewConfirm().
			Title("Load the model when the daemon starts?").
			Value(&autoload),
		huh.NewInput().
			Title("Bundled assets directory").
			Description("Optional. Models missing on disk are unpacked from here").
			Value(&assets),
	}
	if choice == customModel {
		fields = append([]huh.Field{
			huh.NewInput().
				Title("Model directory").
				Value(&path).
				Validate(requireNonEmpty("model directory")),
		}, fields...)
	} else {
		path = choice
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(getTheme()).Run(); err != nil {
		return err
	}

	cfg.Model.Path = strings.TrimSpace(path)
	cfg.Model.Autoload = autoload
	cfg.Model.AssetsDir = strings.TrimSpace(assets)
	return nil
}

func modelOptions() []huh.Option[string] {
	var options []huh.Option[string]
	for _, m := range models.ListModels() {
		label := fmt.Sprintf("%s (%s, %s)", m.Name, m.Language, m.Size)
		if models.IsInstalled(m.ID) {
			label += " ✓"
		}
		options = append(options, huh.NewOption(label, m.ID))
	}
	return append(options, huh.NewOption("Custom path…", customModel))
}

func editRecording(cfg *config.Config) error {
	backend := cfg.Recording.Backend
	rate := strconv.Itoa(cfg.Recording.SampleRate)
	device := cfg.Recording.Device
	buffer := strconv.Itoa(cfg.Recording.ChannelBufferSize)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Capture backend").
				Options(
					huh.NewOption("PipeWire (pw-record)", "pipewire"),
					huh.NewOption("PortAudio", "portaudio"),
				).
				Value(&backend),
			huh.NewSelect[string]().
				Title("Sample rate").
				Description("16 kHz suits most small models").
				Options(
					huh.NewOption("8000 Hz", "8000"),
					huh.NewOption("16000 Hz", "16000"),
					huh.NewOption("44100 Hz", "44100"),
					huh.NewOption("48000 Hz", "48000"),
				).
				Value(&rate),
			huh.NewInput().
				Title("Device").
				Description("Empty for the default source").
				Value(&device),
			huh.NewInput().
				Title("Frame buffer").
				Description("Frames queued before capture drops audio").
				Value(&buffer).
				Validate(validatePositiveInt),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Recording.Backend = backend
	cfg.Recording.SampleRate, _ = strconv.Atoi(rate)
	cfg.Recording.Device = strings.TrimSpace(device)
	cfg.Recording.ChannelBufferSize, _ = strconv.Atoi(strings.TrimSpace(buffer))
	return nil
}

func editRecognition(cfg *config.Config) error {
	phrases := strings.Join(cfg.Recognition.Grammar, "\n")
	timeout := ""
	if cfg.Recognition.Timeout > 0 {
		timeout = cfg.Recognition.Timeout.String()
	}
	continuous := cfg.Recognition.Continuous

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Grammar").
				Description("One phrase per line. Add [unk] to allow other speech. Empty = free dictation").
				Value(&phrases),
			huh.NewInput().
				Title("Timeout").
				Description("e.g. 10s or 1m. Empty disables it").
				Value(&timeout).
				Validate(validateTimeout),
			huh.NewConfirm().
				Title("Keep listening after each result?").
				Value(&continuous),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Recognition.Grammar = parsePhrasesInput(phrases)
	cfg.Recognition.Timeout, _ = parseTimeoutInput(timeout)
	cfg.Recognition.Continuous = continuous
	return nil
}

func editNotifications(cfg *config.Config) error {
	enabled := cfg.Notifications.Enabled
	notifType := cfg.Notifications.Type
	if notifType == "" {
		notifType = "desktop"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable notifications?").
				Description("Results, timeouts and errors").
				Value(&enabled),
			huh.NewSelect[string]().
				Title("Notification Type").
				Options(
					huh.NewOption("Desktop notifications", "desktop"),
					huh.NewOption("Log to console only", "log"),
					huh.NewOption("None (silent)", "none"),
				).
				Value(&notifType),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Notifications.Enabled = enabled
	cfg.Notifications.Type = notifType
	return nil
}

func editOutput(cfg *config.Config) error {
	enabled := cfg.Output.Enabled
	backends := append([]string(nil), cfg.Output.Backends...)
	appendSpace := cfg.Output.Suffix == " "

	options := make([]huh.Option[string], 0, len(injection.DefaultBackendOrder))
	for _, name := range injection.DefaultBackendOrder {
		options = append(options, huh.NewOption(name, name))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Type results into the focused window?").
				Value(&enabled),
			huh.NewMultiSelect[string]().
				Title("Output backends").
				Description("Tried in order until one works").
				Options(options...).
				Value(&backends),
			huh.NewConfirm().
				Title("Append a space after each result?").
				Value(&appendSpace),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Output.Enabled = enabled
	cfg.Output.Backends = orderBackends(backends)
	cfg.Output.Suffix = ""
	if appendSpace {
		cfg.Output.Suffix = " "
	}
	return nil
}

// orderBackends puts the selection back into the default try order.
func orderBackends(selected []string) []string {
	var ordered []string
	for _, name := range injection.DefaultBackendOrder {
		for _, s := range selected {
			if s == name {
				ordered = append(ordered, name)
				break
			}
		}
	}
	return ordered
}

func formatOutputLabel(cfg *config.Config) string {
	if !cfg.Output.Enabled {
		return "Output (off)"
	}
	return fmt.Sprintf("Output (%s)", strings.Join(orderBackends(cfg.Output.Backends), ", "))
}

func formatNotificationsLabel(cfg *config.Config) string {
	if !cfg.Notifications.Enabled {
		return "Notifications (off)"
	}
	return fmt.Sprintf("Notifications (%s)", cfg.Notifications.Type)
}

func showSummary(cfg *config.Config) (bool, error) {
	fmt.Println()
	fmt.Println(StyleHeader.Render("Configuration Summary"))
	for _, row := range summaryRows(cfg) {
		fmt.Printf("  %s %s\n", StyleLabel.Render(row[0]+":"), row[1])
	}
	fmt.Println()

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Save").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}

func summaryRows(cfg *config.Config) [][2]string {
	timeout := "none"
	if cfg.Recognition.Timeout > 0 {
		timeout = cfg.Recognition.Timeout.String()
	}
	mode := "single utterance"
	if cfg.Recognition.Continuous {
		mode = "continuous"
	}
	autoload := "manual load"
	if cfg.Model.Autoload {
		autoload = "autoload"
	}
	return [][2]string{
		{"Model", fmt.Sprintf("%s (%s)", cfg.Model.Path, autoload)},
		{"Recording", fmt.Sprintf("%s, %d Hz", cfg.Recording.Backend, cfg.Recording.SampleRate)},
		{"Grammar", describeGrammar(cfg.Recognition.Grammar)},
		{"Timeout", timeout},
		{"Mode", mode},
		{"Notifications", strings.TrimSuffix(strings.TrimPrefix(formatNotificationsLabel(cfg), "Notifications ("), ")")},
		{"Output", strings.TrimSuffix(strings.TrimPrefix(formatOutputLabel(cfg), "Output ("), ")")},
	}
}

func describeGrammar(phrases []string) string {
	switch len(phrases) {
	case 0:
		return "free dictation"
	case 1:
		return "1 phrase"
	default:
		return fmt.Sprintf("%d phrases", len(phrases))
	}
}

// parsePhrasesInput reads one phrase per line, dropping blank lines.
func parsePhrasesInput(text string) []string {
	var phrases []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			phrases = append(phrases, line)
		}
	}
	return phrases
}

func parseTimeoutInput(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return d, nil
}

func validateTimeout(s string) error {
	_, err := parseTimeoutInput(s)
	return err
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func requireNonEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// clearScreen clears the terminal screen
func clearScreen() {
	output := termenv.NewOutput(os.Stdout)
	output.ClearScreen()
}

func getTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.Base = lipgloss.NewStyle().BorderForeground(ColorPrimary)
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(ColorSecondary)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(ColorText)

	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorSubtle)

	return t
}
