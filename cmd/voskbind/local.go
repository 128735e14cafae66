package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/leonardotrapani/voskbind/internal/config"
	"github.com/leonardotrapani/voskbind/internal/deps"
	"github.com/leonardotrapani/voskbind/internal/engine"
	"github.com/leonardotrapani/voskbind/internal/recording"
	"github.com/leonardotrapani/voskbind/internal/session"
	"github.com/leonardotrapani/voskbind/internal/tui"
	"github.com/spf13/cobra"
)

// loadConfig reads the user config, falling back to defaults when there is
// none yet.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrConfigNotFound) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

// apply overlays the flags that were set on base.
func (f *startFlags) apply(cmd *cobra.Command, base session.Options) session.Options {
	opts := base
	switch {
	case f.noGrammar:
		opts.Grammar = nil
	case len(f.grammar) > 0:
		opts.Grammar = f.grammar
	}
	if cmd.Flags().Changed("timeout") {
		opts.Timeout = f.timeout
	}
	if cmd.Flags().Changed("continuous") {
		opts.Continuous = f.continuous
	}
	return opts
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// openLocal loads the model into a session that runs in this process.
func openLocal(ctx context.Context, model string, src recording.Source) (*session.Session, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if model != "" {
		cfg.Model.Path = model
	}

	sess, err := newSession(cfg, src)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.LoadModel(ctx, cfg.ResolveModelPath()); err != nil {
		sess.Close()
		return nil, nil, err
	}
	return sess, cfg, nil
}

func onceCmd() *cobra.Command {
	var (
		flags    startFlags
		model    string
		partials bool
	)

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Recognize a single utterance without the daemon and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			sess, cfg, err := openLocal(ctx, model, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			if partials {
				sess.OnPartialResult(func(text string) {
					fmt.Fprintf(os.Stderr, "\r\033[K%s", tui.StyleSubtle.Render(text))
				})
			}

			text, err := sess.Recognize(ctx, flags.apply(cmd, cfg.ToStartOptions()))
			if partials {
				fmt.Fprint(os.Stderr, "\r\033[K")
			}
			switch {
			case errors.Is(err, session.ErrTimeout):
				return fmt.Errorf("nothing recognized before the timeout")
			case err != nil:
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&model, "model", "m", "", "model path or catalog id (default from config)")
	cmd.Flags().BoolVarP(&partials, "partials", "p", false, "show partial hypotheses on stderr")
	return cmd
}

func transcribeCmd() *cobra.Command {
	var (
		flags    startFlags
		model    string
		realtime bool
		rate     int
	)

	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Run a 16-bit PCM WAV file through the recognizer, one line per utterance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			src := recording.NewWavFile(args[0])
			src.Realtime = realtime
			src.SampleRate = rate

			sess, cfg, err := openLocal(ctx, model, src)
			if err != nil {
				return err
			}
			defer sess.Close()

			sess.OnResult(printLine)
			sess.OnFinalResult(printLine)
			var faults []string
			sess.OnError(func(msg string) { faults = append(faults, msg) })

			opts := flags.apply(cmd, cfg.ToStartOptions())
			opts.Continuous = true
			opts.Timeout = 0
			if err := sess.Start(ctx, opts); err != nil {
				return err
			}

			if err := sess.Wait(ctx); err != nil {
				sess.Stop()
			}
			// deliver queued results before reporting
			sess.Close()

			if len(faults) > 0 {
				return fmt.Errorf("recognition errors: %s", strings.Join(faults, "; "))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&model, "model", "m", "", "model path or catalog id (default from config)")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "feed audio at playback speed")
	cmd.Flags().IntVar(&rate, "rate", 0, "resample to this rate before recognition")
	return cmd
}

func printLine(text string) {
	if text != "" {
		fmt.Println(text)
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the native dependencies and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(tui.StyleHeader.Render("Dependencies"))
			fmt.Println(tui.FormatDep("libvosk.so", deps.CheckLibvosk(), "install libvosk and build with -tags vosk"))
			fmt.Println(tui.FormatDep("pw-record", deps.CheckPwRecord(), "needed by the pipewire backend (pipewire-tools)"))
			fmt.Println(tui.FormatDep("pw-cli", deps.CheckPwCli(), "used to check the pipewire server"))
			fmt.Println()

			fmt.Println(tui.StyleHeader.Render("Build"))
			fmt.Printf("%s %s\n", tui.StyleLabel.Render("Engines: "), listOrNone(engine.Names()))
			fmt.Printf("%s %s\n", tui.StyleLabel.Render("Backends:"), listOrNone(recording.Backends()))
			fmt.Println()

			fmt.Println(tui.StyleHeader.Render("Config"))
			path, _ := config.GetConfigPath()
			cfg, err := config.Load()
			switch {
			case errors.Is(err, config.ErrConfigNotFound):
				fmt.Println(tui.StyleWarning.Render("no config yet, defaults apply: ") + path)
			case err != nil:
				fmt.Println(tui.StyleError.Render("unreadable: ") + err.Error())
			default:
				if verr := cfg.Validate(); verr != nil {
					fmt.Println(tui.StyleError.Render("invalid: ") + verr.Error())
				} else {
					fmt.Println(tui.StyleSuccess.Render("ok: ") + path)
				}
			}
			return nil
		},
	}
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return tui.StyleError.Render("none")
	}
	return strings.Join(names, ", ")
}
