package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/leonardotrapani/voskbind/internal/bus"
	"github.com/leonardotrapani/voskbind/internal/config"
	"github.com/leonardotrapani/voskbind/internal/daemon"
	"github.com/leonardotrapani/voskbind/internal/engine"
	"github.com/leonardotrapani/voskbind/internal/recording"
	"github.com/leonardotrapani/voskbind/internal/session"
	"github.com/leonardotrapani/voskbind/internal/tui"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "voskbind",
	Short:         "Offline speech recognition daemon built on Vosk",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(
		serveCmd(),
		loadCmd(),
		startCmd(),
		controlCmd("stop", "Stop listening and flush the pending hypothesis", "stop"),
		controlCmd("unload", "Release the loaded model", "unload"),
		grammarCmd(),
		controlCmd("mute", "Silence the microphone without ending the phase", "mute"),
		controlCmd("unmute", "Resume microphone input", "unmute"),
		statusCmd(),
		watchCmd(),
		versionCmd(),
		controlCmd("quit", "Shut the daemon down", "quit"),
		onceCmd(),
		transcribeCmd(),
		doctorCmd(),
		configureCmd(),
		modelCmd(),
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := mgr.GetConfig()

			sess, err := newSession(cfg, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			inj, err := cfg.ToInjector()
			if err != nil {
				return fmt.Errorf("invalid output config: %w", err)
			}

			d := daemon.New(mgr, sess, cfg.ToNotifier())
			d.SetInjector(inj)
			return d.Run()
		},
	}
}

// newSession wires the configured engine and capture backend. src overrides
// the configured backend when non-nil.
func newSession(cfg *config.Config, src recording.Source) (*session.Session, error) {
	eng, err := engine.Open(cfg.Recognition.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	if src == nil {
		if src, err = recording.New(cfg.ToRecordingConfig()); err != nil {
			return nil, err
		}
	}
	return session.New(eng, src,
		session.WithUnpacker(cfg.ToUnpacker()),
		session.WithLogLevel(cfg.Recognition.LogLevel),
	), nil
}

// send delivers one command line and turns ERR replies into errors.
func send(line string) (string, error) {
	resp, err := bus.SendCommand(line)
	if err != nil {
		return "", err
	}
	if msg, ok := strings.CutPrefix(resp, "ERR "); ok {
		return "", errors.New(strings.TrimSpace(msg))
	}
	return resp, nil
}

func controlCmd(use, short, line string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(line)
			if err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [model-path]",
		Short: "Load a model (defaults to the configured one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := "load"
			if len(args) == 1 {
				line += " " + args[0]
			}
			resp, err := send(line)
			if err != nil {
				return fmt.Errorf("failed to load model: %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

type startFlags struct {
	grammar    []string
	noGrammar  bool
	timeout    time.Duration
	continuous bool
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.grammar, "grammar", "g", nil, "restrict recognition to this phrase (repeatable)")
	cmd.Flags().BoolVar(&f.noGrammar, "no-grammar", false, "ignore the configured grammar")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "give up after this long (0 keeps the configured timeout)")
	cmd.Flags().BoolVarP(&f.continuous, "continuous", "c", false, "keep listening across utterances")
}

// options builds the JSON argument for `start`, carrying only flags that
// were set so the daemon's configured defaults apply otherwise.
func (f *startFlags) options(cmd *cobra.Command) (string, error) {
	opts := map[string]any{}
	switch {
	case f.noGrammar:
		opts["grammar"] = nil
	case len(f.grammar) > 0:
		opts["grammar"] = f.grammar
	}
	if cmd.Flags().Changed("timeout") {
		opts["timeout"] = f.timeout.String()
	}
	if cmd.Flags().Changed("continuous") {
		opts["continuous"] = f.continuous
	}
	if len(opts) == 0 {
		return "", nil
	}
	b, err := json.Marshal(opts)
	return string(b), err
}

func startCmd() *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start listening",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			resp, err := send(strings.TrimSpace("start " + opts))
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func grammarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grammar [phrase...]",
		Short: "Replace the grammar of the active phase (no phrases clears it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := "null"
			if len(args) > 0 {
				b, err := json.Marshal(args)
				if err != nil {
					return err
				}
				arg = string(b)
			}
			resp, err := send("grammar " + arg)
			if err != nil {
				return fmt.Errorf("failed to set grammar: %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send("status")
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if raw {
				fmt.Print(resp)
				return nil
			}
			fmt.Println(tui.FormatStatus(resp))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the daemon reply unformatted")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Get protocol version",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send("version")
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var plain, jsonOut bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream recognition events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if !plain && !jsonOut {
				return tui.RunMonitor(ctx, bus.Watch)
			}
			return bus.Watch(ctx, func(payload string) {
				if jsonOut {
					fmt.Println(payload)
					return
				}
				fmt.Println(tui.FormatEvent(payload))
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per event instead of the live view")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON events")
	return cmd
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				if !errors.Is(err, config.ErrConfigNotFound) {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = config.DefaultConfig()
			}

			result, err := tui.Run(cfg)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if result.Cancelled {
				fmt.Println("Configuration cancelled.")
				return nil
			}

			if err := config.Save(result.Config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Println()
			fmt.Println(tui.StyleSuccess.Render("Configuration saved."))
			showNextSteps()
			return nil
		},
	}
}

func showNextSteps() {
	serviceRunning := exec.Command("systemctl", "--user", "is-active", "--quiet", "voskbind.service").Run() == nil

	fmt.Println("Next Steps:")
	if serviceRunning {
		fmt.Println("1. The running daemon reloads the config on its own")
	} else {
		fmt.Println("1. Start the daemon: voskbind serve (or systemctl --user start voskbind.service)")
	}
	fmt.Println("2. Try it: voskbind start && voskbind watch")
	fmt.Println()

	if path, err := config.GetConfigPath(); err == nil {
		fmt.Printf("Config file location: %s\n", path)
	}
}
