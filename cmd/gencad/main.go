package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sameehj/gencad/pkg/config"
	"github.com/sameehj/gencad/pkg/extract"
	"github.com/sameehj/gencad/pkg/gateway"
	"github.com/sameehj/gencad/pkg/pipeline"
	"github.com/sameehj/gencad/pkg/safety"
	"github.com/sameehj/gencad/pkg/version"
)

var cfgFile string

// exitCode ends the process with a status after the command already
// reported the failure itself.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gencad",
		Short:         "Generate CAD models from natural-language descriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.gencad/config.yaml)")

	root.AddCommand(generateCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(shellCmd())
	root.AddCommand(versionCmd())
	return root
}

func generateCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate a model and open it in the CAD engine",
		Long:  "Generate a model from the prompt given as arguments, or read from stdin when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			text, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			c := pipeline.NewController(a.pipeline, nil)
			_, runErr := c.Run(ctx, text, printStatus(out))

			artifacts := a.pipeline.Artifacts()
			if runErr == nil && !noWait && artifacts.Pending() > 0 {
				fmt.Fprintf(out, "Waiting %s before removing the script (Ctrl-C to clean up now)...\n", artifacts.TTL())
				if err := artifacts.Wait(ctx); err != nil {
					a.logger.Debug("cleanup_wait_interrupted", "error", err)
				}
			}
			artifacts.Flush()
			if runErr != nil {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "remove the script right after launch instead of waiting for the cleanup delay")
	return cmd
}

func validateCmd() *cobra.Command {
	var asJSON, raw bool
	cmd := &cobra.Command{
		Use:   "validate FILE|-",
		Short: "Screen a script without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			validator, err := safety.LoadPolicy(cfg.PolicyPath)
			if err != nil {
				return err
			}
			source, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !raw {
				source = extract.StripFences(source)
			}

			verdict := validator.Validate(source)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(verdict); err != nil {
					return err
				}
			} else if verdict.Accepted {
				fmt.Fprintln(out, "accepted:", verdict.Message)
			} else {
				fmt.Fprintf(out, "rejected (%s): %s\n", verdict.Reason, verdict.Message)
			}
			if !verdict.Accepted {
				return exitCode(2)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	cmd.Flags().BoolVar(&raw, "raw", false, "validate the input as is, without stripping code fences")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Show system info, provider settings and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			l := newLauncher(cfg, newLogger(cfg, cmd.ErrOrStderr()))
			p := l.Profile
			fmt.Fprintf(out, "OS: %s\nDistro: %s %s\nArch: %s\n", p.OS, p.Distro, p.Version, p.Arch)
			fmt.Fprintf(out, "Config: %s\n", configPath())

			provider := cfg.ActiveProvider()
			fmt.Fprintf(out, "Provider: %s (model %s, key %s)\n", cfg.Provider, provider.Model, maskKey(provider.APIKey))

			validator, err := safety.LoadPolicy(cfg.PolicyPath)
			if err != nil {
				fmt.Fprintf(out, "Policy: %v\n", err)
			} else {
				fmt.Fprintf(out, "Policy: %d deny rules\n", len(validator.Rules()))
			}

			res, err := l.Probe(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Engine: %s unavailable\n", cfg.Engine.Command)
				printError(out, err)
				return exitCode(1)
			}
			note := ""
			if res.Truncated {
				note = " (output truncated)"
			}
			fmt.Fprintf(out, "Engine: %s (%s)%s\n", cfg.Engine.Command, res.Version, note)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = cfg.Gateway.Address
			}
			controller := pipeline.NewController(a.pipeline, nil)
			controller.SetLogger(a.logger)
			gw := gateway.NewServer(addr, controller, a.validator, gateway.AllowlistAuthorizer{Allowed: cfg.Gateway.AllowedAddrs})
			gw.SetAudit(a.audit)
			gw.SetAllowedOrigins(cfg.Gateway.AllowedOrigins)
			gw.EnableTracing(cfg.Tracing.Enabled)
			gw.SetLogger(a.logger)

			fmt.Fprintf(cmd.OutOrStdout(), "gencad listening on %s\n", gw.Addr())
			err = gw.Start(ctx)
			// drain runs that outlived Shutdown before a.close flushes artifacts
			controller.Close()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// readPrompt joins args, or reads all of in when no args are given.
func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("no prompt given: pass it as arguments or pipe it on stdin")
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

func readSource(name string, in io.Reader) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func printStatus(w io.Writer) pipeline.Notifier {
	return func(s pipeline.Status) {
		fmt.Fprintln(w, s.String())
	}
}

func printError(w io.Writer, err error) {
	scanner := bufio.NewScanner(strings.NewReader(errorText(err)))
	for scanner.Scan() {
		fmt.Fprintln(w, "  "+scanner.Text())
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// maskKey shows whether a key is set without revealing it.
func maskKey(key string) string {
	switch {
	case key == "":
		return "missing"
	case len(key) <= 8:
		return "set"
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}
