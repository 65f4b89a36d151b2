package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/pipeline"
	"github.com/sameehj/gencad/pkg/prompt"
)

// shellUI is the interactive front end. The read loop is the foreground;
// runs report back through OnStatus from the worker goroutine.
type shellUI struct {
	out io.Writer
	log *pipeline.StatusLog

	mu      sync.Mutex
	prompt  string
	enabled bool
}

func newShellUI(out io.Writer) *shellUI {
	return &shellUI{out: out, log: pipeline.NewStatusLog(), enabled: true}
}

func (u *shellUI) setPrompt(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prompt = text
}

func (u *shellUI) UserPrompt() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prompt
}

func (u *shellUI) OnStatus(s pipeline.Status) {
	u.log.Append(s)
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, s.String())
}

func (u *shellUI) SetTriggerEnabled(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enabled = enabled
	if enabled {
		fmt.Fprint(u.out, "gencad> ")
	}
}

func (u *shellUI) triggerEnabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.enabled
}

func (u *shellUI) showPrompt() {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprint(u.out, "gencad> ")
}

// showHistory prints every status of the session.
func (u *shellUI) showHistory() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, line := range u.log.Lines() {
		fmt.Fprintln(u.out, line)
	}
	if u.enabled {
		fmt.Fprint(u.out, "gencad> ")
	}
}

func (u *shellUI) println(args ...any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, args...)
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt loop",
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

			ui := newShellUI(cmd.OutOrStdout())
			controller := pipeline.NewController(a.pipeline, ui)
			controller.SetLogger(a.logger)
			return runShell(ctx, controller, ui, cmd.InOrStdin())
		},
	}
}

// runShell submits each input line as a prompt. Lines typed while a run is
// in flight are refused; "history" replays the status log.
func runShell(ctx context.Context, controller *pipeline.Controller, ui *shellUI, in io.Reader) error {
	ui.println("GenCAD is ready. Describe a model and press Enter; \"history\" shows the status log, \"quit\" exits.")
	ui.println("Tip: Be specific with dimensions and materials for better results.")
	ui.println(prompt.Placeholder)
	ui.showPrompt()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			controller.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				controller.Wait()
				return nil
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				if ui.triggerEnabled() {
					ui.showPrompt()
				}
				continue
			case "quit", "exit":
				controller.Wait()
				return nil
			case "history":
				ui.showHistory()
				continue
			}
			ui.setPrompt(text)
			if !controller.Submit(ctx) {
				ui.println("A generation is already in progress. Please wait for it to finish.")
			}
		}
	}
}

// errorText renders err with its detail lines.
func errorText(err error) string {
	var e *errinfo.Error
	if errors.As(err, &e) {
		return strings.Join(e.Lines(), "\n")
	}
	return err.Error()
}
