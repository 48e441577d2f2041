package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tweakctl/tweakctl/pkg/tweak/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [knob-id...]",
	Short: "Watch knob target files and report status changes",
	Long: `Re-evaluate a knob's status whenever its target file changes, including
changes made outside this tool. Only file-backed knobs are watchable;
sysfs and systemd state have no change notification and are skipped.

Without arguments every registry knob is watched. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	knobs := a.reg.Knobs
	if len(args) > 0 {
		knobs, err = a.knobsFromArgs(args, false)
		if err != nil {
			return err
		}
	}

	w, err := watcher.New(knobs)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Close()

	id, ch := w.Subscribe()
	defer w.Unsubscribe(id)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "watching; interrupt to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case knobID, ok := <-ch:
			if !ok {
				return nil
			}
			k, err := a.reg.Get(knobID)
			if err != nil {
				continue
			}
			s := a.eng.Status(ctx, k)
			fmt.Printf("%s\t%s\t%s\n", s.KnobID, s.Classification, s.Detail)
		}
	}
}
