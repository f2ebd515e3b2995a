package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/voxrelay/pkg/recordings"
)

var pruneOlderThan time.Duration

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "Manage dialogue recordings",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	RunE:  runRecordingsList,
}

var recordingsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete recordings older than the retention period",
	RunE:  runRecordingsPrune,
}

func init() {
	recordingsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "retention override (default: recordings.retention)")
	recordingsCmd.AddCommand(recordingsListCmd, recordingsPruneCmd)
	rootCmd.AddCommand(recordingsCmd)
}

func runRecordingsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	entries, err := recordings.List(cfg.Recordings.Dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, warningStyle.Render("No recordings in "+cfg.Recordings.Dir))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %10s  %s\n", e.ModTime.Format("2006-01-02 15:04:05"), formatBytes(e.Size), e.Name)
	}
	return nil
}

func runRecordingsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	retention := cfg.Recordings.Retention
	if pruneOlderThan > 0 {
		retention = pruneOlderThan
	}
	if retention <= 0 {
		return fmt.Errorf("no retention configured; pass --older-than")
	}

	janitor, err := recordings.NewJanitor(recordings.JanitorConfig{
		Dir:       cfg.Recordings.Dir,
		Retention: retention,
		Schedule:  cfg.Recordings.CleanupSchedule,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		return err
	}

	removed, err := janitor.Prune()
	for _, name := range removed {
		fmt.Fprintln(cmd.OutOrStdout(), "removed", name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("%d recording(s) pruned", len(removed))))
	return nil
}
