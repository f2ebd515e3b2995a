package cli

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/voxrelay/internal/config"
	"github.com/harun/voxrelay/internal/daemon"
	"github.com/harun/voxrelay/pkg/recordings"
)

const healthTimeout = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the voxrelay daemon is running, where it listens and how many recordings it has kept.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	fmt.Fprintln(out, sectionStyle.Render("voxrelay"))

	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessAlive(pid) {
		fmt.Fprintln(out, field("Status", errorStyle.Render("stopped")))
	} else {
		fmt.Fprintln(out, field("Status", successStyle.Render("running")))
		fmt.Fprintln(out, field("PID", strconv.Itoa(pid)))
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintln(out, field("Uptime", formatDuration(time.Since(info.ModTime()))))
		}
		fmt.Fprintln(out, field("Address", "http://"+cfg.Server.Addr()))
		if err := probeHealth(cfg); err != nil {
			fmt.Fprintln(out, field("Health", warningStyle.Render(err.Error())))
		} else {
			fmt.Fprintln(out, field("Health", successStyle.Render("ok")))
		}
	}

	entries, err := recordings.List(cfg.Recordings.Dir)
	if err != nil {
		fmt.Fprintln(out, field("Recordings", warningStyle.Render(err.Error())))
		return nil
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	fmt.Fprintln(out, field("Recordings", fmt.Sprintf("%d (%s) in %s", len(entries), formatBytes(total), cfg.Recordings.Dir)))

	return nil
}

// probeHealth calls /healthz on the configured address.
func probeHealth(cfg *config.Config) error {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))

	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return fmt.Errorf("unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy (%d)", resp.StatusCode)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
