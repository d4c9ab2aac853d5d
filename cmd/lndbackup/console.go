package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/services/runner"
)

// console narrates a run for an interactive terminal. Download progress rewrites one line.
type console struct {
	out     io.Writer
	lineLen int // length of the open progress line, 0 if none
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) hooks() runner.Hooks {
	return runner.Hooks{
		VMStarted:  c.vmStarted,
		Lifecycle:  c.lifecycle,
		Progress:   c.progress,
		VMFinished: c.vmFinished,
	}
}

func (c *console) vmStarted(job models.BackupJob) {
	c.printf("VM %d (%s) in %s -> %q\n", job.VMID, job.Hostname, job.SourceRegion, job.ImageName)
}

func (c *console) lifecycle(vmID int, ev models.LifecycleEvent) {
	switch ev.State {
	case models.StateRequested:
		c.printf("  %s queued as image %d\n", ev.Operation, ev.ImageID)
	case models.StatePolling:
		c.printf("  image %d is %s, checking again in %s\n", ev.ImageID, ev.Status, ev.Wait)
	case models.StateKilled:
		c.printf("  image %d was killed, retry #%d/%d in %s\n", ev.ImageID, ev.Attempt, ev.MaxRetries, ev.Wait)
	case models.StateActive:
		c.printf("  image %d is active\n", ev.ImageID)
	case models.StateExhausted:
		c.printf("  %s gave up after %d attempt(s)\n", ev.Operation, ev.Attempt+1)
	}
}

func (c *console) progress(vmID int, received, total int64) {
	var line string
	if total > 0 {
		line = fmt.Sprintf("  downloaded %s of %s (%.2f%%)",
			formatBytes(received), formatBytes(total), float64(received)*100/float64(total))
	} else {
		line = fmt.Sprintf("  downloaded %s", formatBytes(received))
	}

	pad := ""
	if n := c.lineLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(c.out, "\r"+line+pad)
	c.lineLen = len(line)
}

func (c *console) vmFinished(result models.VMResult) {
	if result.Success() {
		c.printf("  backed up to %s, %d old backup(s) removed\n", result.LocalPath, result.Removed)
		return
	}
	c.printf("  failed during %s: %v\n", result.FailedStep, result.Error)
}

// printf ends an open progress line before writing.
func (c *console) printf(format string, args ...any) {
	if c.lineLen > 0 {
		fmt.Fprintln(c.out)
		c.lineLen = 0
	}
	fmt.Fprintf(c.out, format, args...)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
