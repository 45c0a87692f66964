package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"clipforge/internal/api"
	"clipforge/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, GPU lock and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return ctx.wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			renderDaemonStatus(out, status, shouldColorize(out))
			return nil
		},
	}
}

func renderDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	wf := status.Workflow

	printSectionHeader(out, "Daemon", colorize)
	runKind := statusError
	if status.Running {
		runKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Running", runKind, fmt.Sprintf("%s (pid %d)", yesNo(status.Running), status.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("Task store", statusInfo, status.QueueDBPath, colorize))
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, wf.LastError, colorize))
	}
	fmt.Fprintln(out)

	printSectionHeader(out, "GPU Lock", colorize)
	fmt.Fprintln(out, renderStatusLine("Backend", statusInfo, wf.Lock.Backend, colorize))
	if wf.Lock.Held {
		holder := fmt.Sprintf("%s since %s", wf.Lock.Holder, wf.Lock.AcquiredAt)
		if wf.Lock.HolderHost != "" {
			holder += fmt.Sprintf(" on %s (pid %d)", wf.Lock.HolderHost, wf.Lock.HolderPID)
		}
		fmt.Fprintln(out, renderStatusLine("Holder", statusWarn, holder, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Holder", statusOK, "free", colorize))
	}
	fmt.Fprintln(out)

	printSectionHeader(out, "Queues", colorize)
	queueRows := make([][]string, 0, len(wf.Queues))
	for _, q := range wf.Queues {
		queueRows = append(queueRows, []string{
			q.Name,
			strconv.Itoa(q.Workers),
			fmt.Sprintf("%d/%d", q.Pending, q.Capacity),
			strconv.Itoa(q.Running),
			strconv.Itoa(q.Completed),
			strconv.Itoa(q.Failed),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Queue", "Workers", "Pending", "Running", "Completed", "Failed"},
		queueRows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(out)

	printSectionHeader(out, "Tasks", colorize)
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildTaskCountRows(wf.TaskCounts), []columnAlignment{alignLeft, alignRight}))
}

// buildTaskCountRows lists counts in lifecycle order, then any unknown
// statuses alphabetically.
func buildTaskCountRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, status := range queue.AllStatuses() {
		key := string(status)
		seen[key] = true
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	var extra []string
	for key := range counts {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	for _, key := range extra {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	return rows
}
