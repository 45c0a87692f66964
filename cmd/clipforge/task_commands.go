package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"clipforge/internal/api"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var filter api.TaskFilter
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			tasks, err := client.Tasks(cmd.Context(), filter)
			if err != nil {
				return ctx.wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, tasks)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Task", "Kind", "Status", "Updated", "Artifacts", "Error"},
				buildTaskRows(tasks),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter.Owner, "user", "u", "", "Only tasks owned by this user")
	cmd.Flags().StringVarP(&filter.Status, "status", "s", "", "Only tasks in this status (PENDING, RUNNING, COMPLETED, FAILED)")
	cmd.Flags().StringVarP(&filter.Kind, "kind", "k", "", "Only tasks of this kind (video, transcription)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "Maximum number of tasks (daemon default when 0)")
	return cmd
}

func buildTaskRows(tasks []api.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			task.ID,
			task.Kind,
			task.Status,
			task.UpdatedAt,
			strconv.Itoa(len(task.Artifacts)),
			truncate(task.ErrorMessage, 60),
		})
	}
	return rows
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Task(cmd.Context(), args[0], history)
			if err != nil {
				return notFoundHint(ctx.wrapDialError(err), args[0])
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			task := resp.Task
			printSectionHeader(out, "Task "+task.ID, colorize)
			fmt.Fprintln(out, renderStatusLine("Status", statusKindForTask(task.Status), task.Status, colorize))
			fmt.Fprintln(out, renderStatusLine("Kind", statusInfo, task.Kind, colorize))
			fmt.Fprintln(out, renderStatusLine("Owner", statusInfo, task.Owner, colorize))
			fmt.Fprintln(out, renderStatusLine("Created", statusInfo, task.CreatedAt, colorize))
			fmt.Fprintln(out, renderStatusLine("Updated", statusInfo, task.UpdatedAt, colorize))
			if task.LogRef != "" {
				fmt.Fprintln(out, renderStatusLine("Log", statusInfo, task.LogRef, colorize))
			}
			if task.ErrorMessage != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, task.ErrorMessage, colorize))
			}
			if len(task.Artifacts) > 0 {
				fmt.Fprintln(out, "Artifacts:")
				writeArtifacts(out, task.Artifacts)
			}
			if history && len(resp.History) > 0 {
				rows := make([][]string, 0, len(resp.History))
				for _, event := range resp.History {
					rows = append(rows, []string{strconv.FormatInt(event.Seq, 10), event.Status, event.CreatedAt, truncate(event.ErrorMessage, 60)})
				}
				fmt.Fprint(out, renderTable([]string{"Seq", "Status", "At", "Error"}, rows, []columnAlignment{alignRight}))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Include every recorded status change")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return notFoundHint(ctx.wrapDialError(err), args[0])
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			if resp.Cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", resp.TaskID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is not queued or running\n", resp.TaskID)
			}
			return nil
		},
	}
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print a task's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			content, err := client.TaskLog(cmd.Context(), args[0])
			if err != nil {
				return notFoundHint(ctx.wrapDialError(err), args[0])
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}

func notFoundHint(err error, taskID string) error {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %s (task ids look like owner:request-id)", taskID, statusErr.Message)
	}
	return err
}
