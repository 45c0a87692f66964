package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"clipforge/internal/api"
	"clipforge/internal/transcription"
)

type submitFlags struct {
	user      string
	requestID string
	wait      bool
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "Owner of the task (required)")
	cmd.Flags().StringVarP(&f.requestID, "request-id", "r", "", "Request id; generated by the daemon when empty")
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "Wait for the task to finish and print its artifacts")
	_ = cmd.MarkFlagRequired("user")
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Download a video and make it deliverable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.SubmitVideo(cmd.Context(), api.SubmitVideoRequest{
				URL:       strings.TrimSpace(args[0]),
				UserID:    flags.user,
				RequestID: flags.requestID,
				Wait:      flags.wait,
			})
			if err != nil {
				return ctx.wrapDialError(err)
			}
			return printSubmission(cmd, ctx, resp)
		},
	}
	flags.register(cmd)
	return cmd
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	var opts transcription.Options
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Upload a media file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.SubmitTranscription(cmd.Context(), api.TranscriptionUpload{
				Path:      args[0],
				UserID:    flags.user,
				RequestID: flags.requestID,
				Options:   opts,
				Wait:      flags.wait,
			})
			if err != nil {
				return ctx.wrapDialError(err)
			}
			return printSubmission(cmd, ctx, resp)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&opts.Language, "language", "", "Spoken language; detected when empty")
	cmd.Flags().StringVar(&opts.Model, "model", "", "Whisper model name")
	cmd.Flags().StringVar(&opts.Precision, "precision", "", "Compute precision (e.g. float16, int8)")
	cmd.Flags().IntVar(&opts.BeamSize, "beam-size", 0, "Beam size for decoding")
	cmd.Flags().IntVar(&opts.ChunkLength, "chunk-length", 0, "Chunk length in seconds")
	return cmd
}

func printSubmission(cmd *cobra.Command, ctx *commandContext, resp *api.SubmitResponse) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, resp)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s: %s\n", resp.TaskID, resp.Status)
	writeArtifacts(out, resp.Artifacts)
	if resp.Error != "" {
		return fmt.Errorf("task %s failed: %s", resp.TaskID, resp.Error)
	}
	return nil
}

func writeArtifacts(out io.Writer, artifacts []string) {
	for _, artifact := range artifacts {
		fmt.Fprintf(out, "  %s\n", artifact)
	}
}
