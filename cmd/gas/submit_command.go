package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gas/internal/config"
	"gas/internal/messages"
	"gas/internal/objectkey"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var jobID string

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload an input file and signal it to the submission stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve input path: %w", err)
			}
			if strings.TrimSpace(jobID) == "" {
				jobID = uuid.NewString()
			}

			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			key := objectkey.New(rt.cfg.ObjectStore.ResultsPrefix, userID, jobID, filepath.Base(path))
			bucket := rt.cfg.ObjectStore.InputsBucket
			if err := rt.objects.Upload(runCtx, bucket, key.String(), path); err != nil {
				return fmt.Errorf("upload input: %w", err)
			}
			body, err := messages.Encode(messages.UploadCompleted{Bucket: bucket, Key: key.String()})
			if err != nil {
				return err
			}
			messageID, err := rt.broker.Publish(runCtx, rt.cfg.Queues.Uploads, body)
			if err != nil {
				return fmt.Errorf("signal upload: %w", err)
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]string{
					"job_id":     jobID,
					"bucket":     bucket,
					"key":        key.String(),
					"message_id": messageID,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s/%s)\n", jobID, bucket, key.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the job")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id to use instead of a generated UUID")
	return cmd
}
