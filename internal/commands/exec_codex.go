package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/config"
	"github.com/antigravity-dev/tina/internal/session"
	"github.com/antigravity-dev/tina/internal/store"
)

func newExecCodexCmd() *cobra.Command {
	var (
		feature    string
		phase      string
		taskID     string
		prompt     string
		cwd        string
		model      string
		sandbox    string
		timeoutSec uint64
		role       string
	)

	cmd := &cobra.Command{
		Use:   "exec-codex",
		Short: "Run an external codex subprocess for one task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}

			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}

			resolvedPrompt, err := session.ResolvePrompt(prompt)
			if err != nil {
				return err
			}

			timeout := cfg.Codex.Timeout.Duration
			if timeoutSec > 0 {
				timeout = time.Duration(timeoutSec) * time.Second
			}

			recordEvent := func(eventType, summary string, detail map[string]any) {
				err := withStoreWriter(func(ctx context.Context, client *store.Client, nodeID string) error {
					entry, err := client.GetByFeature(ctx, feature)
					if err != nil || entry == nil {
						return fmt.Errorf("orchestration not found for feature %q", feature)
					}
					detailJSON, _ := json.Marshal(detail)
					_, err = client.RecordEvent(ctx, &store.OrchestrationEventRecord{
						OrchestrationID: entry.ID,
						PhaseNumber:     store.StrPtr(phase),
						EventType:       eventType,
						Source:          "tina-session exec-codex",
						Summary:         summary,
						Detail:          store.StrPtr(string(detailJSON)),
						RecordedAt:      time.Now().UTC().Format(time.RFC3339),
					})
					return err
				})
				if err != nil {
					warn("failed to record %s event: %v", eventType, err)
				}
			}

			recordEvent("codex_run_started",
				fmt.Sprintf("codex run started for task %s", taskID),
				map[string]any{"task_id": taskID, "model": model, "role": role, "prompt_len": len(resolvedPrompt)})

			result, err := session.RunCodex(cmd.Context(), session.CodexRequest{
				Model:   model,
				Sandbox: sandbox,
				Prompt:  resolvedPrompt,
				Cwd:     cwd,
				Timeout: timeout,
			})
			if err != nil {
				recordEvent("codex_run_failed",
					fmt.Sprintf("codex spawn failed for task %s", taskID),
					map[string]any{"task_id": taskID, "error": err.Error()})
				return err
			}

			eventType := "codex_run_completed"
			if result.Status != "completed" {
				eventType = "codex_run_failed"
			}
			recordEvent(eventType,
				fmt.Sprintf("codex run %s for task %s", result.Status, taskID),
				map[string]any{
					"task_id":       taskID,
					"run_id":        result.RunID,
					"exit_code":     result.ExitCode,
					"duration_secs": result.DurationSecs,
					"role":          role,
				})

			if err := printJSON(map[string]any{
				"run_id":        result.RunID,
				"status":        result.Status,
				"exit_code":     result.ExitCode,
				"duration_secs": result.DurationSecs,
				"stdout":        result.Stdout,
				"stderr":        result.Stderr,
			}); err != nil {
				return err
			}
			if result.ExitCode != 0 {
				os.Exit(result.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task the run belongs to")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text, or @file to read from a file")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the subprocess")
	cmd.Flags().StringVar(&model, "model", "gpt-5.3-codex", "model to run")
	cmd.Flags().StringVar(&sandbox, "sandbox", "workspace-write", "sandbox mode")
	cmd.Flags().Uint64Var(&timeoutSec, "timeout", 0, "timeout in seconds (default from config)")
	cmd.Flags().StringVar(&role, "role", "worker", "agent role for event attribution")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("task-id")
	cmd.MarkFlagRequired("prompt")
	cmd.MarkFlagRequired("cwd")
	return cmd
}
