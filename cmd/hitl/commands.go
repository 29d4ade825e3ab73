package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/recovery"
)

func newPendingCmd(opts *options) *cobra.Command {
	var filter checkpoint.Filter
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List checkpoints awaiting a decision, newest first",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			pending, err := opts.service.Engine().GetPending(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, pending)
			}
			if len(pending) == 0 {
				fmt.Fprintln(out, gray("No pending checkpoints"))
				return nil
			}
			now := opts.service.Engine().Now()
			for _, cp := range pending {
				printCheckpointLine(out, cp, now)
			}
			fmt.Fprintf(out, "\nTotal: %s pending\n", yellow(fmt.Sprintf("%d", len(pending))))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&filter.ModuleID, "module", "m", "", "module id")
	cmd.Flags().StringVarP(&filter.AgentID, "agent", "a", "", "agent id")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <checkpoint-id>",
		Short: "Show a checkpoint and its escalation chain",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			chain, err := opts.service.Engine().Chain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var cp *model.Checkpoint
			for _, item := range chain {
				if item.ID == args[0] {
					cp = item
				}
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, cp)
			}
			printCheckpoint(out, cp)
			if len(chain) > 1 {
				fmt.Fprintf(out, "\n%s\n", yellow("Escalation chain:"))
				for i, item := range chain {
					marker := " "
					if item.ID == cp.ID {
						marker = "*"
					}
					fmt.Fprintf(out, "  %s %d. %s %s\n", marker, i+1, item.ID, statusColor(item.Status)(string(item.Status)))
				}
			}
			return nil
		}),
	}
}

func newResolveCmd(opts *options) *cobra.Command {
	var (
		status   string
		reason   string
		actor    string
		payload  string
		decision = &checkpoint.Decision{}
	)
	cmd := &cobra.Command{
		Use:   "resolve <checkpoint-id>",
		Short: "Approve, reject or modify a pending checkpoint",
		Long: `Resolve a pending checkpoint. A checkpoint is resolved exactly once;
resolving a checkpoint that already left PENDING fails.

Examples:
  hitl resolve cp-1 --status approved --actor alice
  hitl resolve cp-1 --status modified --payload '{"amount":10}' --actor alice`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			decision.Status = model.Status(strings.ToUpper(status))
			decision.Resolution = reason
			decision.Actor = actor
			if payload != "" {
				decision.ModifiedPayload = json.RawMessage(payload)
			}
			cp, err := opts.service.Engine().Resolve(cmd.Context(), args[0], decision)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, cp)
			}
			fmt.Fprintf(out, "%s Checkpoint %s %s by %s\n", green("✓"), cp.ID, statusColor(cp.Status)(string(cp.Status)), cp.ResolvedBy)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&status, "status", "s", string(model.StatusApproved), "approved, rejected, modified or escalated")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "resolution text")
	cmd.Flags().StringVar(&actor, "actor", "", "who decides (required)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "modified payload (JSON)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newEscalateCmd(opts *options) *cobra.Command {
	var level, reason, actor string
	var spawn bool
	cmd := &cobra.Command{
		Use:   "escalate <checkpoint-id>",
		Short: "Escalate a pending checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			engine := opts.service.Engine()
			escalation, err := engine.Escalate(cmd.Context(), args[0], model.Level(strings.ToUpper(level)), reason, actor)
			if err != nil {
				return err
			}
			var child *model.Checkpoint
			if spawn {
				if child, err = engine.Spawn(cmd.Context(), args[0], nil); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, map[string]interface{}{"escalation": escalation, "spawned": child})
			}
			fmt.Fprintf(out, "%s Checkpoint %s escalated (%s)\n", yellow("⚠"), escalation.CheckpointID, escalation.Level)
			if child != nil {
				fmt.Fprintf(out, "  Follow-up checkpoint: %s\n", child.ID)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&level, "level", "l", string(model.LevelMedium), "low, medium, high or critical")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "escalation reason (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "who escalates (required)")
	cmd.Flags().BoolVar(&spawn, "spawn", false, "create the follow-up checkpoint")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newTrailCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "trail <checkpoint-id>",
		Short: "Print the audit trail of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			trail, err := opts.service.Engine().Trail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, trail)
			}
			printTrail(out, trail)
			return nil
		}),
	}
}

func newFailuresCmd(opts *options) *cobra.Command {
	var filter recovery.Filter
	var all bool
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List supervised operation failures",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			if !all {
				filter.Status = []model.FailureStatus{model.FailureActive, model.FailureAcknowledged}
			}
			records, err := opts.service.Supervisor().List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, gray("No failures"))
				return nil
			}
			for _, record := range records {
				printFailure(out, record)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&filter.ModuleID, "module", "m", "", "module id")
	cmd.Flags().BoolVar(&all, "all", false, "include resolved failures")
	return cmd
}
