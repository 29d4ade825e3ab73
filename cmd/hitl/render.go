package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func statusColor(status model.Status) func(a ...interface{}) string {
	switch status {
	case model.StatusApproved, model.StatusModified:
		return green
	case model.StatusRejected, model.StatusExpired:
		return red
	case model.StatusEscalated, model.StatusPending:
		return yellow
	}
	return gray
}

func printCheckpointLine(w io.Writer, cp *model.Checkpoint, now time.Time) {
	left := cp.ExpiresAt.Sub(now).Round(time.Second)
	deadline := fmt.Sprintf("expires in %v", left)
	if left <= 0 {
		deadline = red("overdue")
	}
	fmt.Fprintf(w, "%s %s  %s  %s  %s\n", yellow("●"), cp.ID, cp.Type, cp.Title, gray(deadline))
	fmt.Fprintf(w, "    Module: %s", cp.ModuleID)
	if cp.AgentID != "" {
		fmt.Fprintf(w, "  Agent: %s", cp.AgentID)
	}
	fmt.Fprintln(w)
}

func printCheckpoint(w io.Writer, cp *model.Checkpoint) {
	fmt.Fprintf(w, "%s\n", cyan("=== Checkpoint "+cp.ID+" ==="))
	fmt.Fprintf(w, "  Status:      %s\n", statusColor(cp.Status)(string(cp.Status)))
	fmt.Fprintf(w, "  Type:        %s\n", cp.Type)
	fmt.Fprintf(w, "  Module:      %s\n", cp.ModuleID)
	if cp.AgentID != "" {
		fmt.Fprintf(w, "  Agent:       %s\n", cp.AgentID)
	}
	fmt.Fprintf(w, "  Title:       %s\n", cp.Title)
	fmt.Fprintf(w, "  Description: %s\n", cp.Description)
	fmt.Fprintf(w, "  Created:     %s\n", cp.CreatedAt.Format(timeLayout))
	fmt.Fprintf(w, "  Expires:     %s\n", cp.ExpiresAt.Format(timeLayout))
	fmt.Fprintf(w, "  Payload:     %s\n", string(cp.OriginalPayload))
	if cp.ResolvedAt != nil {
		fmt.Fprintf(w, "  Resolved:    %s by %s\n", cp.ResolvedAt.Format(timeLayout), cp.ResolvedBy)
	}
	if cp.Resolution != "" {
		fmt.Fprintf(w, "  Resolution:  %s\n", cp.Resolution)
	}
	if len(cp.ModifiedPayload) > 0 {
		fmt.Fprintf(w, "  Modified:    %s\n", string(cp.ModifiedPayload))
	}
}

func printTrail(w io.Writer, trail *audit.Trail) {
	fmt.Fprintf(w, "%s\n", cyan("=== Audit trail "+trail.CheckpointID+" ==="))
	fmt.Fprintf(w, "\n%s\n", yellow("Decisions:"))
	if len(trail.Traces) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("none"))
	}
	for _, trace := range trail.Traces {
		fmt.Fprintf(w, "  %s %s %s by %s (%s)\n", trace.CreatedAt.Format(timeLayout), statusColor(trace.Status)(string(trace.Status)), gray(trace.ID), trace.DecisionMaker, trace.DecisionType)
		if trace.Reasoning != "" {
			fmt.Fprintf(w, "      %s\n", trace.Reasoning)
		}
		if alt := trace.Alternatives; alt != nil && alt.Diff != "" {
			fmt.Fprintf(w, "      %s\n", gray(fmt.Sprintf("+%d -%d", alt.Added, alt.Removed)))
			for _, line := range strings.Split(strings.TrimRight(alt.Diff, "\n"), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					line = green(line)
				case strings.HasPrefix(line, "-"):
					line = red(line)
				}
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
	if len(trail.Escalations) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Escalations:"))
		for _, escalation := range trail.Escalations {
			fmt.Fprintf(w, "  %s %s %s by %s\n", escalation.CreatedAt.Format(timeLayout), escalation.Level, escalation.Reason, escalation.RaisedBy)
		}
	}
	if len(trail.Snapshots) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Snapshots:"))
		for _, snapshot := range trail.Snapshots {
			fmt.Fprintf(w, "  %s %s importance=%d %s\n", snapshot.CreatedAt.Format(timeLayout), snapshot.Type, snapshot.Importance, string(snapshot.Content))
		}
	}
}

func printFailure(w io.Writer, record *model.FailureRecord) {
	icon := red("✗")
	if !record.Status.IsOpen() {
		icon = green("✓")
	}
	fmt.Fprintf(w, "%s %s  %s  %s  %s\n", icon, record.ID, record.Type, record.OperationName, record.Status)
	fmt.Fprintf(w, "    Module: %s  Attempts: %d  Created: %s\n", record.ModuleID, record.RecoveryAttempts, record.CreatedAt.Format(timeLayout))
	if record.Error != "" {
		fmt.Fprintf(w, "    Error: %s\n", record.Error)
	}
	if record.CheckpointID != "" {
		fmt.Fprintf(w, "    Checkpoint: %s\n", record.CheckpointID)
	}
}
