package hitl

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/policy"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/session"
	"github.com/viant/hitl/tracing"
)

// Proposal outcomes recorded by metrics.
const (
	OutcomeAutoApproved = "auto_approved"
	OutcomePending      = "pending"
	OutcomeBlocked      = "blocked"
)

// AutoApprovedResolution is the resolution text of auto-approved proposals.
const AutoApprovedResolution = "Auto-approved by risk policy"

// Proposal is an action an agent wants to take.
type Proposal struct {
	ModuleID    string
	AgentID     string
	ActionType  string
	Confidence  float64
	Impact      model.Level
	RiskContext policy.RiskContext
	// Type of the checkpoint raised when a human must decide; defaults to
	// CONFIRMATION_REQUIRED.
	Type        model.CheckpointType
	Title       string
	Description string
	Payload     json.RawMessage
	Metadata    map[string]interface{}
	// Evidence is attached to the checkpoint as a CONTEXT snapshot.
	Evidence json.RawMessage
	// Timeout bounds the session; zero uses the module default.
	Timeout time.Duration
}

func (p *Proposal) action() *policy.Action {
	return &policy.Action{
		ModuleID:   p.ModuleID,
		Type:       p.ActionType,
		Confidence: p.Confidence,
		Impact:     p.Impact,
		Context:    p.RiskContext,
	}
}

func (p *Proposal) spec(assessment *policy.Assessment) *checkpoint.Spec {
	ret := &checkpoint.Spec{
		ModuleID:    p.ModuleID,
		AgentID:     p.AgentID,
		Type:        p.Type,
		Title:       p.Title,
		Description: p.Description,
		Payload:     p.Payload,
		Context:     p.Evidence,
		Metadata:    make(map[string]interface{}, len(p.Metadata)+3),
	}
	if ret.Type == "" {
		ret.Type = model.CheckpointTypeConfirmation
	}
	if ret.Title == "" {
		ret.Title = p.ActionType
	}
	if ret.Description == "" {
		ret.Description = "Agent proposed " + p.ActionType
	}
	for k, v := range p.Metadata {
		ret.Metadata[k] = v
	}
	ret.Metadata["actionType"] = policy.Normalize(p.ActionType)
	ret.Metadata["riskLevel"] = string(assessment.RiskLevel)
	if len(assessment.Reasons) > 0 {
		ret.Metadata["riskReasons"] = strings.Join(assessment.Reasons, "; ")
	}
	return ret
}

// Outcome is the routing result of a proposal.
type Outcome struct {
	Assessment *policy.Assessment
	// Checkpoint is nil for blocked proposals.
	Checkpoint *model.Checkpoint
	// Session is set when a human decision is pending.
	Session *session.Session
	// Result is nil while the decision is pending.
	Result *session.Result
}

// IsPending reports whether the proposal awaits a human.
func (o *Outcome) IsPending() bool { return o != nil && o.Result == nil }

// Propose routes an action through the risk evaluator. Low risk actions
// are recorded as an APPROVED checkpoint with a system decision trace;
// blocked actions are rejected without a checkpoint; everything else opens
// a session awaiting a human.
func (s *Service) Propose(ctx context.Context, proposal *Proposal) (out *Outcome, err error) {
	if proposal == nil {
		return nil, &model.ValidationError{Reason: "proposal is nil"}
	}
	action := proposal.action()
	if err = action.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "hitl.propose", tracing.KindInternal)
	defer func() { tracing.EndSpan(span, err) }()

	assessment := s.evaluator.Evaluate(ctx, action)
	span.WithAttributes(map[string]string{"module.id": proposal.ModuleID, "action.type": action.Type, "risk.level": string(assessment.RiskLevel)})
	out = &Outcome{Assessment: assessment}
	switch {
	case assessment.Blocked:
		out.Result = &session.Result{Status: model.StatusRejected, Message: strings.Join(assessment.Reasons, "; ")}
		s.metrics.Proposal(proposal.ModuleID, OutcomeBlocked)
		s.logger.Warn("proposal blocked", "module", proposal.ModuleID, "action", action.Type, "reasons", assessment.Reasons)
		return out, nil
	case assessment.AutoApprove:
		spec := proposal.spec(assessment)
		cp, err := s.engine.Create(ctx, spec)
		if err != nil {
			return nil, err
		}
		if cp, err = s.engine.Resolve(ctx, cp.ID, &checkpoint.Decision{
			Status:     model.StatusApproved,
			Resolution: AutoApprovedResolution,
			Actor:      model.DecisionMakerSystem,
			Factors: map[string]interface{}{
				"riskLevel":  string(assessment.RiskLevel),
				"confidence": proposal.Confidence,
				"impact":     string(proposal.Impact),
			},
		}); err != nil {
			return nil, err
		}
		if len(proposal.Evidence) > 0 {
			if _, err = s.engine.Snapshot(ctx, cp.ID, model.SnapshotContext, proposal.Evidence, 0); err != nil {
				return nil, err
			}
		}
		out.Checkpoint = cp
		out.Result = &session.Result{Status: model.StatusApproved, Message: AutoApprovedResolution}
		s.metrics.Proposal(proposal.ModuleID, OutcomeAutoApproved)
		return out, nil
	}

	timeout := proposal.Timeout
	if timeout <= 0 {
		timeout = session.UseDefaultTimeout
	}
	sess, err := s.sessions.Create(ctx, proposal.spec(assessment), timeout)
	if err != nil {
		return nil, err
	}
	out.Checkpoint = sess.Checkpoint
	out.Session = sess
	s.metrics.Proposal(proposal.ModuleID, OutcomePending)
	return out, nil
}

// ProposeAndWait proposes an action and, when a human must decide, waits
// up to timeout for the decision. A timed out wait returns the pending
// outcome together with a model.WaitTimeoutError.
func (s *Service) ProposeAndWait(ctx context.Context, proposal *Proposal, timeout time.Duration) (*Outcome, error) {
	out, err := s.Propose(ctx, proposal)
	if err != nil || !out.IsPending() {
		return out, err
	}
	sess, err := s.sessions.Wait(ctx, out.Session.ID, timeout)
	if err != nil {
		return out, err
	}
	out.Session = sess
	out.Checkpoint = sess.Checkpoint
	out.Result = sess.Result
	return out, nil
}
