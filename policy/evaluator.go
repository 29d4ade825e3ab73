package policy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/viant/hitl/model"
)

// RiskContext carries the blast radius hints of an action.
type RiskContext struct {
	AffectsMultipleUsers bool `json:"affectsMultipleUsers,omitempty" yaml:"affectsMultipleUsers,omitempty"`
	IsSystemWide         bool `json:"isSystemWide,omitempty" yaml:"isSystemWide,omitempty"`
}

// Action is the input of an evaluation.
type Action struct {
	ModuleID   string
	Type       string
	Confidence float64
	Impact     model.Level
	Context    RiskContext
}

// Validate checks confidence and impact ranges.
func (a *Action) Validate() error {
	if a == nil {
		return &model.ValidationError{Reason: "action is nil"}
	}
	if strings.TrimSpace(a.Type) == "" {
		return &model.ValidationError{Field: "actionType", Reason: "required"}
	}
	if math.IsNaN(a.Confidence) || a.Confidence < 0 || a.Confidence > 1 {
		return &model.ValidationError{Field: "confidence", Reason: "must be within [0,1]"}
	}
	if a.Impact != "" && !a.Impact.IsValid() {
		return &model.ValidationError{Field: "impact", Reason: "unknown level " + string(a.Impact)}
	}
	return nil
}

// Assessment is the outcome of an evaluation.
type Assessment struct {
	AutoApprove          bool        `json:"autoApprove"`
	RequiresConfirmation bool        `json:"requiresConfirmation"`
	Blocked              bool        `json:"blocked,omitempty"`
	RiskLevel            model.Level `json:"riskLevel"`
	Reasons              []string    `json:"reasons,omitempty"`
}

// Evaluator maps actions to assessments using per-module policies.
type Evaluator struct {
	mu       sync.RWMutex
	fallback *Policy
	modules  map[string]*Policy
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithDefaultPolicy sets the policy of modules without their own.
func WithDefaultPolicy(p *Policy) EvaluatorOption {
	return func(e *Evaluator) { e.fallback = p }
}

// WithModulePolicy sets the policy of one module.
func WithModulePolicy(moduleID string, p *Policy) EvaluatorOption {
	return func(e *Evaluator) { e.modules[moduleID] = p }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	ret := &Evaluator{modules: map[string]*Policy{}}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// SetModulePolicy replaces the policy of a module at runtime.
func (e *Evaluator) SetModulePolicy(moduleID string, p *Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules[moduleID] = p
}

// Policy returns the policy applied to a module.
func (e *Evaluator) Policy(moduleID string) *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.modules[moduleID]; ok && p != nil {
		return p
	}
	return e.fallback
}

// Evaluate assesses an action against its module policy, honouring a policy
// override carried by ctx.
func (e *Evaluator) Evaluate(ctx context.Context, action *Action) *Assessment {
	p := FromContext(ctx)
	if p == nil {
		p = e.Policy(action.ModuleID)
	}
	return Evaluate(p, action)
}

// Evaluate is the risk rule set. It has no side effects:
//
//  1. an action type containing a sensitive verb is HIGH risk and needs
//     confirmation regardless of confidence;
//  2. otherwise a cross-user or system-wide action is MEDIUM risk and needs
//     confirmation;
//  3. otherwise the action is LOW risk and auto-approves, unless the module
//     thresholds say otherwise. HIGH and CRITICAL impact always need
//     confirmation.
func Evaluate(p *Policy, action *Action) *Assessment {
	normalized := Normalize(action.Type)
	if p.mode() == ModeDeny {
		return &Assessment{Blocked: true, RequiresConfirmation: true, RiskLevel: model.LevelCritical, Reasons: []string{"policy mode is deny"}}
	}
	if !p.IsAllowed(normalized) {
		return &Assessment{Blocked: true, RequiresConfirmation: true, RiskLevel: model.LevelCritical, Reasons: []string{fmt.Sprintf("action %q is not allowed", normalized)}}
	}

	ret := assess(p, normalized, action)
	if p.mode() == ModeAsk && !ret.RequiresConfirmation {
		ret.AutoApprove = false
		ret.RequiresConfirmation = true
		ret.Reasons = append(ret.Reasons, "policy mode is ask")
	}
	return ret
}

func assess(p *Policy, normalized string, action *Action) *Assessment {
	for _, verb := range p.sensitiveVerbs() {
		if verb = Normalize(verb); verb != "" && strings.Contains(normalized, verb) {
			return &Assessment{RequiresConfirmation: true, RiskLevel: model.LevelHigh, Reasons: []string{fmt.Sprintf("action %q contains sensitive verb %q", normalized, verb)}}
		}
	}
	if action.Context.AffectsMultipleUsers || action.Context.IsSystemWide {
		reason := "action affects multiple users"
		if action.Context.IsSystemWide {
			reason = "action is system wide"
		}
		return &Assessment{RequiresConfirmation: true, RiskLevel: model.LevelMedium, Reasons: []string{reason}}
	}

	ret := &Assessment{AutoApprove: true, RiskLevel: model.LevelLow}
	impact := action.Impact
	if impact == "" {
		impact = model.LevelLow
	}
	thresholds := p.thresholds()
	if impact.Rank() >= model.LevelHigh.Rank() {
		ret.Reasons = append(ret.Reasons, fmt.Sprintf("impact %s requires confirmation", impact))
	} else if impact.Rank() > thresholds.MaxAutoApproveImpact.Rank() {
		ret.Reasons = append(ret.Reasons, fmt.Sprintf("impact %s exceeds auto-approve limit %s", impact, thresholds.MaxAutoApproveImpact))
	}
	if action.Confidence < thresholds.MinConfidence {
		ret.Reasons = append(ret.Reasons, fmt.Sprintf("confidence %.2f below threshold %.2f", action.Confidence, thresholds.MinConfidence))
	}
	if len(ret.Reasons) > 0 {
		ret.AutoApprove = false
		ret.RequiresConfirmation = true
	}
	return ret
}
