package policy

import (
	"context"
	"strings"

	"github.com/viant/hitl/model"
)

// Modes recognised by the evaluator.
const (
	ModeAsk  = "ask"  // every action needs confirmation
	ModeAuto = "auto" // risk rules decide (default)
	ModeDeny = "deny" // block every action
)

// DefaultSensitiveVerbs mark action types that always need a human.
var DefaultSensitiveVerbs = []string{"delete", "remove", "reset", "publish", "deploy"}

// Thresholds bound auto-approval of otherwise low risk actions.
type Thresholds struct {
	// MinConfidence is the lowest confidence that may auto-approve.
	MinConfidence float64 `json:"minConfidence,omitempty" yaml:"minConfidence,omitempty"`
	// MaxAutoApproveImpact is the highest impact that may auto-approve.
	// Impact HIGH and CRITICAL never auto-approve regardless of this value.
	MaxAutoApproveImpact model.Level `json:"maxAutoApproveImpact,omitempty" yaml:"maxAutoApproveImpact,omitempty"`
}

// Policy is the runtime risk policy of a module.
//
//   - Mode controls the high-level behaviour (ask / auto / deny).
//   - AllowList, BlockList allow coarse filtering regardless of Mode.
//   - SensitiveVerbs overrides DefaultSensitiveVerbs when non-empty.
//
// A nil *Policy evaluates with defaults.
type Policy struct {
	Mode           string
	AllowList      []string
	BlockList      []string
	SensitiveVerbs []string
	Thresholds     Thresholds
}

// Config represents the declarative, serialisable form of a Policy.
type Config struct {
	Mode           string     `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList      []string   `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList      []string   `json:"block,omitempty" yaml:"block,omitempty"`
	SensitiveVerbs []string   `json:"sensitiveVerbs,omitempty" yaml:"sensitiveVerbs,omitempty"`
	Thresholds     Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:           p.Mode,
		AllowList:      append([]string(nil), p.AllowList...),
		BlockList:      append([]string(nil), p.BlockList...),
		SensitiveVerbs: append([]string(nil), p.SensitiveVerbs...),
		Thresholds:     p.Thresholds,
	}
}

// FromConfig converts a stored Config back to a runtime Policy.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:           c.Mode,
		AllowList:      append([]string(nil), c.AllowList...),
		BlockList:      append([]string(nil), c.BlockList...),
		SensitiveVerbs: append([]string(nil), c.SensitiveVerbs...),
		Thresholds:     c.Thresholds,
	}
}

// Validate checks mode and thresholds.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Mode {
	case "", ModeAsk, ModeAuto, ModeDeny:
	default:
		return &model.ValidationError{Field: "mode", Reason: "unsupported mode " + c.Mode}
	}
	if c.Thresholds.MinConfidence < 0 || c.Thresholds.MinConfidence > 1 {
		return &model.ValidationError{Field: "thresholds.minConfidence", Reason: "must be within [0,1]"}
	}
	if c.Thresholds.MaxAutoApproveImpact != "" && !c.Thresholds.MaxAutoApproveImpact.IsValid() {
		return &model.ValidationError{Field: "thresholds.maxAutoApproveImpact", Reason: "unknown level " + string(c.Thresholds.MaxAutoApproveImpact)}
	}
	return nil
}

// IsAllowed evaluates AllowList / BlockList. Both lists match the normalized
// action type exactly.
func (p *Policy) IsAllowed(action string) bool {
	if p == nil {
		return true
	}
	normalized := Normalize(action)
	for _, b := range p.BlockList {
		if normalized == Normalize(b) {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, a := range p.AllowList {
		if normalized == Normalize(a) {
			return true
		}
	}
	return false
}

func (p *Policy) mode() string {
	if p == nil || p.Mode == "" {
		return ModeAuto
	}
	return p.Mode
}

func (p *Policy) sensitiveVerbs() []string {
	if p == nil || len(p.SensitiveVerbs) == 0 {
		return DefaultSensitiveVerbs
	}
	return p.SensitiveVerbs
}

func (p *Policy) thresholds() Thresholds {
	ret := Thresholds{MaxAutoApproveImpact: model.LevelMedium}
	if p == nil {
		return ret
	}
	ret.MinConfidence = p.Thresholds.MinConfidence
	if p.Thresholds.MaxAutoApproveImpact.IsValid() {
		ret.MaxAutoApproveImpact = p.Thresholds.MaxAutoApproveImpact
	}
	return ret
}

// Normalize lower-cases an action type and maps '-', '.' and spaces to '_'.
func Normalize(action string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '.', ' ':
			return '_'
		}
		return r
	}, strings.ToLower(strings.TrimSpace(action)))
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds a per-request policy override in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the policy override, if any.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
