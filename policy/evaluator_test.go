package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/hitl/model"
)

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		description        string
		policy             *Policy
		action             Action
		expectAuto         bool
		expectConfirmation bool
		expectBlocked      bool
		expectLevel        model.Level
	}{
		{
			description:        "sensitive verb wins over confidence",
			action:             Action{Type: "delete_user", Confidence: 0.99, Impact: model.LevelLow},
			expectConfirmation: true,
			expectLevel:        model.LevelHigh,
		},
		{
			description: "low risk read",
			action:      Action{Type: "read_report", Confidence: 0.95, Impact: model.LevelLow},
			expectAuto:  true,
			expectLevel: model.LevelLow,
		},
		{
			description:        "normalized sensitive verb",
			action:             Action{Type: "Deploy-Service", Confidence: 1},
			expectConfirmation: true,
			expectLevel:        model.LevelHigh,
		},
		{
			description:        "multiple users",
			action:             Action{Type: "send_digest", Confidence: 1, Context: RiskContext{AffectsMultipleUsers: true}},
			expectConfirmation: true,
			expectLevel:        model.LevelMedium,
		},
		{
			description:        "system wide",
			action:             Action{Type: "rotate_cache", Confidence: 1, Context: RiskContext{IsSystemWide: true}},
			expectConfirmation: true,
			expectLevel:        model.LevelMedium,
		},
		{
			description:        "critical impact forces confirmation at low risk",
			action:             Action{Type: "read_report", Confidence: 1, Impact: model.LevelCritical},
			expectConfirmation: true,
			expectLevel:        model.LevelLow,
		},
		{
			description:        "high impact forces confirmation even with permissive threshold",
			policy:             &Policy{Thresholds: Thresholds{MaxAutoApproveImpact: model.LevelCritical}},
			action:             Action{Type: "read_report", Confidence: 1, Impact: model.LevelHigh},
			expectConfirmation: true,
			expectLevel:        model.LevelLow,
		},
		{
			description:        "confidence threshold",
			policy:             &Policy{Thresholds: Thresholds{MinConfidence: 0.8}},
			action:             Action{Type: "read_report", Confidence: 0.5},
			expectConfirmation: true,
			expectLevel:        model.LevelLow,
		},
		{
			description:        "impact threshold",
			policy:             &Policy{Thresholds: Thresholds{MaxAutoApproveImpact: model.LevelLow}},
			action:             Action{Type: "read_report", Confidence: 1, Impact: model.LevelMedium},
			expectConfirmation: true,
			expectLevel:        model.LevelLow,
		},
		{
			description: "custom sensitive verbs replace defaults",
			policy:      &Policy{SensitiveVerbs: []string{"wire_money"}},
			action:      Action{Type: "delete_draft", Confidence: 1},
			expectAuto:  true,
			expectLevel: model.LevelLow,
		},
		{
			description:        "ask mode",
			policy:             &Policy{Mode: ModeAsk},
			action:             Action{Type: "read_report", Confidence: 1},
			expectConfirmation: true,
			expectLevel:        model.LevelLow,
		},
		{
			description:        "deny mode",
			policy:             &Policy{Mode: ModeDeny},
			action:             Action{Type: "read_report", Confidence: 1},
			expectConfirmation: true,
			expectBlocked:      true,
			expectLevel:        model.LevelCritical,
		},
		{
			description:        "block list",
			policy:             &Policy{BlockList: []string{"read.report"}},
			action:             Action{Type: "read_report", Confidence: 1},
			expectConfirmation: true,
			expectBlocked:      true,
			expectLevel:        model.LevelCritical,
		},
	}

	for _, tc := range testCases {
		action := tc.action
		actual := Evaluate(tc.policy, &action)
		assert.Equal(t, tc.expectAuto, actual.AutoApprove, tc.description)
		assert.Equal(t, tc.expectConfirmation, actual.RequiresConfirmation, tc.description)
		assert.Equal(t, tc.expectBlocked, actual.Blocked, tc.description)
		assert.Equal(t, tc.expectLevel, actual.RiskLevel, tc.description)
		assert.NotEqual(t, actual.AutoApprove, actual.RequiresConfirmation, tc.description)
	}
}

func TestEvaluator_ModuleAndContextPolicy(t *testing.T) {
	evaluator := NewEvaluator(
		WithDefaultPolicy(&Policy{Mode: ModeAuto}),
		WithModulePolicy("strict", &Policy{Mode: ModeAsk}),
	)
	action := &Action{ModuleID: "strict", Type: "read_report", Confidence: 1}
	assert.True(t, evaluator.Evaluate(context.Background(), action).RequiresConfirmation)

	action.ModuleID = "relaxed"
	assert.True(t, evaluator.Evaluate(context.Background(), action).AutoApprove)

	ctx := WithPolicy(context.Background(), &Policy{Mode: ModeDeny})
	assert.True(t, evaluator.Evaluate(ctx, action).Blocked)
}

func TestAction_Validate(t *testing.T) {
	assert.NoError(t, (&Action{Type: "x", Confidence: 0.5}).Validate())
	assert.ErrorIs(t, (&Action{Type: "x", Confidence: 1.5}).Validate(), model.ErrValidation)
	assert.ErrorIs(t, (&Action{Type: "x", Impact: "HUGE"}).Validate(), model.ErrValidation)
	assert.ErrorIs(t, (&Action{}).Validate(), model.ErrValidation)
}

func TestConfig_RoundTrip(t *testing.T) {
	cfg := &Config{Mode: ModeAsk, SensitiveVerbs: []string{"wipe"}, Thresholds: Thresholds{MinConfidence: 0.5}}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, cfg, ToConfig(FromConfig(cfg)))
	assert.Error(t, (&Config{Mode: "maybe"}).Validate())
}
