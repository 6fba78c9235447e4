package core

import (
	"context"
	"fmt"

	"groupcore/pkg/domain"
)

// NewDefaultRulesEngine constructs a rules engine with the built-in rules
// registered for the supplied registry.
func NewDefaultRulesEngine(registry *domain.KindRegistry) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(MembershipComposabilityRule(registry))
	return engine
}

// MembershipComposabilityRule blocks membership writes where the member is
// itself an entity of a registered group kind that has not declared itself
// composable (AsMember). Member kinds with no group descriptor are ordinary
// members and pass.
func MembershipComposabilityRule(registry *domain.KindRegistry) domain.Rule {
	return membershipComposabilityRule{registry: registry}
}

type membershipComposabilityRule struct {
	registry *domain.KindRegistry
}

func (membershipComposabilityRule) Name() string { return "membership_composability" }

func (r membershipComposabilityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionAddMembership {
			continue
		}
		record, ok := change.After.(domain.MembershipRecord)
		if !ok {
			continue
		}
		desc, ok := r.registry.Group(record.Member.Kind)
		if !ok || desc.AsMember() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "membership_composability",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("group kind %q is not declared composable and cannot join other groups", record.Member.Kind),
			Ref:      record.Member,
		})
	}
	return res, nil
}
