package core

import "groupcore/pkg/domain"

type (
	EntityRef           = domain.EntityRef
	Entity              = domain.Entity
	MembershipType      = domain.MembershipType
	MembershipRecord    = domain.MembershipRecord
	Relation            = domain.Relation
	GroupKindDescriptor = domain.GroupKindDescriptor
	KindRegistry        = domain.KindRegistry
	RegistryBuilder     = domain.RegistryBuilder
	RulesEngine         = domain.RulesEngine
	Rule                = domain.Rule
	Predicate           = domain.Predicate
	Change              = domain.Change
	Action              = domain.Action
	Violation           = domain.Violation
	Result              = domain.Result
	Severity            = domain.Severity
	CapabilityError     = domain.CapabilityError
	NotFoundError       = domain.NotFoundError
	RuleViolationError  = domain.RuleViolationError
)

const (
	Untyped             = domain.Untyped
	RelationPolymorphic = domain.RelationPolymorphic
	RelationTyped       = domain.RelationTyped
)

const (
	ActionCreateEntity     = domain.ActionCreateEntity
	ActionUpdateEntity     = domain.ActionUpdateEntity
	ActionDeleteEntity     = domain.ActionDeleteEntity
	ActionAddMembership    = domain.ActionAddMembership
	ActionRemoveMembership = domain.ActionRemoveMembership
	ActionMergeGroups      = domain.ActionMergeGroups
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewRegistryBuilder re-exports the domain registry builder for callers that
// configure the engine through this package alone.
func NewRegistryBuilder() *RegistryBuilder { return domain.NewRegistryBuilder() }

// NewRulesEngine re-exports the domain rules engine constructor.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
