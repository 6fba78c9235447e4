// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by groupcore.
package domain

import (
	"fmt"
	"time"
)

// EntityRef identifies a persisted member or group as a (kind, numeric id)
// pair. A numeric id is only meaningful together with its kind: two entities
// of different kinds may share the same id without being related.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// IsZero reports whether the reference is absent. An absent reference is
// never an error on read paths; it simply matches nothing.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// Entity is the generic persisted record behind every member and group.
// Concrete application types map onto entities through their kind; the
// engine never inspects attributes.
type Entity struct {
	Kind       string         `json:"kind"`
	ID         int64          `json:"id"`
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Ref returns the entity's identity.
func (e Entity) Ref() EntityRef {
	return EntityRef{Kind: e.Kind, ID: e.ID}
}

// Persisted reports whether the entity has been assigned an id.
func (e Entity) Persisted() bool {
	return e.ID != 0
}

// MembershipType tags a single membership relation, allowing multiple
// coexisting relations between the same member and group. The zero value is
// the untyped membership.
type MembershipType string

// Untyped is the membership type of a relation added without a role.
const Untyped MembershipType = ""

// Relation selects the enforcement mode of a membership write. The
// polymorphic relation accepts any member kind; the typed relation enforces
// the destination group kind's capability set.
type Relation string

// Membership write relations.
const (
	RelationPolymorphic Relation = "polymorphic"
	RelationTyped       Relation = "typed"
)

// MembershipRecord is the canonical join record. Exactly one of Group and
// GroupName is set: Group for a persisted group entity, GroupName for a named
// group with no backing entity.
type MembershipRecord struct {
	Member    EntityRef      `json:"member"`
	Group     EntityRef      `json:"group,omitempty"`
	GroupName string         `json:"group_name,omitempty"`
	Type      MembershipType `json:"type,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Named reports whether the record targets a named group.
func (m MembershipRecord) Named() bool {
	return m.GroupName != ""
}

// GroupKey returns a stable identity for the record's group side, shared
// between persisted and named groups.
func (m MembershipRecord) GroupKey() string {
	if m.Named() {
		return "name:" + m.GroupName
	}
	return "ref:" + m.Group.String()
}

// Key returns the uniqueness key of the (member, group, type) triple.
func (m MembershipRecord) Key() string {
	return m.Member.String() + "|" + m.GroupKey() + "|" + string(m.Type)
}

// Change describes a mutation applied during a transaction. Before and After
// carry Entity or MembershipRecord values depending on the action.
type Change struct {
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the transaction journal.
const (
	// ActionCreateEntity indicates an entity was created.
	ActionCreateEntity Action = "create_entity"
	// ActionUpdateEntity indicates an entity was updated.
	ActionUpdateEntity Action = "update_entity"
	// ActionDeleteEntity indicates an entity was deleted (memberships cascade).
	ActionDeleteEntity Action = "delete_entity"
	// ActionAddMembership indicates a membership record was created.
	ActionAddMembership Action = "add_membership"
	// ActionRemoveMembership indicates a membership record was deleted.
	ActionRemoveMembership Action = "remove_membership"
	// ActionMergeGroups indicates a source group was merged into a destination.
	ActionMergeGroups Action = "merge_groups"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn reports a violation but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Ref      EntityRef
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
