package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Every write either commits together
// with the rest of the transaction or not at all.
type Transaction interface {
	Snapshot() TransactionView
	// CreateEntity persists an entity, assigning the next per-kind id when the
	// entity carries none.
	CreateEntity(Entity) (Entity, error)
	UpdateEntity(ref EntityRef, mutator func(*Entity) error) (Entity, error)
	// DeleteEntity removes an entity and cascades: every membership record
	// naming it as member or as group is deleted. Counterpart entities are
	// never deleted.
	DeleteEntity(ref EntityRef) error
	FindEntity(ref EntityRef) (Entity, bool)

	// AddMembership records that member belongs to group, idempotently: an
	// existing (member, group, type) triple is returned unchanged. The typed
	// relation enforces the group kind's capability set.
	AddMembership(member, group EntityRef, typ MembershipType, via Relation) (MembershipRecord, error)
	// AddNamedMembership records that member belongs to the named group.
	AddNamedMembership(member EntityRef, name string, typ MembershipType) (MembershipRecord, error)
	// RemoveMembership deletes the listed roles between member and group, or
	// every role when none are listed. Absent records are a no-op.
	RemoveMembership(member, group EntityRef, types ...MembershipType) error
	RemoveNamedMembership(member EntityRef, name string, types ...MembershipType) error
	// RemoveAllForMember deletes every membership record held by the member.
	RemoveAllForMember(member EntityRef) error
	// RemoveAllForGroup deletes every membership record naming the group.
	RemoveAllForGroup(group EntityRef) error

	// MergeGroups re-points every membership of source onto destination,
	// preserving membership types with duplicate triples discarded, then
	// deletes source and marks it retired. With the typed relation every
	// source member is checked against destination's capability set before
	// anything mutates.
	MergeGroups(destination, source EntityRef, via Relation) error
}

// MembershipSource serves membership predicate queries. Both committed
// stores and in-transaction views implement it; query reads are pure.
type MembershipSource interface {
	SelectMemberships(p Predicate) []MembershipRecord
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	FindEntity(ref EntityRef) (Entity, bool)
	ListEntities(kind string) []Entity
	ListMemberships() []MembershipRecord
	SelectMemberships(p Predicate) []MembershipRecord
}

// PersistentStore is a minimal abstraction over durable backends. Reads
// serve committed state; RunInTransaction evaluates the rules engine over the
// recorded change set and commits only when nothing blocks.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetEntity(ref EntityRef) (Entity, bool)
	ListEntities(kind string) []Entity
	ListMemberships() []MembershipRecord
	SelectMemberships(p Predicate) []MembershipRecord
	// RetiredGroups lists groups retired by merges, most recent last.
	RetiredGroups() []EntityRef
}
