package core

import (
	"context"
	"fmt"
	"time"
)

// Service exposes the membership engine's transactional operations: entity
// lifecycle, membership writes with optional roles, named virtual groups,
// and safe group merging. Reads go through Query.
type Service struct {
	store    PersistentStore
	registry *KindRegistry
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	clock    Clock
}

// NewService constructs a service backed by the supplied store and registry.
func NewService(store PersistentStore, registry *KindRegistry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		logger:   noopLogger{},
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// default rules engine for the registry.
func NewInMemoryService(registry *KindRegistry, opts ...Option) *Service {
	store := NewMemoryStore(registry, NewDefaultRulesEngine(registry))
	return NewService(store, registry, opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Registry returns the group kind registry the service enforces.
func (s *Service) Registry() *KindRegistry {
	return s.registry
}

// Query returns a set-algebra query over committed state.
func (s *Service) Query() Query {
	return NewQuery(s.store)
}

// MembershipOption configures a membership write.
type MembershipOption func(*membershipConfig)

type membershipConfig struct {
	types []MembershipType
	via   Relation
}

func applyMembershipOptions(opts []MembershipOption) membershipConfig {
	cfg := membershipConfig{via: RelationPolymorphic}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.types) == 0 {
		cfg.types = []MembershipType{Untyped}
	}
	return cfg
}

// WithType adds a role to the membership write. Repeated options accumulate;
// each role yields its own record. Without any, the untyped membership is
// written.
func WithType(typ MembershipType) MembershipOption {
	return func(cfg *membershipConfig) {
		cfg.types = append(cfg.types, typ)
	}
}

// ViaTypedRelation routes the write through the typed relation, enforcing the
// group kind's capability set. The default polymorphic relation accepts any
// member kind.
func ViaTypedRelation() MembershipOption {
	return func(cfg *membershipConfig) {
		cfg.via = RelationTyped
	}
}

// MergeOption configures a group merge. Merges move records with their roles
// intact, so role options do not apply here.
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	via Relation
}

func applyMergeOptions(opts []MergeOption) mergeConfig {
	cfg := mergeConfig{via: RelationPolymorphic}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// StrictMerge validates every source member against the destination's
// capability set before anything mutates. The default permissive merge
// accepts any member kind.
func StrictMerge() MergeOption {
	return func(cfg *mergeConfig) {
		cfg.via = RelationTyped
	}
}

// instrumentation ------------------------------------------------------------

func (s *Service) run(ctx context.Context, op string, entry AuditEntry, fn func(ctx context.Context) error) error {
	started := s.clock.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, op)
	}
	err := fn(ctx)
	duration := s.clock.Now().Sub(started)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, op, err == nil, duration)
	}
	if s.audit != nil {
		entry.Operation = op
		entry.Duration = duration
		entry.Timestamp = started
		entry.Status = AuditStatusSuccess
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.audit.Record(ctx, entry)
	}
	if err != nil {
		s.logger.Error(op, "error", err)
	} else {
		s.logger.Debug(op, "duration", duration)
	}
	return err
}

// entity lifecycle -----------------------------------------------------------

// CreateEntity persists an entity, assigning the next id of its kind when it
// carries none.
func (s *Service) CreateEntity(ctx context.Context, entity Entity) (Entity, Result, error) {
	var (
		created Entity
		result  Result
	)
	err := s.run(ctx, "create_entity", AuditEntry{Subject: entity.Ref()}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateEntity(entity)
			return txErr
		})
		result = res
		return err
	})
	return created, result, err
}

// UpdateEntity applies the mutator to the entity under the transaction.
// Identity fields are immutable.
func (s *Service) UpdateEntity(ctx context.Context, ref EntityRef, mutator func(*Entity) error) (Entity, Result, error) {
	var (
		updated Entity
		result  Result
	)
	err := s.run(ctx, "update_entity", AuditEntry{Subject: ref}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateEntity(ref, mutator)
			return txErr
		})
		result = res
		return err
	})
	return updated, result, err
}

// DeleteEntity removes the entity and cascades over its membership records
// in both directions. Counterpart entities survive.
func (s *Service) DeleteEntity(ctx context.Context, ref EntityRef) (Result, error) {
	var result Result
	err := s.run(ctx, "delete_entity", AuditEntry{Subject: ref}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteEntity(ref)
		})
		result = res
		return err
	})
	return result, err
}

// GetEntity reads a committed entity.
func (s *Service) GetEntity(ref EntityRef) (Entity, bool) {
	return s.store.GetEntity(ref)
}

// membership writes ----------------------------------------------------------

// stagePersisted saves entities that carry no id yet and returns the
// resolved copies in order. The caller's pointers are untouched here: ids
// flow back only after the transaction commits, so an aborted add leaves
// them unsaved and retryable.
func stagePersisted(tx Transaction, entities ...*Entity) ([]Entity, error) {
	out := make([]Entity, len(entities))
	for i, e := range entities {
		if e == nil {
			return nil, fmt.Errorf("nil entity")
		}
		if e.Persisted() {
			out[i] = *e
			continue
		}
		created, err := tx.CreateEntity(*e)
		if err != nil {
			return nil, err
		}
		out[i] = created
	}
	return out, nil
}

// AddMembers adds the members to the group, persisting any unsaved entity in
// the same transaction. Existing (member, group, type) triples are returned
// unchanged.
func (s *Service) AddMembers(ctx context.Context, group *Entity, members []*Entity, opts ...MembershipOption) ([]MembershipRecord, Result, error) {
	cfg := applyMembershipOptions(opts)
	var (
		records []MembershipRecord
		result  Result
	)
	var groupRef EntityRef
	if group != nil {
		groupRef = group.Ref()
	}
	var saved []Entity
	err := s.run(ctx, "add_members", AuditEntry{Group: groupRef}, func(ctx context.Context) error {
		if group == nil {
			return fmt.Errorf("group is required")
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			saved, txErr = stagePersisted(tx, append([]*Entity{group}, members...)...)
			if txErr != nil {
				return txErr
			}
			for i := range members {
				for _, typ := range cfg.types {
					record, err := tx.AddMembership(saved[i+1].Ref(), saved[0].Ref(), typ, cfg.via)
					if err != nil {
						return err
					}
					records = append(records, record)
				}
			}
			return nil
		})
		result = res
		return err
	})
	if err != nil {
		return nil, result, err
	}
	*group = saved[0]
	for i := range members {
		*members[i] = saved[i+1]
	}
	return records, result, nil
}

// AddToGroups adds the member to each group, persisting unsaved entities in
// the same transaction.
func (s *Service) AddToGroups(ctx context.Context, member *Entity, groups []*Entity, opts ...MembershipOption) ([]MembershipRecord, Result, error) {
	cfg := applyMembershipOptions(opts)
	var (
		records []MembershipRecord
		result  Result
	)
	var memberRef EntityRef
	if member != nil {
		memberRef = member.Ref()
	}
	var saved []Entity
	err := s.run(ctx, "add_to_groups", AuditEntry{Subject: memberRef}, func(ctx context.Context) error {
		if member == nil {
			return fmt.Errorf("member is required")
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			saved, txErr = stagePersisted(tx, append([]*Entity{member}, groups...)...)
			if txErr != nil {
				return txErr
			}
			for i := range groups {
				for _, typ := range cfg.types {
					record, err := tx.AddMembership(saved[0].Ref(), saved[i+1].Ref(), typ, cfg.via)
					if err != nil {
						return err
					}
					records = append(records, record)
				}
			}
			return nil
		})
		result = res
		return err
	})
	if err != nil {
		return nil, result, err
	}
	*member = saved[0]
	for i := range groups {
		*groups[i] = saved[i+1]
	}
	return records, result, nil
}

// AddToNamedGroups joins the member to each named virtual group. Named
// groups have no backing row and no capability set.
func (s *Service) AddToNamedGroups(ctx context.Context, member *Entity, names []string, opts ...MembershipOption) ([]MembershipRecord, Result, error) {
	cfg := applyMembershipOptions(opts)
	var (
		records []MembershipRecord
		result  Result
	)
	var memberRef EntityRef
	if member != nil {
		memberRef = member.Ref()
	}
	var saved []Entity
	err := s.run(ctx, "add_to_named_groups", AuditEntry{Subject: memberRef}, func(ctx context.Context) error {
		if member == nil {
			return fmt.Errorf("member is required")
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			saved, txErr = stagePersisted(tx, member)
			if txErr != nil {
				return txErr
			}
			for _, name := range names {
				for _, typ := range cfg.types {
					record, err := tx.AddNamedMembership(saved[0].Ref(), name, typ)
					if err != nil {
						return err
					}
					records = append(records, record)
				}
			}
			return nil
		})
		result = res
		return err
	})
	if err != nil {
		return nil, result, err
	}
	*member = saved[0]
	return records, result, nil
}

// RemoveMember deletes the listed roles between member and group, or every
// role when none are given. Removing an absent membership is a no-op.
func (s *Service) RemoveMember(ctx context.Context, group, member EntityRef, types ...MembershipType) (Result, error) {
	var result Result
	err := s.run(ctx, "remove_member", AuditEntry{Subject: member, Group: group}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.RemoveMembership(member, group, types...)
		})
		result = res
		return err
	})
	return result, err
}

// RemoveFromNamedGroup deletes the member's roles in the named group.
func (s *Service) RemoveFromNamedGroup(ctx context.Context, member EntityRef, name string, types ...MembershipType) (Result, error) {
	var result Result
	err := s.run(ctx, "remove_from_named_group", AuditEntry{Subject: member, GroupName: name}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.RemoveNamedMembership(member, name, types...)
		})
		result = res
		return err
	})
	return result, err
}

// ClearMemberships deletes every membership record the member holds, leaving
// the member entity itself intact.
func (s *Service) ClearMemberships(ctx context.Context, member EntityRef) (Result, error) {
	var result Result
	err := s.run(ctx, "clear_memberships", AuditEntry{Subject: member}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.RemoveAllForMember(member)
		})
		result = res
		return err
	})
	return result, err
}

// ClearGroup deletes every membership record naming the group, leaving the
// group entity itself intact.
func (s *Service) ClearGroup(ctx context.Context, group EntityRef) (Result, error) {
	var result Result
	err := s.run(ctx, "clear_group", AuditEntry{Group: group}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.RemoveAllForGroup(group)
		})
		result = res
		return err
	})
	return result, err
}

// merging --------------------------------------------------------------------

// Merge re-points every membership of source onto destination, preserving
// roles and discarding duplicate triples, then deletes source and marks it
// retired. With StrictMerge every source member is validated against
// destination's capability set before anything mutates; a single
// incompatible member aborts the merge with both groups unchanged.
func (s *Service) Merge(ctx context.Context, destination, source EntityRef, opts ...MergeOption) (Result, error) {
	cfg := applyMergeOptions(opts)
	var result Result
	err := s.run(ctx, "merge_groups", AuditEntry{Subject: source, Group: destination}, func(ctx context.Context) error {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.MergeGroups(destination, source, cfg.via)
		})
		result = res
		return err
	})
	return result, err
}
