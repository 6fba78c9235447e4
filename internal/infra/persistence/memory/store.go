// Package memory provides the transactional in-memory membership store. It
// is the reference implementation of the domain persistence contract; the
// durable sqlite and postgres stores reuse it for transaction semantics and
// snapshot the committed state afterwards.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"groupcore/pkg/domain"
)

type state struct {
	entities    map[string]map[int64]domain.Entity
	seq         map[string]int64
	memberships map[string]domain.MembershipRecord
	retired     []Retirement
}

func newState() state {
	return state{
		entities:    make(map[string]map[int64]domain.Entity),
		seq:         make(map[string]int64),
		memberships: make(map[string]domain.MembershipRecord),
	}
}

func (s state) clone() state {
	cloned := newState()
	for kind, byID := range s.entities {
		dst := make(map[int64]domain.Entity, len(byID))
		for id, e := range byID {
			dst[id] = cloneEntity(e)
		}
		cloned.entities[kind] = dst
	}
	for kind, n := range s.seq {
		cloned.seq[kind] = n
	}
	for k, r := range s.memberships {
		cloned.memberships[k] = r
	}
	cloned.retired = append([]Retirement(nil), s.retired...)
	return cloned
}

func cloneEntity(e domain.Entity) domain.Entity {
	cp := e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// Retirement records a group retired by a merge.
type Retirement struct {
	Ref domain.EntityRef `json:"ref"`
	At  time.Time        `json:"at"`
}

// Snapshot is the serializable form of the full store state, used by the
// durable backends and the archive exporter.
type Snapshot struct {
	Entities    []domain.Entity           `json:"entities"`
	Memberships []domain.MembershipRecord `json:"memberships"`
	Sequences   map[string]int64          `json:"sequences"`
	Retired     []Retirement              `json:"retired,omitempty"`
}

// Store provides an in-memory transactional membership store.
type Store struct {
	mu       sync.RWMutex
	state    state
	registry *domain.KindRegistry
	engine   *domain.RulesEngine
	nowFn    func() time.Time
}

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// NewStore constructs an in-memory store. The registry supplies group kind
// capability sets for typed-relation writes; the engine is evaluated over the
// change set of every transaction.
func NewStore(registry *domain.KindRegistry, engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:    newState(),
		registry: registry,
		engine:   engine,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the engine for built-in rule registration.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Registry exposes the kind registry the store enforces.
func (s *Store) Registry() *domain.KindRegistry { return s.registry }

// NowFunc returns the store's clock.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// SetNowFunc overrides the store's clock, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState()
	for _, e := range snapshot.Entities {
		byID, ok := st.entities[e.Kind]
		if !ok {
			byID = make(map[int64]domain.Entity)
			st.entities[e.Kind] = byID
		}
		byID[e.ID] = cloneEntity(e)
		if e.ID > st.seq[e.Kind] {
			st.seq[e.Kind] = e.ID
		}
	}
	for kind, n := range snapshot.Sequences {
		if n > st.seq[kind] {
			st.seq[kind] = n
		}
	}
	for _, r := range snapshot.Memberships {
		st.memberships[r.Key()] = r
	}
	st.retired = append([]Retirement(nil), snapshot.Retired...)
	s.state = st
}

func snapshotOf(st state) Snapshot {
	snapshot := Snapshot{Sequences: make(map[string]int64, len(st.seq))}
	for kind, n := range st.seq {
		snapshot.Sequences[kind] = n
	}
	for _, byID := range st.entities {
		for _, e := range byID {
			snapshot.Entities = append(snapshot.Entities, cloneEntity(e))
		}
	}
	sort.Slice(snapshot.Entities, func(i, j int) bool {
		a, b := snapshot.Entities[i], snapshot.Entities[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	for _, r := range st.memberships {
		snapshot.Memberships = append(snapshot.Memberships, r)
	}
	sort.Slice(snapshot.Memberships, func(i, j int) bool {
		return snapshot.Memberships[i].Key() < snapshot.Memberships[j].Key()
	})
	snapshot.Retired = append([]Retirement(nil), st.retired...)
	return snapshot
}

// Transaction represents a mutation set applied to the store state.
type Transaction struct {
	store   *Store
	state   state
	changes []domain.Change
	now     time.Time
}

var _ domain.Transaction = (*Transaction)(nil)

// RunInTransaction executes fn within a transactional copy of the store
// state. The rules engine evaluates the recorded changes; blocking violations
// abort the commit, so either every write lands or none do.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		view := newView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newView(&snapshot))
}

func (tx *Transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes a read-only view of the transactional state.
func (tx *Transaction) Snapshot() domain.TransactionView {
	return newView(&tx.state)
}

// CreateEntity stores a new entity, assigning the next per-kind id when the
// entity carries none.
func (tx *Transaction) CreateEntity(e domain.Entity) (domain.Entity, error) {
	if e.Kind == "" {
		return domain.Entity{}, fmt.Errorf("entity kind cannot be empty")
	}
	byID, ok := tx.state.entities[e.Kind]
	if !ok {
		byID = make(map[int64]domain.Entity)
		tx.state.entities[e.Kind] = byID
	}
	if e.ID == 0 {
		tx.state.seq[e.Kind]++
		e.ID = tx.state.seq[e.Kind]
	} else {
		if _, exists := byID[e.ID]; exists {
			return domain.Entity{}, fmt.Errorf("entity %s already exists", e.Ref())
		}
		if e.ID > tx.state.seq[e.Kind] {
			tx.state.seq[e.Kind] = e.ID
		}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	byID[e.ID] = cloneEntity(e)
	tx.recordChange(domain.Change{Action: domain.ActionCreateEntity, After: cloneEntity(e)})
	return cloneEntity(e), nil
}

// UpdateEntity mutates an entity using the provided mutator function. The
// identity fields are immutable.
func (tx *Transaction) UpdateEntity(ref domain.EntityRef, mutator func(*domain.Entity) error) (domain.Entity, error) {
	current, ok := tx.findEntity(ref)
	if !ok {
		return domain.Entity{}, domain.NotFoundError{Ref: ref}
	}
	before := cloneEntity(current)
	if err := mutator(&current); err != nil {
		return domain.Entity{}, err
	}
	current.Kind = ref.Kind
	current.ID = ref.ID
	current.UpdatedAt = tx.now
	tx.state.entities[ref.Kind][ref.ID] = cloneEntity(current)
	tx.recordChange(domain.Change{Action: domain.ActionUpdateEntity, Before: before, After: cloneEntity(current)})
	return cloneEntity(current), nil
}

// DeleteEntity removes an entity and cascades its membership records in both
// directions. Counterpart entities are left untouched.
func (tx *Transaction) DeleteEntity(ref domain.EntityRef) error {
	current, ok := tx.findEntity(ref)
	if !ok {
		return domain.NotFoundError{Ref: ref}
	}
	tx.removeMemberships(func(r domain.MembershipRecord) bool {
		return r.Member == ref || (!r.Named() && r.Group == ref)
	})
	delete(tx.state.entities[ref.Kind], ref.ID)
	tx.recordChange(domain.Change{Action: domain.ActionDeleteEntity, Before: cloneEntity(current)})
	return nil
}

// FindEntity retrieves an entity from the transactional state.
func (tx *Transaction) FindEntity(ref domain.EntityRef) (domain.Entity, bool) {
	e, ok := tx.findEntity(ref)
	if !ok {
		return domain.Entity{}, false
	}
	return cloneEntity(e), true
}

func (tx *Transaction) findEntity(ref domain.EntityRef) (domain.Entity, bool) {
	byID, ok := tx.state.entities[ref.Kind]
	if !ok {
		return domain.Entity{}, false
	}
	e, ok := byID[ref.ID]
	return e, ok
}

func (tx *Transaction) checkCapability(member, group domain.EntityRef) error {
	desc, ok := tx.store.registry.Group(group.Kind)
	if !ok || !desc.Accepts(member.Kind) {
		return domain.CapabilityError{Member: member, Group: group}
	}
	return nil
}

// AddMembership records that member belongs to group. Duplicate triples are
// absorbed: the existing record is returned unchanged.
func (tx *Transaction) AddMembership(member, group domain.EntityRef, typ domain.MembershipType, via domain.Relation) (domain.MembershipRecord, error) {
	if _, ok := tx.findEntity(member); !ok {
		return domain.MembershipRecord{}, domain.NotFoundError{Ref: member}
	}
	if _, ok := tx.findEntity(group); !ok {
		return domain.MembershipRecord{}, domain.NotFoundError{Ref: group}
	}
	if via == domain.RelationTyped {
		if err := tx.checkCapability(member, group); err != nil {
			return domain.MembershipRecord{}, err
		}
	}
	record := domain.MembershipRecord{Member: member, Group: group, Type: typ}
	return tx.insertMembership(record), nil
}

// AddNamedMembership records that member belongs to the named group. Named
// groups have no persisted entity and accept any member kind.
func (tx *Transaction) AddNamedMembership(member domain.EntityRef, name string, typ domain.MembershipType) (domain.MembershipRecord, error) {
	if name == "" {
		return domain.MembershipRecord{}, fmt.Errorf("named group requires a name")
	}
	if _, ok := tx.findEntity(member); !ok {
		return domain.MembershipRecord{}, domain.NotFoundError{Ref: member}
	}
	record := domain.MembershipRecord{Member: member, GroupName: name, Type: typ}
	return tx.insertMembership(record), nil
}

func (tx *Transaction) insertMembership(record domain.MembershipRecord) domain.MembershipRecord {
	key := record.Key()
	if existing, ok := tx.state.memberships[key]; ok {
		return existing
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = tx.now
	}
	record.UpdatedAt = tx.now
	tx.state.memberships[key] = record
	tx.recordChange(domain.Change{Action: domain.ActionAddMembership, After: record})
	return record
}

// RemoveMembership deletes the listed roles between member and group, or
// every role when none are listed.
func (tx *Transaction) RemoveMembership(member, group domain.EntityRef, types ...domain.MembershipType) error {
	filter := typeFilter(types)
	tx.removeMemberships(func(r domain.MembershipRecord) bool {
		return r.Member == member && !r.Named() && r.Group == group && filter(r.Type)
	})
	return nil
}

// RemoveNamedMembership deletes the listed roles between member and the
// named group, or every role when none are listed.
func (tx *Transaction) RemoveNamedMembership(member domain.EntityRef, name string, types ...domain.MembershipType) error {
	filter := typeFilter(types)
	tx.removeMemberships(func(r domain.MembershipRecord) bool {
		return r.Member == member && r.GroupName == name && name != "" && filter(r.Type)
	})
	return nil
}

// RemoveAllForMember deletes every membership record held by the member.
func (tx *Transaction) RemoveAllForMember(member domain.EntityRef) error {
	tx.removeMemberships(func(r domain.MembershipRecord) bool {
		return r.Member == member
	})
	return nil
}

// RemoveAllForGroup deletes every membership record naming the group.
func (tx *Transaction) RemoveAllForGroup(group domain.EntityRef) error {
	tx.removeMemberships(func(r domain.MembershipRecord) bool {
		return !r.Named() && r.Group == group
	})
	return nil
}

func typeFilter(types []domain.MembershipType) func(domain.MembershipType) bool {
	if len(types) == 0 {
		return func(domain.MembershipType) bool { return true }
	}
	set := make(map[domain.MembershipType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(t domain.MembershipType) bool {
		_, ok := set[t]
		return ok
	}
}

func (tx *Transaction) removeMemberships(match func(domain.MembershipRecord) bool) {
	keys := make([]string, 0)
	for key, r := range tx.state.memberships {
		if match(r) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		record := tx.state.memberships[key]
		delete(tx.state.memberships, key)
		tx.recordChange(domain.Change{Action: domain.ActionRemoveMembership, Before: record})
	}
}

// MergeGroups moves every membership of source onto destination, preserving
// membership types, then deletes source and marks it retired. The typed
// relation pre-checks every source member against destination's capability
// set before anything mutates; the transaction clone makes the whole
// operation all-or-nothing regardless.
func (tx *Transaction) MergeGroups(destination, source domain.EntityRef, via domain.Relation) error {
	src, ok := tx.findEntity(source)
	if !ok {
		return domain.NotFoundError{Ref: source}
	}
	if _, ok := tx.findEntity(destination); !ok {
		return domain.NotFoundError{Ref: destination}
	}
	if destination == source {
		return fmt.Errorf("cannot merge group %s into itself", source)
	}

	records := selectFrom(tx.state, domain.GroupIs(source))
	if via == domain.RelationTyped {
		for _, r := range records {
			if err := tx.checkCapability(r.Member, destination); err != nil {
				return err
			}
		}
	}
	for _, r := range records {
		moved := domain.MembershipRecord{
			Member:    r.Member,
			Group:     destination,
			Type:      r.Type,
			CreatedAt: r.CreatedAt,
		}
		tx.insertMembership(moved)
	}
	if err := tx.DeleteEntity(source); err != nil {
		return err
	}
	tx.state.retired = append(tx.state.retired, Retirement{Ref: source, At: tx.now})
	tx.recordChange(domain.Change{Action: domain.ActionMergeGroups, Before: cloneEntity(src), After: destination})
	return nil
}

// view exposes a read-only snapshot of a state to rules and queries.
type view struct {
	state *state
}

var _ domain.TransactionView = view{}

func newView(state *state) view {
	return view{state: state}
}

// FindEntity retrieves an entity by reference from the snapshot.
func (v view) FindEntity(ref domain.EntityRef) (domain.Entity, bool) {
	byID, ok := v.state.entities[ref.Kind]
	if !ok {
		return domain.Entity{}, false
	}
	e, ok := byID[ref.ID]
	if !ok {
		return domain.Entity{}, false
	}
	return cloneEntity(e), true
}

// ListEntities returns all entities of a kind ordered by id.
func (v view) ListEntities(kind string) []domain.Entity {
	byID := v.state.entities[kind]
	out := make([]domain.Entity, 0, len(byID))
	for _, e := range byID {
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListMemberships returns every membership record in stable order.
func (v view) ListMemberships() []domain.MembershipRecord {
	return selectFrom(*v.state, nil)
}

// SelectMemberships returns the records matching the predicate in stable
// order.
func (v view) SelectMemberships(p domain.Predicate) []domain.MembershipRecord {
	return selectFrom(*v.state, p)
}

func selectFrom(st state, p domain.Predicate) []domain.MembershipRecord {
	out := make([]domain.MembershipRecord, 0)
	for _, r := range st.memberships {
		if p == nil || p.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Committed-state read helpers ----------------------------------------------

// GetEntity retrieves an entity by reference from committed state.
func (s *Store) GetEntity(ref domain.EntityRef) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newView(&s.state).FindEntity(ref)
}

// ListEntities returns all committed entities of a kind ordered by id.
func (s *Store) ListEntities(kind string) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newView(&s.state).ListEntities(kind)
}

// ListMemberships returns every committed membership record.
func (s *Store) ListMemberships() []domain.MembershipRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectFrom(s.state, nil)
}

// SelectMemberships returns committed records matching the predicate.
func (s *Store) SelectMemberships(p domain.Predicate) []domain.MembershipRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectFrom(s.state, p)
}

// RetiredGroups lists groups retired by merges, oldest first.
func (s *Store) RetiredGroups() []domain.EntityRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EntityRef, 0, len(s.state.retired))
	for _, r := range s.state.retired {
		out = append(out, r.Ref)
	}
	return out
}
