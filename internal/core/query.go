package core

import (
	"sort"

	"groupcore/pkg/domain"
)

// Query is an immutable set-algebra query builder over the membership
// registry. Every chained call returns a new value; reads are pure and never
// error: absent members, groups, and names simply match nothing.
type Query struct {
	source domain.MembershipSource
	types  []MembershipType
	typed  bool
	kind   string
	scope  domain.Predicate
}

// NewQuery builds a query over the given membership source (a committed
// store or an in-transaction view).
func NewQuery(source domain.MembershipSource) Query {
	return Query{source: source}
}

// As narrows the query to memberships holding one of the listed types. It
// composes post-hoc: the base predicate is untouched and a later As replaces
// the filter. No call means any type.
func (q Query) As(types ...MembershipType) Query {
	q.types = append([]MembershipType(nil), types...)
	q.typed = true
	return q
}

// Kind narrows collection results to members of one kind.
func (q Query) Kind(kind string) Query {
	q.kind = kind
	return q
}

// Merge composes this query with another membership-registry query, ANDing
// its scope and adopting its type filter when set. Merging a query that was
// not derived from the registry is rejected before any predicate executes.
func (q Query) Merge(other Query) (Query, error) {
	if q.source == nil || other.source == nil {
		return Query{}, domain.ErrInvalidQueryComposition
	}
	out := q
	if other.typed {
		out.types = append([]MembershipType(nil), other.types...)
		out.typed = true
	}
	if other.kind != "" {
		out.kind = other.kind
	}
	if other.scope != nil {
		if out.scope != nil {
			out.scope = domain.And(out.scope, other.scope)
		} else {
			out.scope = other.scope
		}
	}
	return out, nil
}

// Scope ANDs an additional membership predicate into the query.
func (q Query) Scope(p domain.Predicate) Query {
	if p == nil {
		return q
	}
	if q.scope != nil {
		q.scope = domain.And(q.scope, p)
	} else {
		q.scope = p
	}
	return q
}

func (q Query) selectRecords(extra domain.Predicate) []MembershipRecord {
	if q.source == nil {
		return nil
	}
	ps := make([]domain.Predicate, 0, 4)
	if extra != nil {
		ps = append(ps, extra)
	}
	if q.typed {
		ps = append(ps, domain.TypeIn(q.types...))
	}
	if q.kind != "" {
		ps = append(ps, domain.MemberKindIs(q.kind))
	}
	if q.scope != nil {
		ps = append(ps, q.scope)
	}
	return q.source.SelectMemberships(domain.And(ps...))
}

func dedupeRefs(refs []EntityRef) []EntityRef {
	seen := make(map[EntityRef]struct{}, len(refs))
	out := make([]EntityRef, 0, len(refs))
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Membership existence -------------------------------------------------------

// InGroup reports whether the member holds a membership to the group
// matching the type filter.
func (q Query) InGroup(member, group EntityRef) bool {
	if member.IsZero() || group.IsZero() {
		return false
	}
	return len(q.selectRecords(domain.And(domain.MemberIs(member), domain.GroupIs(group)))) > 0
}

// InAnyGroup reports whether the member belongs to at least one of the
// groups. Duplicate and absent groups never double-count.
func (q Query) InAnyGroup(member EntityRef, groups ...EntityRef) bool {
	if member.IsZero() {
		return false
	}
	return len(q.selectRecords(domain.And(domain.MemberIs(member), domain.GroupIn(groups...)))) > 0
}

// InAllGroups reports whether the member belongs to every one of the groups.
// This is a conjunction over each group, not the existence of a single
// combined record; an empty set is vacuously true.
func (q Query) InAllGroups(member EntityRef, groups ...EntityRef) bool {
	if member.IsZero() {
		return false
	}
	for _, g := range dedupeRefs(groups) {
		if !q.InGroup(member, g) {
			return false
		}
	}
	return true
}

// InOnlyGroups reports whether the member's total distinct group set
// matching the type filter is exactly the given set.
func (q Query) InOnlyGroups(member EntityRef, groups ...EntityRef) bool {
	if member.IsZero() {
		return false
	}
	want := dedupeRefs(groups)
	have := q.GroupsOf(member)
	if len(have) != len(want) {
		return false
	}
	set := make(map[EntityRef]struct{}, len(want))
	for _, g := range want {
		set[g] = struct{}{}
	}
	for _, g := range have {
		if _, ok := set[g]; !ok {
			return false
		}
	}
	return true
}

// SharesAnyGroup reports whether the two members belong to at least one
// common group, both memberships matching the type filter.
func (q Query) SharesAnyGroup(member, other EntityRef) bool {
	if member.IsZero() || other.IsZero() {
		return false
	}
	groups := q.GroupsOf(member)
	if len(groups) == 0 {
		return false
	}
	return q.InAnyGroup(other, groups...)
}

// Collection forms -----------------------------------------------------------

// MembersInGroup returns the distinct members of the group. Multiple roles
// linking the same member never produce duplicates.
func (q Query) MembersInGroup(group EntityRef) []EntityRef {
	if group.IsZero() {
		return nil
	}
	return domain.DistinctMembers(q.selectRecords(domain.GroupIs(group)))
}

// MembersInAnyGroup returns the distinct members belonging to at least one
// of the groups.
func (q Query) MembersInAnyGroup(groups ...EntityRef) []EntityRef {
	return domain.DistinctMembers(q.selectRecords(domain.GroupIn(groups...)))
}

// MembersInAllGroups returns the distinct members belonging to every one of
// the groups.
func (q Query) MembersInAllGroups(groups ...EntityRef) []EntityRef {
	want := dedupeRefs(groups)
	if len(want) == 0 {
		return nil
	}
	out := make([]EntityRef, 0)
	for _, member := range q.MembersInAnyGroup(want...) {
		if q.InAllGroups(member, want...) {
			out = append(out, member)
		}
	}
	return out
}

// MembersInOnlyGroups returns the distinct members whose total group set is
// exactly the given set.
func (q Query) MembersInOnlyGroups(groups ...EntityRef) []EntityRef {
	want := dedupeRefs(groups)
	if len(want) == 0 {
		return nil
	}
	out := make([]EntityRef, 0)
	for _, member := range q.MembersInAnyGroup(want...) {
		if q.InOnlyGroups(member, want...) {
			out = append(out, member)
		}
	}
	return out
}

// GroupsOf returns the member's distinct persisted groups matching the type
// filter, in stable order.
func (q Query) GroupsOf(member EntityRef) []EntityRef {
	if member.IsZero() {
		return nil
	}
	records := q.selectRecords(domain.MemberIs(member))
	seen := make(map[EntityRef]struct{}, len(records))
	out := make([]EntityRef, 0, len(records))
	for _, r := range records {
		if r.Named() {
			continue
		}
		if _, ok := seen[r.Group]; ok {
			continue
		}
		seen[r.Group] = struct{}{}
		out = append(out, r.Group)
	}
	return out
}

// MembershipTypesFor returns the distinct roles the member holds toward the
// group, sorted; the untyped membership appears as the empty type.
func (q Query) MembershipTypesFor(member, group EntityRef) []MembershipType {
	return distinctTypes(q.selectRecords(domain.And(domain.MemberIs(member), domain.GroupIs(group))))
}

// Records returns the membership records of the given groups, resolving
// mixed-kind identities without conflating colliding numeric ids.
func (q Query) Records(groups ...EntityRef) []MembershipRecord {
	return q.selectRecords(domain.GroupIn(groups...))
}

// Named-group combinators ----------------------------------------------------

// InNamedGroup reports whether the member belongs to the named group.
func (q Query) InNamedGroup(member EntityRef, name string) bool {
	if member.IsZero() || name == "" {
		return false
	}
	return len(q.selectRecords(domain.And(domain.MemberIs(member), domain.GroupNamed(name)))) > 0
}

// InAnyNamedGroup reports whether the member belongs to at least one of the
// named groups.
func (q Query) InAnyNamedGroup(member EntityRef, names ...string) bool {
	if member.IsZero() {
		return false
	}
	return len(q.selectRecords(domain.And(domain.MemberIs(member), domain.GroupNamedIn(names...)))) > 0
}

// InAllNamedGroups reports whether the member belongs to every one of the
// named groups.
func (q Query) InAllNamedGroups(member EntityRef, names ...string) bool {
	if member.IsZero() {
		return false
	}
	for _, name := range dedupeNames(names) {
		if !q.InNamedGroup(member, name) {
			return false
		}
	}
	return true
}

// InOnlyNamedGroups reports whether the member's total named-group set is
// exactly the given set.
func (q Query) InOnlyNamedGroups(member EntityRef, names ...string) bool {
	if member.IsZero() {
		return false
	}
	want := dedupeNames(names)
	have := q.NamedGroupsOf(member)
	if len(have) != len(want) {
		return false
	}
	set := make(map[string]struct{}, len(want))
	for _, n := range want {
		set[n] = struct{}{}
	}
	for _, n := range have {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

// SharesAnyNamedGroup reports whether the two members share at least one
// named group.
func (q Query) SharesAnyNamedGroup(member, other EntityRef) bool {
	if member.IsZero() || other.IsZero() {
		return false
	}
	names := q.NamedGroupsOf(member)
	if len(names) == 0 {
		return false
	}
	return q.InAnyNamedGroup(other, names...)
}

// MembersInNamedGroup returns the distinct members of the named group.
func (q Query) MembersInNamedGroup(name string) []EntityRef {
	if name == "" {
		return nil
	}
	return domain.DistinctMembers(q.selectRecords(domain.GroupNamed(name)))
}

// NamedGroupsOf returns the member's distinct named groups, sorted.
func (q Query) NamedGroupsOf(member EntityRef) []string {
	if member.IsZero() {
		return nil
	}
	records := q.selectRecords(domain.MemberIs(member))
	names := make([]string, 0, len(records))
	for _, r := range records {
		if r.Named() {
			names = append(names, r.GroupName)
		}
	}
	names = dedupeNames(names)
	sort.Strings(names)
	return names
}

// NamedMembershipTypesFor returns the distinct roles the member holds toward
// the named group.
func (q Query) NamedMembershipTypesFor(member EntityRef, name string) []MembershipType {
	if name == "" {
		return nil
	}
	return distinctTypes(q.selectRecords(domain.And(domain.MemberIs(member), domain.GroupNamed(name))))
}

func distinctTypes(records []MembershipRecord) []MembershipType {
	seen := make(map[MembershipType]struct{}, len(records))
	out := make([]MembershipType, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Type]; ok {
			continue
		}
		seen[r.Type] = struct{}{}
		out = append(out, r.Type)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
