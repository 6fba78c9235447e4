package domain

// Predicate is a composable filter over membership records, the engine's
// abstract query surface against the persistent store. Predicates are built
// only through the constructors in this file.
type Predicate interface {
	Matches(MembershipRecord) bool
	// membership is an unexported marker restricting implementations to this
	// package.
	membership()
}

type predicate struct {
	match func(MembershipRecord) bool
}

func (predicate) membership() {}

func (p predicate) Matches(r MembershipRecord) bool {
	return p.match(r)
}

// refSet holds entity references partitioned per kind so that a numeric id
// is never matched without its kind.
type refSet map[string]map[int64]struct{}

func newRefSet(refs []EntityRef) refSet {
	s := make(refSet)
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		ids, ok := s[ref.Kind]
		if !ok {
			ids = make(map[int64]struct{})
			s[ref.Kind] = ids
		}
		ids[ref.ID] = struct{}{}
	}
	return s
}

func (s refSet) contains(ref EntityRef) bool {
	ids, ok := s[ref.Kind]
	if !ok {
		return false
	}
	_, ok = ids[ref.ID]
	return ok
}

// MemberIs matches records held by the given member. A zero reference
// matches nothing.
func MemberIs(ref EntityRef) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		return !ref.IsZero() && r.Member == ref
	}}
}

// MemberIn matches records held by any of the given members, partitioned per
// kind.
func MemberIn(refs ...EntityRef) Predicate {
	set := newRefSet(refs)
	return predicate{match: func(r MembershipRecord) bool {
		return set.contains(r.Member)
	}}
}

// MemberKindIs matches records held by members of the given kind.
func MemberKindIs(kind string) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		return kind != "" && r.Member.Kind == kind
	}}
}

// GroupIs matches records naming the given persisted group. A zero reference
// matches nothing; named-group records never match.
func GroupIs(ref EntityRef) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		return !ref.IsZero() && !r.Named() && r.Group == ref
	}}
}

// GroupIn matches records naming any of the given persisted groups,
// partitioned per kind so colliding numeric ids across kinds stay distinct.
func GroupIn(refs ...EntityRef) Predicate {
	set := newRefSet(refs)
	return predicate{match: func(r MembershipRecord) bool {
		return !r.Named() && set.contains(r.Group)
	}}
}

// GroupNamed matches records for the given named group.
func GroupNamed(name string) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		return name != "" && r.GroupName == name
	}}
}

// GroupNamedIn matches records for any of the given named groups.
func GroupNamedIn(names ...string) Predicate {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return predicate{match: func(r MembershipRecord) bool {
		if !r.Named() {
			return false
		}
		_, ok := set[r.GroupName]
		return ok
	}}
}

// TypeIn matches records holding any of the given membership types. An empty
// list means any type.
func TypeIn(types ...MembershipType) Predicate {
	if len(types) == 0 {
		return All()
	}
	set := make(map[MembershipType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return predicate{match: func(r MembershipRecord) bool {
		_, ok := set[r.Type]
		return ok
	}}
}

// All matches every membership record.
func All() Predicate {
	return predicate{match: func(MembershipRecord) bool { return true }}
}

// And matches records satisfying every given predicate.
func And(ps ...Predicate) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		for _, p := range ps {
			if p == nil || !p.Matches(r) {
				return false
			}
		}
		return true
	}}
}

// Or matches records satisfying at least one of the given predicates.
func Or(ps ...Predicate) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		for _, p := range ps {
			if p != nil && p.Matches(r) {
				return true
			}
		}
		return false
	}}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return predicate{match: func(r MembershipRecord) bool {
		return p == nil || !p.Matches(r)
	}}
}

// DistinctMembers projects the unique member identities out of a record
// sequence, preserving first-seen order.
func DistinctMembers(records []MembershipRecord) []EntityRef {
	seen := make(map[EntityRef]struct{}, len(records))
	out := make([]EntityRef, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Member]; ok {
			continue
		}
		seen[r.Member] = struct{}{}
		out = append(out, r.Member)
	}
	return out
}
