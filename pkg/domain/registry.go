package domain

import (
	"fmt"
	"sort"
)

// GroupKindDescriptor declares the membership capabilities of a concrete
// group kind: which member kinds its typed relation accepts and whether the
// kind may itself belong to other groups.
type GroupKindDescriptor struct {
	kind     string
	accepts  map[string]struct{}
	asMember bool
}

// Kind returns the group kind name.
func (d GroupKindDescriptor) Kind() string { return d.kind }

// Open reports whether the capability set is unrestricted.
func (d GroupKindDescriptor) Open() bool { return len(d.accepts) == 0 }

// Accepts reports whether the typed relation admits the given member kind.
func (d GroupKindDescriptor) Accepts(memberKind string) bool {
	if d.Open() {
		return true
	}
	_, ok := d.accepts[memberKind]
	return ok
}

// AsMember reports whether entities of this group kind may themselves be
// members of other groups.
func (d GroupKindDescriptor) AsMember() bool { return d.asMember }

// MemberKinds returns the capability set in sorted order. Empty means open.
func (d GroupKindDescriptor) MemberKinds() []string {
	out := make([]string, 0, len(d.accepts))
	for k := range d.accepts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KindRegistry maps group kind names to their descriptors. It is built once
// at application start-up via RegistryBuilder and immutable thereafter.
type KindRegistry struct {
	groups map[string]GroupKindDescriptor
}

// Group looks up the descriptor registered for a group kind.
func (r *KindRegistry) Group(kind string) (GroupKindDescriptor, bool) {
	if r == nil {
		return GroupKindDescriptor{}, false
	}
	d, ok := r.groups[kind]
	return d, ok
}

// GroupKinds returns registered group kind names in sorted order.
func (r *KindRegistry) GroupKinds() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.groups))
	for k := range r.groups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RegistryBuilder accumulates group kind declarations during start-up.
type RegistryBuilder struct {
	groups map[string]*GroupKindBuilder
	order  []string
}

// NewRegistryBuilder constructs an empty registry builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{groups: make(map[string]*GroupKindBuilder)}
}

// Group declares a group kind and returns its builder for fluent
// configuration. Declaring the same kind twice returns the same builder.
func (b *RegistryBuilder) Group(kind string) *GroupKindBuilder {
	if gb, ok := b.groups[kind]; ok {
		return gb
	}
	gb := &GroupKindBuilder{kind: kind}
	b.groups[kind] = gb
	b.order = append(b.order, kind)
	return gb
}

// Build validates the declarations and returns an immutable registry.
func (b *RegistryBuilder) Build() (*KindRegistry, error) {
	groups := make(map[string]GroupKindDescriptor, len(b.groups))
	for _, kind := range b.order {
		gb := b.groups[kind]
		if kind == "" {
			return nil, fmt.Errorf("group kind name cannot be empty")
		}
		accepts := make(map[string]struct{}, len(gb.accepts))
		for _, mk := range gb.accepts {
			if mk == "" {
				return nil, fmt.Errorf("group kind %q accepts an empty member kind", kind)
			}
			accepts[mk] = struct{}{}
		}
		groups[kind] = GroupKindDescriptor{kind: kind, accepts: accepts, asMember: gb.asMember}
	}
	return &KindRegistry{groups: groups}, nil
}

// GroupKindBuilder configures a single group kind declaration.
type GroupKindBuilder struct {
	kind     string
	accepts  []string
	asMember bool
}

// Accepts restricts the typed relation to the listed member kinds. Calling
// it multiple times extends the capability set. A kind that never calls
// Accepts keeps an open capability set.
func (b *GroupKindBuilder) Accepts(memberKinds ...string) *GroupKindBuilder {
	b.accepts = append(b.accepts, memberKinds...)
	return b
}

// AsMember allows entities of this group kind to belong to other groups.
func (b *GroupKindBuilder) AsMember() *GroupKindBuilder {
	b.asMember = true
	return b
}
