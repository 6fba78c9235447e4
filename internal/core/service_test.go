package core

import (
	"context"
	"errors"
	"testing"

	"groupcore/pkg/domain"
)

func serviceRegistry(t *testing.T) *KindRegistry {
	t.Helper()
	builder := NewRegistryBuilder()
	builder.Group("team").Accepts("user")
	builder.Group("squad").Accepts("user", "squad").AsMember()
	builder.Group("committee").Accepts("user")
	registry, err := builder.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return registry
}

func TestAddMembersPersistsUnsavedEntities(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	group := &Entity{Kind: "team", Name: "platform"}
	alice := &Entity{Kind: "user", Name: "alice"}
	bob := &Entity{Kind: "user", Name: "bob"}

	records, _, err := svc.AddMembers(ctx, group, []*Entity{alice, bob})
	if err != nil {
		t.Fatalf("add members: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !group.Persisted() || !alice.Persisted() || !bob.Persisted() {
		t.Fatalf("unsaved entities must come back with ids: group=%d alice=%d bob=%d", group.ID, alice.ID, bob.ID)
	}
	if _, ok := svc.GetEntity(group.Ref()); !ok {
		t.Fatalf("group must be committed")
	}
	if !svc.Query().InGroup(alice.Ref(), group.Ref()) {
		t.Fatalf("membership must be committed")
	}
}

func TestAddMembersWithRoles(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	group := &Entity{Kind: "team", Name: "platform"}
	alice := &Entity{Kind: "user", Name: "alice"}

	records, _, err := svc.AddMembers(ctx, group, []*Entity{alice}, WithType("manager"), WithType("owner"))
	if err != nil {
		t.Fatalf("add with roles: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("two roles yield two records, got %d", len(records))
	}
	types := svc.Query().MembershipTypesFor(alice.Ref(), group.Ref())
	if len(types) != 2 {
		t.Fatalf("expected manager and owner, got %v", types)
	}
}

func TestAddMembersTypedRelationRejectsForeignKind(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	group := &Entity{Kind: "team", Name: "platform"}
	widget := &Entity{Kind: "widget", Name: "gear"}

	_, _, err := svc.AddMembers(ctx, group, []*Entity{widget}, ViaTypedRelation())
	if !domain.IsCapabilityError(err) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	// The aborted transaction must leave the caller's entities unsaved: ids
	// flow back only on commit.
	if group.Persisted() || widget.Persisted() {
		t.Fatalf("aborted add must not assign ids: group=%d widget=%d", group.ID, widget.ID)
	}
}

func TestAddMembersRetryAfterAbortedTypedAdd(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	group := &Entity{Kind: "team", Name: "platform"}
	widget := &Entity{Kind: "widget", Name: "gear"}

	if _, _, err := svc.AddMembers(ctx, group, []*Entity{widget}, ViaTypedRelation()); !domain.IsCapabilityError(err) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}

	// A permissive retry with the same pointers must auto-save both entities
	// and commit the membership.
	records, _, err := svc.AddMembers(ctx, group, []*Entity{widget})
	if err != nil {
		t.Fatalf("permissive retry: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if !group.Persisted() || !widget.Persisted() {
		t.Fatalf("retry must assign ids: group=%d widget=%d", group.ID, widget.ID)
	}
	if _, ok := svc.GetEntity(widget.Ref()); !ok {
		t.Fatalf("retried member must be committed")
	}
	if !svc.Query().InGroup(widget.Ref(), group.Ref()) {
		t.Fatalf("retried membership must be committed")
	}

	// The aborted attempt also rolled back the id sequences, so a fresh
	// entity of the same kind must not alias the retried one.
	other, _, err := svc.CreateEntity(ctx, Entity{Kind: "widget", Name: "cog"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if other.Ref() == widget.Ref() {
		t.Fatalf("id %d reused across distinct widgets", other.ID)
	}
}

func TestAddToGroupsAbortedWriteLeavesEntitiesUnsaved(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	widget := &Entity{Kind: "widget", Name: "gear"}
	group := &Entity{Kind: "team", Name: "platform"}

	if _, _, err := svc.AddToGroups(ctx, widget, []*Entity{group}, ViaTypedRelation()); !domain.IsCapabilityError(err) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if widget.Persisted() || group.Persisted() {
		t.Fatalf("aborted add must not assign ids: widget=%d group=%d", widget.ID, group.ID)
	}
}

func TestAddToGroupsAndRemove(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	alice := &Entity{Kind: "user", Name: "alice"}
	platform := &Entity{Kind: "team", Name: "platform"}
	tools := &Entity{Kind: "team", Name: "tools"}

	if _, _, err := svc.AddToGroups(ctx, alice, []*Entity{platform, tools}, WithType("member")); err != nil {
		t.Fatalf("add to groups: %v", err)
	}
	if got := svc.Query().GroupsOf(alice.Ref()); len(got) != 2 {
		t.Fatalf("expected two groups, got %v", got)
	}

	if _, err := svc.RemoveMember(ctx, platform.Ref(), alice.Ref(), "member"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if svc.Query().InGroup(alice.Ref(), platform.Ref()) {
		t.Fatalf("alice must be out of platform")
	}
	if !svc.Query().InGroup(alice.Ref(), tools.Ref()) {
		t.Fatalf("alice must remain in tools")
	}

	// Removing an absent membership stays a no-op.
	if _, err := svc.RemoveMember(ctx, platform.Ref(), alice.Ref()); err != nil {
		t.Fatalf("removing absent membership must not error: %v", err)
	}
}

func TestNamedGroupLifecycle(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	alice := &Entity{Kind: "user", Name: "alice"}
	if _, _, err := svc.AddToNamedGroups(ctx, alice, []string{"admins"}, WithType("owner")); err != nil {
		t.Fatalf("add named: %v", err)
	}
	if !svc.Query().As("owner").InNamedGroup(alice.Ref(), "admins") {
		t.Fatalf("alice owns admins")
	}
	if _, err := svc.RemoveFromNamedGroup(ctx, alice.Ref(), "admins", "owner"); err != nil {
		t.Fatalf("remove named: %v", err)
	}
	if svc.Query().InNamedGroup(alice.Ref(), "admins") {
		t.Fatalf("alice must be out of admins")
	}

	// A named group requires a name.
	if _, _, err := svc.AddToNamedGroups(ctx, alice, []string{""}); err == nil {
		t.Fatalf("empty group name must be rejected")
	}
}

func TestClearMembershipsAndClearGroup(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	alice := &Entity{Kind: "user", Name: "alice"}
	bob := &Entity{Kind: "user", Name: "bob"}
	platform := &Entity{Kind: "team", Name: "platform"}

	if _, _, err := svc.AddMembers(ctx, platform, []*Entity{alice, bob}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := svc.AddToNamedGroups(ctx, alice, []string{"admins"}); err != nil {
		t.Fatalf("seed named: %v", err)
	}

	if _, err := svc.ClearMemberships(ctx, alice.Ref()); err != nil {
		t.Fatalf("clear memberships: %v", err)
	}
	if got := len(svc.Store().SelectMemberships(domain.MemberIs(alice.Ref()))); got != 0 {
		t.Fatalf("alice must hold no records, got %d", got)
	}
	if _, ok := svc.GetEntity(alice.Ref()); !ok {
		t.Fatalf("clearing memberships keeps the member entity")
	}

	if _, err := svc.ClearGroup(ctx, platform.Ref()); err != nil {
		t.Fatalf("clear group: %v", err)
	}
	if got := len(svc.Store().SelectMemberships(domain.GroupIs(platform.Ref()))); got != 0 {
		t.Fatalf("platform must hold no records, got %d", got)
	}
	if _, ok := svc.GetEntity(platform.Ref()); !ok {
		t.Fatalf("clearing a group keeps the group entity")
	}
}

func TestServiceMerge(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	alice := &Entity{Kind: "user", Name: "alice"}
	bob := &Entity{Kind: "user", Name: "bob"}
	dst := &Entity{Kind: "team", Name: "platform"}
	src := &Entity{Kind: "team", Name: "tools"}

	if _, _, err := svc.AddMembers(ctx, dst, []*Entity{alice}); err != nil {
		t.Fatalf("seed dst: %v", err)
	}
	if _, _, err := svc.AddMembers(ctx, src, []*Entity{alice, bob}, WithType("manager")); err != nil {
		t.Fatalf("seed src: %v", err)
	}

	if _, err := svc.Merge(ctx, dst.Ref(), src.Ref()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, ok := svc.GetEntity(src.Ref()); ok {
		t.Fatalf("source must be gone")
	}
	if !svc.Query().As("manager").InGroup(bob.Ref(), dst.Ref()) {
		t.Fatalf("bob's manager role must move to destination")
	}
	retired := svc.Store().RetiredGroups()
	if len(retired) != 1 || retired[0] != src.Ref() {
		t.Fatalf("source must be retired, got %v", retired)
	}
}

func TestServiceMergeTypedAbortsOnIncompatibleMember(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	alice := &Entity{Kind: "user", Name: "alice"}
	widget := &Entity{Kind: "widget", Name: "gear"}
	dst := &Entity{Kind: "team", Name: "platform"}
	src := &Entity{Kind: "committee", Name: "legacy"}

	if _, _, err := svc.AddMembers(ctx, src, []*Entity{alice, widget}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := svc.AddMembers(ctx, dst, []*Entity{}); err != nil {
		t.Fatalf("seed dst: %v", err)
	}

	_, err := svc.Merge(ctx, dst.Ref(), src.Ref(), StrictMerge())
	if !domain.IsCapabilityError(err) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if _, ok := svc.GetEntity(src.Ref()); !ok {
		t.Fatalf("aborted merge keeps the source group")
	}
	if got := len(svc.Store().SelectMemberships(domain.GroupIs(src.Ref()))); got != 2 {
		t.Fatalf("aborted merge keeps source records, got %d", got)
	}
}

func TestComposabilityRuleBlocksNonComposableGroupMembers(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	// squad is declared AsMember, team is not.
	parent := &Entity{Kind: "squad", Name: "umbrella"}
	childSquad := &Entity{Kind: "squad", Name: "alpha"}
	team := &Entity{Kind: "team", Name: "platform"}

	if _, _, err := svc.AddMembers(ctx, parent, []*Entity{childSquad}); err != nil {
		t.Fatalf("composable squad must nest: %v", err)
	}

	var rv RuleViolationError
	_, res, err := svc.AddMembers(ctx, parent, []*Entity{team})
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("result must carry the blocking violation")
	}
	if team.Persisted() {
		t.Fatalf("blocked add must not assign an id to the auto-saved member")
	}
	if svc.Query().InGroup(team.Ref(), parent.Ref()) {
		t.Fatalf("blocked membership must not commit")
	}
}

func TestServiceEntityLifecycle(t *testing.T) {
	svc := NewInMemoryService(serviceRegistry(t))
	ctx := context.Background()

	created, _, err := svc.CreateEntity(ctx, Entity{Kind: "user", Name: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, _, err := svc.UpdateEntity(ctx, created.Ref(), func(e *Entity) error {
		e.Name = "alice2"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "alice2" {
		t.Fatalf("expected updated name, got %s", updated.Name)
	}
	if _, err := svc.DeleteEntity(ctx, created.Ref()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := svc.GetEntity(created.Ref()); ok {
		t.Fatalf("entity must be gone")
	}
}
