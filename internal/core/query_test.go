package core

import (
	"context"
	"errors"
	"testing"

	"groupcore/pkg/domain"
)

func queryFixture(t *testing.T) (*Service, map[string]EntityRef) {
	t.Helper()
	builder := NewRegistryBuilder()
	builder.Group("team").Accepts("user")
	builder.Group("classroom").Accepts("user")
	registry, err := builder.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	svc := NewInMemoryService(registry)
	ctx := context.Background()

	refs := make(map[string]EntityRef)
	create := func(name, kind string) *Entity {
		e, _, err := svc.CreateEntity(ctx, Entity{Kind: kind, Name: name})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		refs[name] = e.Ref()
		return &e
	}

	alice := create("alice", "user")
	bob := create("bob", "user")
	carol := create("carol", "user")
	platform := create("platform", "team")
	tools := create("tools", "team")
	mathClass := create("math", "classroom")

	add := func(member, group *Entity, opts ...MembershipOption) {
		if _, _, err := svc.AddMembers(ctx, group, []*Entity{member}, opts...); err != nil {
			t.Fatalf("add %s to %s: %v", member.Name, group.Name, err)
		}
	}
	add(alice, platform)
	add(alice, platform, WithType("manager"))
	add(alice, tools)
	add(bob, platform)
	add(carol, mathClass)
	if _, _, err := svc.AddToNamedGroups(ctx, alice, []string{"admins", "oncall"}); err != nil {
		t.Fatalf("named groups: %v", err)
	}
	if _, _, err := svc.AddToNamedGroups(ctx, bob, []string{"admins"}); err != nil {
		t.Fatalf("named groups: %v", err)
	}
	return svc, refs
}

func TestQueryMembershipCombinators(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	if !q.InGroup(refs["alice"], refs["platform"]) {
		t.Fatalf("alice is in platform")
	}
	if q.InGroup(refs["carol"], refs["platform"]) {
		t.Fatalf("carol is not in platform")
	}
	if q.InGroup(EntityRef{}, refs["platform"]) {
		t.Fatalf("zero member ref is never a member")
	}

	if !q.InAnyGroup(refs["bob"], refs["platform"], refs["tools"]) {
		t.Fatalf("bob is in platform")
	}
	if q.InAnyGroup(refs["bob"]) {
		t.Fatalf("ANY over the empty set is false")
	}

	if !q.InAllGroups(refs["alice"], refs["platform"], refs["tools"]) {
		t.Fatalf("alice is in both teams")
	}
	if q.InAllGroups(refs["bob"], refs["platform"], refs["tools"]) {
		t.Fatalf("bob is not in tools")
	}
	if !q.InAllGroups(refs["bob"]) {
		t.Fatalf("ALL over the empty set is vacuously true")
	}
	// Duplicates never change the outcome.
	if !q.InAllGroups(refs["alice"], refs["platform"], refs["platform"], refs["tools"]) {
		t.Fatalf("duplicate groups must not affect ALL")
	}
}

func TestQueryOnlyGroupsIsExact(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	if !q.InOnlyGroups(refs["alice"], refs["platform"], refs["tools"]) {
		t.Fatalf("alice's group set is exactly {platform, tools}")
	}
	if q.InOnlyGroups(refs["alice"], refs["platform"]) {
		t.Fatalf("ONLY fails when the member has extra groups")
	}
	if q.InOnlyGroups(refs["bob"], refs["platform"], refs["tools"]) {
		t.Fatalf("ONLY fails when a listed group is missing")
	}
	if !q.InOnlyGroups(refs["bob"], refs["platform"]) {
		t.Fatalf("bob's group set is exactly {platform}")
	}
}

func TestQueryKindDisambiguation(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	// team and classroom ids overlap: platform is team/1, math is classroom/1.
	if refs["platform"].ID != refs["math"].ID {
		t.Skipf("fixture ids diverged: %v vs %v", refs["platform"], refs["math"])
	}
	members := q.MembersInGroup(refs["math"])
	if len(members) != 1 || members[0] != refs["carol"] {
		t.Fatalf("classroom/1 must not absorb team/1 members, got %v", members)
	}
}

func TestQueryCollectionsAreDistinct(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	// alice holds two roles in platform yet appears once.
	members := q.MembersInGroup(refs["platform"])
	if len(members) != 2 {
		t.Fatalf("expected alice and bob once each, got %v", members)
	}

	all := q.MembersInAllGroups(refs["platform"], refs["tools"])
	if len(all) != 1 || all[0] != refs["alice"] {
		t.Fatalf("only alice is in both teams, got %v", all)
	}

	only := q.MembersInOnlyGroups(refs["platform"])
	if len(only) != 1 || only[0] != refs["bob"] {
		t.Fatalf("only bob is in exactly {platform}, got %v", only)
	}

	groups := q.GroupsOf(refs["alice"])
	if len(groups) != 2 {
		t.Fatalf("alice belongs to two persisted groups, got %v", groups)
	}
}

func TestQueryTypeFilter(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	managers := q.As("manager").MembersInGroup(refs["platform"])
	if len(managers) != 1 || managers[0] != refs["alice"] {
		t.Fatalf("only alice is a manager, got %v", managers)
	}
	if q.As("manager").InGroup(refs["bob"], refs["platform"]) {
		t.Fatalf("bob holds no manager role")
	}
	if !q.As("manager").InOnlyGroups(refs["alice"], refs["platform"]) {
		t.Fatalf("alice manages exactly {platform}")
	}

	types := q.MembershipTypesFor(refs["alice"], refs["platform"])
	if len(types) != 2 || types[0] != Untyped || types[1] != MembershipType("manager") {
		t.Fatalf("expected sorted [untyped manager], got %v", types)
	}
}

func TestQuerySharesAnyGroup(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	if !q.SharesAnyGroup(refs["alice"], refs["bob"]) {
		t.Fatalf("alice and bob share platform")
	}
	if q.SharesAnyGroup(refs["alice"], refs["carol"]) {
		t.Fatalf("alice and carol share nothing")
	}
	if q.SharesAnyGroup(refs["alice"], EntityRef{}) {
		t.Fatalf("zero ref shares nothing")
	}
}

func TestQueryNamedGroups(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	if !q.InNamedGroup(refs["alice"], "admins") {
		t.Fatalf("alice is an admin")
	}
	if q.InNamedGroup(refs["carol"], "admins") {
		t.Fatalf("carol is not an admin")
	}
	if q.InNamedGroup(refs["alice"], "") {
		t.Fatalf("empty name matches nothing")
	}
	if !q.InAllNamedGroups(refs["alice"], "admins", "oncall") {
		t.Fatalf("alice is in both named groups")
	}
	if q.InAllNamedGroups(refs["bob"], "admins", "oncall") {
		t.Fatalf("bob is not on call")
	}
	if !q.InOnlyNamedGroups(refs["bob"], "admins") {
		t.Fatalf("bob's named set is exactly {admins}")
	}
	if !q.SharesAnyNamedGroup(refs["alice"], refs["bob"]) {
		t.Fatalf("alice and bob share admins")
	}

	members := q.MembersInNamedGroup("admins")
	if len(members) != 2 {
		t.Fatalf("admins has two members, got %v", members)
	}
	names := q.NamedGroupsOf(refs["alice"])
	if len(names) != 2 || names[0] != "admins" || names[1] != "oncall" {
		t.Fatalf("expected sorted [admins oncall], got %v", names)
	}

	// Named groups never leak into persisted-group results.
	for _, g := range q.GroupsOf(refs["alice"]) {
		if g.IsZero() {
			t.Fatalf("named membership leaked into GroupsOf: %v", g)
		}
	}
}

func TestQueryRecords(t *testing.T) {
	svc, refs := queryFixture(t)
	q := svc.Query()

	records := q.Records(refs["platform"], refs["tools"])
	if len(records) != 4 {
		t.Fatalf("expected 4 records across both teams, got %d", len(records))
	}
	for _, r := range records {
		if r.Named() {
			t.Fatalf("Records must not include named memberships")
		}
	}
}

func TestQueryMergeComposition(t *testing.T) {
	svc, refs := queryFixture(t)

	merged, err := svc.Query().Merge(svc.Query().As("manager"))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.InGroup(refs["bob"], refs["platform"]) {
		t.Fatalf("merged query must carry the manager filter")
	}

	if _, err := svc.Query().Merge(Query{}); !errors.Is(err, domain.ErrInvalidQueryComposition) {
		t.Fatalf("expected ErrInvalidQueryComposition, got %v", err)
	}
	if _, err := (Query{}).Merge(svc.Query()); !errors.Is(err, domain.ErrInvalidQueryComposition) {
		t.Fatalf("expected ErrInvalidQueryComposition, got %v", err)
	}
}

func TestQueryKindNarrowing(t *testing.T) {
	svc, refs := queryFixture(t)
	ctx := context.Background()

	bot, _, err := svc.CreateEntity(ctx, Entity{Kind: "bot", Name: "deploybot"})
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	if _, err := svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		_, txErr := tx.AddMembership(bot.Ref(), refs["platform"], Untyped, RelationPolymorphic)
		return txErr
	}); err != nil {
		t.Fatalf("add bot: %v", err)
	}

	users := svc.Query().Kind("user").MembersInGroup(refs["platform"])
	for _, m := range users {
		if m.Kind != "user" {
			t.Fatalf("kind narrowing leaked %v", m)
		}
	}
	bots := svc.Query().Kind("bot").MembersInGroup(refs["platform"])
	if len(bots) != 1 || bots[0] != bot.Ref() {
		t.Fatalf("expected only the bot, got %v", bots)
	}
}
