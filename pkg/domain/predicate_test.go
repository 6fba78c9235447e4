package domain

import "testing"

func record(member, group EntityRef, typ MembershipType) MembershipRecord {
	return MembershipRecord{Member: member, Group: group, Type: typ}
}

func namedRecord(member EntityRef, name string, typ MembershipType) MembershipRecord {
	return MembershipRecord{Member: member, GroupName: name, Type: typ}
}

func TestPredicateKindDisambiguation(t *testing.T) {
	user := EntityRef{Kind: "user", ID: 10}
	team := EntityRef{Kind: "team", ID: 10}
	classroom := EntityRef{Kind: "classroom", ID: 10}

	inTeam := record(user, team, Untyped)
	inClassroom := record(user, classroom, Untyped)

	p := GroupIs(team)
	if !p.Matches(inTeam) {
		t.Fatalf("GroupIs(team/10) must match the team record")
	}
	if p.Matches(inClassroom) {
		t.Fatalf("GroupIs(team/10) must not match classroom/10 despite the shared id")
	}

	in := GroupIn(team, classroom)
	if !in.Matches(inTeam) || !in.Matches(inClassroom) {
		t.Fatalf("GroupIn must match both kinds")
	}
}

func TestPredicateZeroRefsMatchNothing(t *testing.T) {
	rec := record(EntityRef{Kind: "user", ID: 1}, EntityRef{Kind: "team", ID: 2}, Untyped)
	if MemberIs(EntityRef{}).Matches(rec) {
		t.Fatalf("zero member ref must match nothing")
	}
	if GroupIn().Matches(rec) {
		t.Fatalf("empty GroupIn must match nothing")
	}
	if GroupNamed("").Matches(namedRecord(rec.Member, "admins", Untyped)) {
		t.Fatalf("empty group name must match nothing")
	}
}

func TestPredicateTypeIn(t *testing.T) {
	user := EntityRef{Kind: "user", ID: 1}
	team := EntityRef{Kind: "team", ID: 2}
	manager := record(user, team, "manager")
	untyped := record(user, team, Untyped)

	p := TypeIn("manager")
	if !p.Matches(manager) {
		t.Fatalf("TypeIn(manager) must match the manager record")
	}
	if p.Matches(untyped) {
		t.Fatalf("TypeIn(manager) must not match the untyped record")
	}

	// Empty lists mean any type, including untyped.
	if !TypeIn().Matches(untyped) || !TypeIn().Matches(manager) {
		t.Fatalf("empty TypeIn must match every record")
	}
	if !TypeIn(Untyped).Matches(untyped) {
		t.Fatalf("TypeIn(Untyped) must match the untyped record")
	}
	if TypeIn(Untyped).Matches(manager) {
		t.Fatalf("TypeIn(Untyped) must not match a role record")
	}
}

func TestPredicateComposition(t *testing.T) {
	user := EntityRef{Kind: "user", ID: 1}
	team := EntityRef{Kind: "team", ID: 2}
	rec := record(user, team, "manager")

	if !And(MemberIs(user), GroupIs(team), TypeIn("manager")).Matches(rec) {
		t.Fatalf("conjunction must match")
	}
	if And(MemberIs(user), GroupIs(EntityRef{Kind: "team", ID: 3})).Matches(rec) {
		t.Fatalf("conjunction with non-matching clause must not match")
	}
	if !Or(GroupIs(EntityRef{Kind: "team", ID: 3}), MemberIs(user)).Matches(rec) {
		t.Fatalf("disjunction with one matching clause must match")
	}
	if Not(MemberIs(user)).Matches(rec) {
		t.Fatalf("negation must invert the match")
	}
	if !MemberKindIs("user").Matches(rec) || MemberKindIs("bot").Matches(rec) {
		t.Fatalf("MemberKindIs must filter on the member kind")
	}
}

func TestDistinctMembersPreservesOrder(t *testing.T) {
	alice := EntityRef{Kind: "user", ID: 1}
	bob := EntityRef{Kind: "user", ID: 2}
	team := EntityRef{Kind: "team", ID: 1}

	records := []MembershipRecord{
		record(alice, team, Untyped),
		record(alice, team, "manager"),
		record(bob, team, Untyped),
		record(alice, team, "owner"),
	}
	members := DistinctMembers(records)
	if len(members) != 2 {
		t.Fatalf("expected 2 distinct members, got %d", len(members))
	}
	if members[0] != alice || members[1] != bob {
		t.Fatalf("expected first-seen order [alice bob], got %v", members)
	}
}

func TestMembershipRecordKeys(t *testing.T) {
	user := EntityRef{Kind: "user", ID: 1}
	team := EntityRef{Kind: "team", ID: 2}

	persisted := record(user, team, "manager")
	named := namedRecord(user, "admins", Untyped)

	if persisted.Named() || !named.Named() {
		t.Fatalf("Named must reflect the group side")
	}
	if persisted.Key() == record(user, team, Untyped).Key() {
		t.Fatalf("records differing in type must have distinct keys")
	}
	if persisted.GroupKey() == named.GroupKey() {
		t.Fatalf("persisted and named group keys must not collide")
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var res Result
	if res.HasBlocking() {
		t.Fatalf("empty result must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "r", Severity: SeverityWarn}}})
	if res.HasBlocking() {
		t.Fatalf("warn severity must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "r", Severity: SeverityBlock}}})
	if !res.HasBlocking() {
		t.Fatalf("block severity must block")
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected merged violations, got %d", len(res.Violations))
	}
}
