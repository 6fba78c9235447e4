package domain

import "testing"

func TestRegistryBuilderCapabilities(t *testing.T) {
	builder := NewRegistryBuilder()
	builder.Group("team").Accepts("user").AsMember()
	builder.Group("directory")

	registry, err := builder.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	team, ok := registry.Group("team")
	if !ok {
		t.Fatalf("expected team descriptor")
	}
	if team.Open() {
		t.Fatalf("team declared a capability set, must not be open")
	}
	if !team.Accepts("user") {
		t.Fatalf("team must accept user")
	}
	if team.Accepts("widget") {
		t.Fatalf("team must reject widget")
	}
	if !team.AsMember() {
		t.Fatalf("team declared AsMember")
	}

	directory, ok := registry.Group("directory")
	if !ok {
		t.Fatalf("expected directory descriptor")
	}
	if !directory.Open() {
		t.Fatalf("directory has no capability set, must be open")
	}
	if !directory.Accepts("anything") {
		t.Fatalf("open kind must accept any member kind")
	}
	if directory.AsMember() {
		t.Fatalf("directory never declared AsMember")
	}
}

func TestRegistryBuilderAcceptsAccumulates(t *testing.T) {
	builder := NewRegistryBuilder()
	builder.Group("team").Accepts("user").Accepts("bot", "service")
	registry, err := builder.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	team, _ := registry.Group("team")
	kinds := team.MemberKinds()
	want := []string{"bot", "service", "user"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestRegistryBuilderRejectsEmptyNames(t *testing.T) {
	builder := NewRegistryBuilder()
	builder.Group("")
	if _, err := builder.Build(); err == nil {
		t.Fatalf("expected error for empty group kind")
	}

	builder = NewRegistryBuilder()
	builder.Group("team").Accepts("")
	if _, err := builder.Build(); err == nil {
		t.Fatalf("expected error for empty member kind")
	}
}

func TestNilRegistryLookups(t *testing.T) {
	var registry *KindRegistry
	if _, ok := registry.Group("team"); ok {
		t.Fatalf("nil registry must not resolve descriptors")
	}
	if kinds := registry.GroupKinds(); len(kinds) != 0 {
		t.Fatalf("nil registry must list no kinds, got %v", kinds)
	}
}
