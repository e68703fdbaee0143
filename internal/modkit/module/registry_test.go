package module

import (
	"testing"
)

// simple type used in tests
type portSet struct {
	Name string
	ID   int
}

func TestRegistry_RegisterAndPortsAs_Success(t *testing.T) {
	Reset()

	want := portSet{Name: "importer", ID: 1}
	Register("importer", want)

	got, ok := PortsAs[portSet]("importer")
	if !ok {
		t.Fatal("expected ok for existing name")
	}
	if got != want {
		t.Fatalf("unexpected value got=%v want=%v", got, want)
	}
}

func TestRegistry_PortsAs_MissingReturnsZeroAndFalse(t *testing.T) {
	Reset()

	got, ok := PortsAs[portSet]("missing")
	if ok {
		t.Fatal("expected ok=false for missing name")
	}
	if got != (portSet{}) {
		t.Fatalf("expected zero value got=%v", got)
	}
}

func TestRegistry_PortsAs_TypeMismatchReturnsFalse(t *testing.T) {
	Reset()

	Register("importer", portSet{Name: "importer", ID: 2})

	_, ok := PortsAs[int]("importer")
	if ok {
		t.Fatal("expected ok=false for type mismatch")
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	Reset()

	Register("importer", portSet{ID: 1})
	Register("importer", portSet{ID: 2})

	got, _ := PortsAs[portSet]("importer")
	if got.ID != 2 {
		t.Fatalf("expected last registration to win, got %v", got)
	}
}
