package skill

import (
	"context"
	"errors"
	"testing"
)

func noop(_ context.Context, _ Caller, _ map[string]string) (string, error) {
	return "", nil
}

func TestRegisterAndResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	d := Descriptor{
		Name:        "ADD_NOTE",
		Description: "save a note",
		Params:      []Param{{Name: "content", Kind: KindText, Required: true}},
		Handler:     noop,
	}
	if err := r.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Resolve("ADD_NOTE")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name != d.Name || got.Description != d.Description || len(got.Params) != 1 {
		t.Fatalf("resolved descriptor = %+v", got)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	d := Descriptor{Name: "X", Handler: noop}
	if err := r.Register(d); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := r.Register(d)
	var dup ErrDuplicateCapability
	if !errors.As(err, &dup) || dup.Name != "X" {
		t.Fatalf("second Register = %v, want ErrDuplicateCapability{X}", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Resolve("NOPE")
	var unknown ErrUnknownCapability
	if !errors.As(err, &unknown) || unknown.Name != "NOPE" {
		t.Fatalf("Resolve = %v, want ErrUnknownCapability{NOPE}", err)
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	names := []string{"ZULU", "ALPHA", "MIKE"}
	for _, n := range names {
		if err := r.Register(Descriptor{Name: n, Handler: noop}); err != nil {
			t.Fatalf("Register(%s): %v", n, err)
		}
	}
	got := r.List()
	if len(got) != len(names) {
		t.Fatalf("List returned %d, want %d", len(got), len(names))
	}
	for i, n := range names {
		if got[i].Name != n {
			t.Fatalf("List[%d] = %s, want %s", i, got[i].Name, n)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(Descriptor{Handler: noop}); err == nil {
		t.Fatal("nameless descriptor accepted")
	}
	if err := r.Register(Descriptor{Name: "NO_HANDLER"}); err == nil {
		t.Fatal("handlerless descriptor accepted")
	}
}
