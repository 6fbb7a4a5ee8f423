// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"errors"
	"slices"
	"testing"

	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/manifest"
)

func testModule(id int64, name, requires string) *module {
	headers := map[string]string{manifest.HeaderSymbolicName: name}
	if requires != "" {
		headers[manifest.HeaderRequireBundle] = requires
	}
	return newModule(nil, id, "loc/"+name, content.NewSystem(headers, nil))
}

func names(modules []*module) []string {
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		out = append(out, m.SymbolicName())
	}
	return out
}

func TestResolve_Empty(t *testing.T) {
	t.Parallel()
	res := resolve(nil, nil)
	if len(res.order) != 0 || len(res.unresolved) != 0 {
		t.Errorf("expected empty resolution, got %v / %v", res.order, res.unresolved)
	}
}

func TestResolve_LinearChain(t *testing.T) {
	t.Parallel()
	// c requires b, b requires a; installed in reverse.
	c := testModule(1, "c", "b")
	b := testModule(2, "b", "a")
	a := testModule(3, "a", "")

	res := resolve([]*module{c, b, a}, nil)
	if len(res.unresolved) != 0 {
		t.Fatalf("unexpected unresolved: %v", res.unresolved)
	}
	expected := []string{"a", "b", "c"}
	if got := names(res.order); !slices.Equal(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestResolve_IndependentKeepInstallOrder(t *testing.T) {
	t.Parallel()
	x := testModule(1, "x", "")
	y := testModule(2, "y", "")
	z := testModule(3, "z", "")

	res := resolve([]*module{x, y, z}, nil)
	expected := []string{"x", "y", "z"}
	if got := names(res.order); !slices.Equal(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestResolve_MissingRequirementPropagates(t *testing.T) {
	t.Parallel()
	a := testModule(1, "a", "missing")
	b := testModule(2, "b", "a")
	c := testModule(3, "c", "")

	res := resolve([]*module{a, b, c}, nil)

	if got := names(res.order); !slices.Equal(got, []string{"c"}) {
		t.Errorf("expected only c resolved, got %v", got)
	}
	for _, m := range []*module{a, b} {
		err := res.unresolved[m]
		if !errors.Is(err, ErrUnresolved) {
			t.Errorf("%s: expected ErrUnresolved, got %v", m, err)
		}
	}
	var unresolvedErr *UnresolvedError
	if !errors.As(res.unresolved[a], &unresolvedErr) {
		t.Fatalf("expected *UnresolvedError, got %T", res.unresolved[a])
	}
	if !slices.Equal(unresolvedErr.Missing, []string{"missing"}) {
		t.Errorf("Missing = %v, want [missing]", unresolvedErr.Missing)
	}
}

func TestResolve_OptionalRequirement(t *testing.T) {
	t.Parallel()
	a := testModule(1, "a", "absent;resolution:=optional")

	res := resolve([]*module{a}, nil)
	if len(res.unresolved) != 0 {
		t.Fatalf("optional requirement should not block resolution: %v", res.unresolved)
	}
	if got := names(res.order); !slices.Equal(got, []string{"a"}) {
		t.Errorf("expected [a], got %v", got)
	}
}

func TestResolve_AvailableSatisfiesRequirement(t *testing.T) {
	t.Parallel()
	base := testModule(1, "base", "")
	late := testModule(2, "late", "base")

	res := resolve([]*module{late}, []*module{base})
	if len(res.unresolved) != 0 {
		t.Fatalf("unexpected unresolved: %v", res.unresolved)
	}
	if got := names(res.order); !slices.Equal(got, []string{"late"}) {
		t.Errorf("expected [late], got %v", got)
	}
}

func TestResolve_Cycle(t *testing.T) {
	t.Parallel()
	a := testModule(1, "a", "b")
	b := testModule(2, "b", "a")
	free := testModule(3, "free", "")

	res := resolve([]*module{a, b, free}, nil)

	if got := names(res.order); !slices.Equal(got, []string{"free"}) {
		t.Errorf("expected [free], got %v", got)
	}
	var cycleErr *CycleError
	if !errors.As(res.unresolved[a], &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", res.unresolved[a])
	}
	if !errors.Is(res.unresolved[b], ErrRequirementCycle) {
		t.Errorf("expected ErrRequirementCycle, got %v", res.unresolved[b])
	}
	if !slices.Equal(cycleErr.Cycle, []string{"a", "b"}) {
		t.Errorf("Cycle = %v, want [a b]", cycleErr.Cycle)
	}
}

func TestResolve_Diamond(t *testing.T) {
	t.Parallel()
	d := testModule(1, "d", "b,c")
	b := testModule(2, "b", "a")
	c := testModule(3, "c", "a")
	a := testModule(4, "a", "")

	res := resolve([]*module{d, b, c, a}, nil)
	order := names(res.order)
	if len(order) != 4 {
		t.Fatalf("expected 4 modules, got %v", order)
	}
	pos := func(n string) int { return slices.Index(order, n) }
	if pos("a") > pos("b") || pos("a") > pos("c") || pos("b") > pos("d") || pos("c") > pos("d") {
		t.Errorf("requirements must precede dependants, got %v", order)
	}
}
