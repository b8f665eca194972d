package imports

import "testing"

func TestKeyArgsRoundTrip(t *testing.T) {
	args := []string{"a", "", "b:c", "longer argument value"}
	k := NewLibraryKey("Some.Module", args)

	got := k.Args()
	if len(got) != len(args) {
		t.Fatalf("got %d args, want %d", len(got), len(args))
	}
	for i := range args {
		if got[i] != args[i] {
			t.Fatalf("arg %d: got %q, want %q", i, got[i], args[i])
		}
	}
}

func TestKeyArgOrderSignificant(t *testing.T) {
	k1 := NewLibraryKey("Mod", []string{"a", "b"})
	k2 := NewLibraryKey("Mod", []string{"b", "a"})
	if k1 == k2 {
		t.Fatalf("keys with reordered args must not collide")
	}
}

func TestKeyNoSeparatorCollision(t *testing.T) {
	// Two argument lists that would collide under a naive separator-joined
	// encoding ("a,b" vs "a","b" joined by ",") must still produce distinct
	// keys once length-prefixed.
	k1 := NewLibraryKey("Mod", []string{"a,b"})
	k2 := NewLibraryKey("Mod", []string{"a", "b"})
	if k1 == k2 {
		t.Fatalf("expected distinct keys for distinct argument lists")
	}
}

func TestResourceKeyHasNoArgs(t *testing.T) {
	k := NewResourceKey("/a/b.resource")
	if len(k.Args()) != 0 {
		t.Fatalf("expected resource key to carry no arguments")
	}
}

func TestKeyEqualityForIdenticalInputs(t *testing.T) {
	k1 := NewVariablesKey("vars.py", []string{"x", "y"})
	k2 := NewVariablesKey("vars.py", []string{"x", "y"})
	if k1 != k2 {
		t.Fatalf("expected identical key construction to compare equal, usable as a map key")
	}

	m := map[Key]int{k1: 1}
	if _, ok := m[k2]; !ok {
		t.Fatalf("expected Key to be usable as a comparable map key")
	}
}
