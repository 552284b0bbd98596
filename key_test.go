package datastore

import (
	"testing"
)

func TestKey_String(t *testing.T) {
	key := IDKey("Child", 42, NameKey("Parent", "p1", nil))

	if v := key.String(); v != "/Parent,p1/Child,42" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := (*Key)(nil).String(); v != "" {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestKey_Valid(t *testing.T) {
	root := NameKey("Root", "r", nil)

	cases := []struct {
		name string
		key  *Key
		want bool
	}{
		{"nil", nil, false},
		{"incomplete root", IncompleteKey("A", nil), true},
		{"named", NameKey("A", "a", root), true},
		{"no kind", &Key{Name: "a"}, false},
		{"id and name", &Key{Kind: "A", ID: 1, Name: "a"}, false},
		{"incomplete parent", IDKey("A", 1, IncompleteKey("P", nil)), false},
		{"namespace mismatch", &Key{Kind: "A", ID: 1, Namespace: "ns", Parent: root}, false},
	}

	for _, c := range cases {
		if v := c.key.Valid(); v != c.want {
			t.Errorf("%s: unexpected: %v", c.name, v)
		}
	}
}

func TestKey_Equal(t *testing.T) {
	a := IDKey("A", 1, NameKey("P", "p", nil))
	b := IDKey("A", 1, NameKey("P", "p", nil))

	if !a.Equal(b) {
		t.Fatal("unexpected: not equal")
	}

	b.Parent.Name = "q"
	if a.Equal(b) {
		t.Fatal("unexpected: equal")
	}
	if a.Equal(IDKey("A", 1, nil)) {
		t.Fatal("unexpected: equal")
	}
	if !(*Key)(nil).Equal(nil) {
		t.Fatal("unexpected: not equal")
	}
}

func TestKey_Path(t *testing.T) {
	root := NameKey("Root", "r", nil)
	mid := IDKey("Mid", 2, root)
	leaf := IncompleteKey("Leaf", mid)

	path := leaf.Path()
	if v := len(path); v != 3 {
		t.Fatalf("unexpected: %v", v)
	}
	if path[0] != root || path[1] != mid || path[2] != leaf {
		t.Fatalf("unexpected: %v", path)
	}
	if v := leaf.Root(); v != root {
		t.Fatalf("unexpected: %v", v)
	}
	if v := leaf.Incomplete(); !v {
		t.Fatalf("unexpected: %v", v)
	}
}
