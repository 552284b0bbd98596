package datastore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQuery_Filter(t *testing.T) {
	cases := []struct {
		filterStr string
		want      Filter
	}{
		{"A =", Filter{Property: "A", Op: Equal}},
		{"A=", Filter{Property: "A", Op: Equal}},
		{"A ==", Filter{Property: "A", Op: Equal}},
		{" A != ", Filter{Property: "A", Op: NotEqual}},
		{"A >", Filter{Property: "A", Op: GreaterThan}},
		{"A >=", Filter{Property: "A", Op: GreaterThanOrEqual}},
		{"A <", Filter{Property: "A", Op: LessThan}},
		{"A <=", Filter{Property: "A", Op: LessThanOrEqual}},
		{"Tags in", Filter{Property: "Tags", Op: In}},
		{"Tags not-in", Filter{Property: "Tags", Op: NotIn}},
		{"Sub.Name =", Filter{Property: "Sub.Name", Op: Equal}},
	}

	for _, c := range cases {
		dump, err := NewQuery("A").Filter(c.filterStr, nil).Dump()
		if err != nil {
			t.Errorf("%q: %v", c.filterStr, err)
			continue
		}
		if diff := cmp.Diff([]Filter{c.want}, dump.Filters); diff != "" {
			t.Errorf("%q: unexpected (-want +got):\n%s", c.filterStr, diff)
		}
	}
}

func TestQuery_FilterInvalid(t *testing.T) {
	for _, filterStr := range []string{"", "A", "A <>", "=", "A like"} {
		if _, err := NewQuery("A").Filter(filterStr, 1).Dump(); err == nil {
			t.Errorf("%q: unexpected success", filterStr)
		}
	}
}

func TestQuery_Immutable(t *testing.T) {
	base := NewQuery("A").Filter("X =", 1)
	derived := base.Filter("Y =", 2).Order("-Z").Limit(5)

	baseDump, err := base.Dump()
	if err != nil {
		t.Fatal(err)
	}
	if v := len(baseDump.Filters); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := baseDump.Limit; v != -1 {
		t.Fatalf("unexpected: %v", v)
	}

	derivedDump, err := derived.Dump()
	if err != nil {
		t.Fatal(err)
	}
	if v := len(derivedDump.Filters); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}
	if diff := cmp.Diff([]Order{{Property: "Z", Direction: Descending}}, derivedDump.Orders); diff != "" {
		t.Errorf("unexpected (-want +got):\n%s", diff)
	}
}

func TestQuery_DumpErrors(t *testing.T) {
	cases := map[string]*Query{
		"keys only projection":        NewQuery("A").KeysOnly().Project("B"),
		"distinct without projection": NewQuery("A").DistinctOn("B"),
		"nil ancestor":                NewQuery("A").Ancestor(nil),
		"negative offset":             NewQuery("A").Offset(-1),
		"empty order":                 NewQuery("A").Order("-"),
	}

	for name, q := range cases {
		if _, err := q.Dump(); err == nil {
			t.Errorf("%s: unexpected success", name)
		}
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor([]byte{0xfb, 0xff, 0x01, 0x02, 0x03})

	s := c.String()
	decoded, err := DecodeCursor(s)
	if err != nil {
		t.Fatal(err)
	}
	if v := string(decoded); v != string(c) {
		t.Fatalf("unexpected: %v", decoded)
	}

	if v := Cursor(nil).String(); v != "" {
		t.Fatalf("unexpected: %v", v)
	}
	if v, err := DecodeCursor(""); err != nil || len(v) != 0 {
		t.Fatalf("unexpected: %v, %v", v, err)
	}
	if _, err := DecodeCursor("!!"); err == nil {
		t.Fatal("unexpected success")
	}
}

func TestOperator_String(t *testing.T) {
	if v := GreaterThanOrEqual.String(); v != ">=" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := Operator(99).String(); v != "Operator(99)" {
		t.Fatalf("unexpected: %v", v)
	}
}
