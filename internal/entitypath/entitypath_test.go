package entitypath

import "testing"

func TestParseCollapsesSlashes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/camera/left", "/camera/left"},
		{"camera/left", "/camera/left"},
		{"//camera//left//", "/camera/left"},
	}
	for _, c := range cases {
		got := Parse(c.in).String()
		if got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRootIsEmpty(t *testing.T) {
	if !Root.IsRoot() {
		t.Fatal("Root.IsRoot() = false")
	}
	if Root.Len() != 0 {
		t.Fatalf("Root.Len() = %d, want 0", Root.Len())
	}
	if Root.String() != "/" {
		t.Fatalf("Root.String() = %q, want /", Root.String())
	}
}

func TestChildAndParent(t *testing.T) {
	p := New("camera", "left")
	child := p.Child("points")
	if child.String() != "/camera/left/points" {
		t.Fatalf("Child() = %q, want /camera/left/points", child.String())
	}

	parent, ok := child.Parent()
	if !ok {
		t.Fatal("Parent() ok = false, want true")
	}
	if !parent.Equal(p) {
		t.Fatalf("Parent() = %v, want %v", parent, p)
	}

	_, ok = Root.Parent()
	if ok {
		t.Fatal("Root.Parent() ok = true, want false")
	}
}

func TestEqual(t *testing.T) {
	a := New("x", "y")
	b := Parse("/x/y")
	if !a.Equal(b) {
		t.Fatalf("%v and %v should be equal", a, b)
	}
	if a.Equal(New("x", "z")) {
		t.Fatal("paths with different parts should not be equal")
	}
}

func TestCompareNaturalOrder(t *testing.T) {
	a := Parse("/frame2")
	b := Parse("/frame10")
	if Compare(a, b) >= 0 {
		t.Fatalf("Compare(frame2, frame10) should be negative (natural numeric order)")
	}
}

func TestCompareLexicographicFallback(t *testing.T) {
	a := Parse("/alpha")
	b := Parse("/beta")
	if Compare(a, b) >= 0 {
		t.Fatal("Compare(alpha, beta) should be negative")
	}
	if Compare(b, a) <= 0 {
		t.Fatal("Compare(beta, alpha) should be positive")
	}
	if Compare(a, a) != 0 {
		t.Fatal("Compare(a, a) should be 0")
	}
}

func TestCompareShorterPrefixSortsFirst(t *testing.T) {
	a := Parse("/camera")
	b := Parse("/camera/left")
	if Compare(a, b) >= 0 {
		t.Fatal("shorter path sharing a prefix should sort first")
	}
}

func TestHashKeyUsableAsMapKey(t *testing.T) {
	m := make(map[string]int)
	m[New("a", "b").HashKey()] = 1
	if m[Parse("/a/b").HashKey()] != 1 {
		t.Fatal("HashKey() did not round-trip through a map lookup")
	}
}
