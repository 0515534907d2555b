package shader

import (
	"strings"
	"testing"
)

func TestVariant(t *testing.T) {
	src := Variant("\nvoid main() {}\n", "PASS_FORWARD", "", "LAYOUT_STATIC")
	lines := strings.Split(src, "\n")

	want := []string{
		Version,
		"#define LAYOUT_STATIC",
		"#define PASS_FORWARD",
		"#line 1",
		"void main() {}",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestVariantIsOrderIndependent(t *testing.T) {
	a := Variant("x", "A", "B")
	b := Variant("x", "B", "A")
	if a != b {
		t.Errorf("define order changed source:\n%s\n---\n%s", a, b)
	}
}
