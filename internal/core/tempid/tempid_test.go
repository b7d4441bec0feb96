package tempid

import (
	"strings"
	"testing"

	"wdh/internal/core/normalize"
)

const salt = "unit-test-salt"

func TestNew_Shape(t *testing.T) {
	t.Parallel()

	id := New("北京燃气集团", salt)
	if !strings.HasPrefix(id, Prefix) {
		t.Fatalf("id %q missing prefix %q", id, Prefix)
	}
	if got := len(id) - len(Prefix); got != 16 {
		t.Fatalf("encoded part length = %d, want 16", got)
	}
	if strings.Contains(id[len(Prefix):], "=") {
		t.Fatalf("id %q contains padding", id)
	}
}

func TestNew_Deterministic(t *testing.T) {
	t.Parallel()

	a := New("中国平安", salt)
	b := New("中国平安", salt)
	if a != b {
		t.Fatalf("same input diverged: %q vs %q", a, b)
	}
	if c := New("中国平安", "other-salt"); c == a {
		t.Fatalf("different salt produced same id %q", c)
	}
}

func TestNew_CollidesIffNormalizedEqual(t *testing.T) {
	t.Parallel()

	// these normalize to the same canonical name, so they must collide
	a := New("  中国平安  ", salt)
	b := New("中国平安（注销）", salt)
	if normalize.Name("  中国平安  ") != normalize.Name("中国平安（注销）") {
		t.Fatalf("test precondition: names should normalize equal")
	}
	if a != b {
		t.Fatalf("normalized-equal names got distinct ids %q vs %q", a, b)
	}

	if c := New("中国人寿", salt); c == a {
		t.Fatalf("distinct names collided on %q", c)
	}
}

func TestNew_EmptyNormalizationUsesSentinel(t *testing.T) {
	t.Parallel()

	// a pure status marker collapses to empty and must still hash stably
	a := New("（存量）", salt)
	b := New("（存量）", salt)
	if a != b || !strings.HasPrefix(a, Prefix) {
		t.Fatalf("sentinel hashing unstable: %q vs %q", a, b)
	}
}

func TestForName_PlaceholderRule(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", " ", "\t", "0", "空白"} {
		if id, ok := ForName(raw, salt); ok || id != "" {
			t.Fatalf("ForName(%q) = (%q, %v), want no id", raw, id, ok)
		}
	}

	id, ok := ForName("北京公司", salt)
	if !ok || id == "" {
		t.Fatalf("ForName real name returned (%q, %v)", id, ok)
	}
}

func TestIsTemp(t *testing.T) {
	t.Parallel()

	if !IsTemp(New("x", salt)) {
		t.Fatalf("generated id not recognized as temp")
	}
	if IsTemp("614810477") {
		t.Fatalf("numeric id recognized as temp")
	}
}
