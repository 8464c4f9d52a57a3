package canonicalize

import (
	"testing"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCSString(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"a":1,"b":2}` {
		t.Fatalf("expected sorted keys, got %s", out)
	}
}

func TestJCSNested(t *testing.T) {
	out, err := JCSString(map[string]any{
		"z": map[string]any{"y": "v", "x": "u"},
		"a": []any{3, 2, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":[3,2,1],"z":{"x":"u","y":"v"}}`
	if out != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCSString(map[string]any{"q": "a<b>&c"})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"q":"a<b>&c"}` {
		t.Fatalf("expected unescaped output, got %s", out)
	}
}

func TestCanonicalHashKeyOrderIndependence(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ for identical content: %s vs %s", h1, h2)
	}
}

func TestCanonicalHashNegativeControl(t *testing.T) {
	h1, _ := CanonicalHash(map[string]any{"a": 1})
	h2, _ := CanonicalHash(map[string]any{"a": 2})
	if h1 == h2 {
		t.Fatal("different payloads must hash differently")
	}
}

func TestHashBytesStable(t *testing.T) {
	if HashBytes([]byte("x")) != HashBytes([]byte("x")) {
		t.Fatal("HashBytes not deterministic")
	}
	if len(HashBytes(nil)) != 64 {
		t.Fatal("expected 64 hex chars")
	}
}
