package prefsstore

import "testing"

func TestMemoryPreferencesSetGet(t *testing.T) {
	p := NewMemoryPreferences()
	if _, ok := p.Get("missing"); ok {
		t.Fatal("expected ok=false for unset key")
	}

	p.Set("k", "v1")
	if v, ok := p.Get("k"); !ok || v != "v1" {
		t.Fatalf("Get(k) = %q, %v, want v1, true", v, ok)
	}

	p.Set("k", "v2")
	if v, _ := p.Get("k"); v != "v2" {
		t.Fatalf("Get(k) after overwrite = %q, want v2", v)
	}
}

func TestMemoryPreferencesRemove(t *testing.T) {
	p := NewMemoryPreferences()
	p.Set("k", "v")
	p.Remove("k")
	if _, ok := p.Get("k"); ok {
		t.Fatal("expected key removed")
	}
	p.Remove("never-there") // must not panic
}

func TestMemoryPreferencesMulti(t *testing.T) {
	p := NewMemoryPreferences()
	p.SetMulti(map[string]string{"a": "1", "b": "2", "c": "3"})

	got := p.GetMulti([]string{"a", "b", "missing"})
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("GetMulti() = %v", got)
	}
}

func TestMemoryPreferencesLoadSaveNoop(t *testing.T) {
	p := NewMemoryPreferences()
	if err := p.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}
