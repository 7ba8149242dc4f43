package plugin

import "testing"

func TestIsValidHook(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"beforeAuth", true},
		{"afterResponse", true},
		{"onShutdown", true},
		{"notARealHook", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsValidHook(c.name); got != c.want {
			t.Errorf("IsValidHook(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMergeOverridesOnlySetFields(t *testing.T) {
	base := Context{
		Method:   "GET",
		Path:     "/api/users/1",
		Service:  "users",
		Instance: "10.0.0.1:9001",
		Header:   map[string][]string{"Accept": {"application/json"}},
	}

	override := Context{
		Path:      "/api/users/1/rewritten",
		Principal: "user-42",
	}

	merged := Merge(base, override)

	if merged.Path != "/api/users/1/rewritten" {
		t.Errorf("expected overridden Path, got %q", merged.Path)
	}
	if merged.Principal != "user-42" {
		t.Errorf("expected overridden Principal, got %q", merged.Principal)
	}
	if merged.Method != "GET" {
		t.Errorf("expected untouched Method, got %q", merged.Method)
	}
	if merged.Service != "users" {
		t.Errorf("expected untouched Service, got %q", merged.Service)
	}
	if merged.Instance != "10.0.0.1:9001" {
		t.Errorf("expected untouched Instance, got %q", merged.Instance)
	}
}

func TestMergeHeaderKeysByKey(t *testing.T) {
	base := Context{Header: map[string][]string{"Accept": {"application/json"}}}
	override := Context{Header: map[string][]string{"X-Added": {"yes"}}}

	merged := Merge(base, override)

	if got := merged.Header["Accept"]; len(got) != 1 || got[0] != "application/json" {
		t.Errorf("expected base header preserved, got %v", got)
	}
	if got := merged.Header["X-Added"]; len(got) != 1 || got[0] != "yes" {
		t.Errorf("expected override header merged in, got %v", got)
	}
}

func TestMergeZeroOverrideLeavesBaseUntouched(t *testing.T) {
	base := Context{StatusCode: 200, ErrorKind: "NotFound"}
	merged := Merge(base, Context{})

	if merged.StatusCode != 200 {
		t.Errorf("expected StatusCode untouched, got %d", merged.StatusCode)
	}
	if merged.ErrorKind != "NotFound" {
		t.Errorf("expected ErrorKind untouched, got %q", merged.ErrorKind)
	}
}
