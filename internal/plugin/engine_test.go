package plugin

import (
	"errors"
	"testing"
	"time"
)

// fakePlugin implements GatewayPlugin in-process, for exercising Engine's
// fan-out/merge/timeout logic without starting a real plugin subprocess.
type fakePlugin struct {
	meta    Metadata
	hooks   []string
	invoke  func(hook string, ctx Context) (Context, error)
	invoked []string
}

func (f *fakePlugin) Metadata() Metadata { return f.meta }
func (f *fakePlugin) Hooks() []string    { return f.hooks }
func (f *fakePlugin) Invoke(hook string, ctx Context) (Context, error) {
	f.invoked = append(f.invoked, hook)
	if f.invoke != nil {
		return f.invoke(hook, ctx)
	}
	return ctx, nil
}
func (f *fakePlugin) Cleanup() error { return nil }

// register wires a fakePlugin directly into the engine's bookkeeping,
// bypassing Load's real subprocess start.
func register(e *Engine, name string, hooks []string, impl GatewayPlugin) {
	lp := &loaded{path: name, meta: Metadata{Name: name}, hooks: hooks, impl: impl}
	e.byName[name] = lp
	e.order = append(e.order, name)
	for _, h := range hooks {
		e.byHook[Hook(h)] = append(e.byHook[Hook(h)], lp)
	}
}

func TestRunFansOutInRegistrationOrder(t *testing.T) {
	e := New("", time.Second)

	var order []string
	first := &fakePlugin{meta: Metadata{Name: "first"}, hooks: []string{"beforeAuth"},
		invoke: func(hook string, ctx Context) (Context, error) {
			order = append(order, "first")
			return ctx, nil
		},
	}
	second := &fakePlugin{meta: Metadata{Name: "second"}, hooks: []string{"beforeAuth"},
		invoke: func(hook string, ctx Context) (Context, error) {
			order = append(order, "second")
			return ctx, nil
		},
	}
	register(e, "first", []string{"beforeAuth"}, first)
	register(e, "second", []string{"beforeAuth"}, second)

	e.Run(HookBeforeAuth, Context{Path: "/api/users/1"})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected fan-out in registration order, got %v", order)
	}
}

func TestRunMergesPartialOverride(t *testing.T) {
	e := New("", time.Second)
	impl := &fakePlugin{
		meta:  Metadata{Name: "rewriter"},
		hooks: []string{"beforeRouting"},
		invoke: func(hook string, ctx Context) (Context, error) {
			return Context{Service: "orders"}, nil
		},
	}
	register(e, "rewriter", []string{"beforeRouting"}, impl)

	out := e.Run(HookBeforeRouting, Context{Path: "/api/users/1", Service: "users"})

	if out.Service != "orders" {
		t.Errorf("expected Service overridden to 'orders', got %q", out.Service)
	}
	if out.Path != "/api/users/1" {
		t.Errorf("expected Path left untouched, got %q", out.Path)
	}
}

func TestRunIsolatesHandlerFailure(t *testing.T) {
	e := New("", time.Second)

	failing := &fakePlugin{
		meta:  Metadata{Name: "failing"},
		hooks: []string{"afterAuth"},
		invoke: func(hook string, ctx Context) (Context, error) {
			return Context{}, errors.New("boom")
		},
	}
	var secondRan bool
	ok := &fakePlugin{
		meta:  Metadata{Name: "ok"},
		hooks: []string{"afterAuth"},
		invoke: func(hook string, ctx Context) (Context, error) {
			secondRan = true
			return Context{Principal: "user-1"}, nil
		},
	}
	register(e, "failing", []string{"afterAuth"}, failing)
	register(e, "ok", []string{"afterAuth"}, ok)

	out := e.Run(HookAfterAuth, Context{})

	if !secondRan {
		t.Fatal("expected second handler to still run after first handler's failure")
	}
	if out.Principal != "user-1" {
		t.Errorf("expected Principal from the surviving handler, got %q", out.Principal)
	}
}

func TestRunHonorsTimeout(t *testing.T) {
	e := New("", 10*time.Millisecond)

	blocker := &fakePlugin{
		meta:  Metadata{Name: "blocker"},
		hooks: []string{"beforeCache"},
		invoke: func(hook string, ctx Context) (Context, error) {
			time.Sleep(100 * time.Millisecond)
			return Context{Service: "late"}, nil
		},
	}
	register(e, "blocker", []string{"beforeCache"}, blocker)

	out := e.Run(HookBeforeCache, Context{Service: "users"})

	if out.Service != "users" {
		t.Errorf("expected timed-out handler's override dropped, got %q", out.Service)
	}
}

func TestLoadedListsCurrentMetadata(t *testing.T) {
	e := New("", time.Second)
	register(e, "alpha", nil, &fakePlugin{meta: Metadata{Name: "alpha", Version: "1.0"}})
	register(e, "beta", nil, &fakePlugin{meta: Metadata{Name: "beta", Version: "2.0"}})

	metas := e.Loaded()
	if len(metas) != 2 {
		t.Fatalf("expected 2 loaded plugins, got %d", len(metas))
	}
}

func TestRemoveName(t *testing.T) {
	list := []string{"a", "b", "c"}
	got := removeName(list, "b")

	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected [a c], got %v", got)
	}
}

func TestRemoveNameMissingIsNoop(t *testing.T) {
	list := []string{"a", "b"}
	got := removeName(list, "z")

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected list unchanged, got %v", got)
	}
}
