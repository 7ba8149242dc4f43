package plugin

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"
	"go.uber.org/zap"

	"github.com/northbeam/gateway/internal/logging"
)

// pluginLogger routes go-plugin's own handshake/transport chatter to stderr
// at Warn: a plugin subprocess failing to start is already reported through
// Load's returned error, so go-plugin's internal logs only matter once
// something there needs diagnosing, not on every successful dial.
func pluginLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "plugin",
		Level: hclog.Warn,
	})
}

// loaded is one running plugin process plus the hooks it registered.
type loaded struct {
	path   string
	meta   Metadata
	hooks  []string
	client *hcplugin.Client
	impl   GatewayPlugin
}

// Engine hosts a set of out-of-process plugins and fans a named hook out to
// every plugin registered for it, in registration order, merging each
// handler's partial context override over the running context. A handler
// failure is logged and isolated: the remaining handlers still run.
type Engine struct {
	mu           sync.RWMutex
	handshakeKey string
	byName       map[string]*loaded
	byHook       map[Hook][]*loaded // registration order preserved by append
	order        []string           // registration order of plugin names, for shutdown
	callTimeout  time.Duration
}

// New builds an empty Engine. handshakeKey pins the plugin protocol's magic
// cookie; callTimeout bounds how long a single hook invocation may run
// before the engine treats it as a failed handler.
func New(handshakeKey string, callTimeout time.Duration) *Engine {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Second
	}
	return &Engine{
		handshakeKey: handshakeKey,
		byName:       make(map[string]*loaded),
		byHook:       make(map[Hook][]*loaded),
		callTimeout:  callTimeout,
	}
}

// Load starts the plugin binary at path, reads its metadata and declared
// hooks, and registers it under each hook name the catalog recognizes.
// Hook names outside the fixed catalog are logged and skipped rather than
// rejecting the whole plugin.
func (e *Engine) Load(path string) error {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig:  Handshake(e.handshakeKey),
		Plugins:          PluginMap(),
		Cmd:              exec.Command(path),
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolNetRPC},
		Logger:           pluginLogger(),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("plugin: dial %s: %w", path, err)
	}
	raw, err := rpcClient.Dispense("gateway")
	if err != nil {
		client.Kill()
		return fmt.Errorf("plugin: dispense %s: %w", path, err)
	}
	impl, ok := raw.(GatewayPlugin)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin: %s does not implement GatewayPlugin", path)
	}

	meta := impl.Metadata()
	declared := impl.Hooks()

	lp := &loaded{path: path, meta: meta, client: client, impl: impl}
	var accepted []string
	for _, name := range declared {
		if !IsValidHook(name) {
			logging.Warn("plugin declared an unknown hook, skipping",
				zap.String("plugin", meta.Name), zap.String("hook", name))
			continue
		}
		accepted = append(accepted, name)
	}
	lp.hooks = accepted

	e.mu.Lock()
	defer e.mu.Unlock()
	if meta.Name == "" {
		meta.Name = path
	}
	e.byName[meta.Name] = lp
	e.order = append(e.order, meta.Name)
	for _, name := range accepted {
		e.byHook[Hook(name)] = append(e.byHook[Hook(name)], lp)
	}
	return nil
}

// Unload invokes the plugin's Cleanup and stops its process, removing it
// from every hook it was registered under.
func (e *Engine) Unload(name string) error {
	e.mu.Lock()
	lp, ok := e.byName[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("plugin: %s is not loaded", name)
	}
	delete(e.byName, name)
	for _, hook := range lp.hooks {
		e.byHook[Hook(hook)] = removePlugin(e.byHook[Hook(hook)], lp)
	}
	e.order = removeName(e.order, name)
	e.mu.Unlock()

	err := lp.impl.Cleanup()
	lp.client.Kill()
	return err
}

// Reload unloads name (if currently loaded) and loads it again from path.
func (e *Engine) Reload(name, path string) error {
	e.mu.RLock()
	_, ok := e.byName[name]
	e.mu.RUnlock()
	if ok {
		if err := e.Unload(name); err != nil {
			return err
		}
	}
	return e.Load(path)
}

func removePlugin(list []*loaded, target *loaded) []*loaded {
	out := list[:0]
	for _, lp := range list {
		if lp != target {
			out = append(out, lp)
		}
	}
	return out
}

func removeName(list []string, target string) []string {
	out := list[:0]
	for _, name := range list {
		if name != target {
			out = append(out, name)
		}
	}
	return out
}

// Run fans hook out to every plugin registered for it, in registration
// order, merging each non-erroring handler's partial override over ctx.
func (e *Engine) Run(hook Hook, ctx Context) Context {
	e.mu.RLock()
	handlers := append([]*loaded(nil), e.byHook[hook]...)
	e.mu.RUnlock()

	for _, lp := range handlers {
		out, err := e.invokeWithTimeout(lp, hook, ctx)
		if err != nil {
			logging.Warn("plugin hook failed, isolating and continuing",
				zap.String("plugin", lp.meta.Name), zap.String("hook", string(hook)), zap.Error(err))
			continue
		}
		ctx = Merge(ctx, out)
	}
	return ctx
}

func (e *Engine) invokeWithTimeout(lp *loaded, hook Hook, ctx Context) (Context, error) {
	type result struct {
		ctx Context
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := lp.impl.Invoke(string(hook), ctx)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.ctx, r.err
	case <-time.After(e.callTimeout):
		return Context{}, fmt.Errorf("hook %s timed out after %s", hook, e.callTimeout)
	}
}

// Loaded lists the currently loaded plugins' metadata, for the admin
// plugins surface.
func (e *Engine) Loaded() []Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Metadata, 0, len(e.byName))
	for _, lp := range e.byName {
		out = append(out, lp.meta)
	}
	return out
}

// Shutdown invokes the onShutdown hook on every loaded plugin that
// registered for it, in reverse registration order, then kills each
// plugin's process. This is distinct from Unload's Cleanup call: onShutdown
// is a named hook a plugin may or may not register for, fired once as the
// server goes down, per the shutdown sequence's "invokes each plugin's
// shutdown hook in reverse registration order" rule.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	order := append([]string(nil), e.order...)
	plugins := make(map[string]*loaded, len(e.byName))
	for name, lp := range e.byName {
		plugins[name] = lp
	}
	e.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		lp, ok := plugins[order[i]]
		if !ok {
			continue
		}
		for _, hook := range lp.hooks {
			if hook != string(HookOnShutdown) {
				continue
			}
			if _, err := e.invokeWithTimeout(lp, HookOnShutdown, Context{}); err != nil {
				logging.Warn("plugin onShutdown hook failed",
					zap.String("plugin", lp.meta.Name), zap.Error(err))
			}
			break
		}
		lp.client.Kill()
	}
}
