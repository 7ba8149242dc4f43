// Package plugin implements the named-hook plugin engine: user code runs
// out-of-process (via hashicorp/go-plugin) and observes/mutates the request
// context at the fixed pipeline points the hook catalog names.
package plugin

// Hook names the fixed set of pipeline points a plugin may attach to. The
// engine never invokes a method name outside this catalog.
type Hook string

const (
	HookBeforeRequest  Hook = "beforeRequest"
	HookAfterRequest   Hook = "afterRequest"
	HookBeforeAuth     Hook = "beforeAuth"
	HookAfterAuth      Hook = "afterAuth"
	HookBeforeRouting  Hook = "beforeRouting"
	HookAfterRouting   Hook = "afterRouting"
	HookBeforeCache    Hook = "beforeCache"
	HookAfterCache     Hook = "afterCache"
	HookBeforeResponse Hook = "beforeResponse"
	HookAfterResponse  Hook = "afterResponse"
	HookOnError        Hook = "onError"
	HookOnStartup      Hook = "onStartup"
	HookOnShutdown     Hook = "onShutdown"
)

// catalog is the fixed set Hook values are validated against when a plugin
// declares which hooks it wants registered.
var catalog = map[Hook]struct{}{
	HookBeforeRequest: {}, HookAfterRequest: {},
	HookBeforeAuth: {}, HookAfterAuth: {},
	HookBeforeRouting: {}, HookAfterRouting: {},
	HookBeforeCache: {}, HookAfterCache: {},
	HookBeforeResponse: {}, HookAfterResponse: {},
	HookOnError: {}, HookOnStartup: {}, HookOnShutdown: {},
}

// IsValidHook reports whether name is one of the fixed catalog entries.
func IsValidHook(name string) bool {
	_, ok := catalog[Hook(name)]
	return ok
}

// Metadata is the block every plugin declares: name, version, description,
// author.
type Metadata struct {
	Name        string
	Version     string
	Description string
	Author      string
}

// Context is the serializable slice of the request context passed across the
// plugin process boundary, and the shape a handler returns as its partial
// override. Only the fields a plugin might plausibly read or mutate are
// included — the engine, not the plugin, owns timing and internal decision
// records.
type Context struct {
	RequestID  string
	Method     string
	Path       string
	ClientIP   string
	Header     map[string][]string
	Body       []byte
	Service    string
	Instance   string
	StatusCode int
	Principal  string // principal ID, if authenticated by the time the hook fires
	ErrorKind  string // set only for the onError hook
}

// Merge applies a handler's partial override onto base, per the engine's
// "merged over the current context" rule: a field set to its zero value in
// override leaves base's value untouched.
func Merge(base Context, override Context) Context {
	if override.Method != "" {
		base.Method = override.Method
	}
	if override.Path != "" {
		base.Path = override.Path
	}
	if override.ClientIP != "" {
		base.ClientIP = override.ClientIP
	}
	if override.Header != nil {
		if base.Header == nil {
			base.Header = make(map[string][]string, len(override.Header))
		}
		for k, v := range override.Header {
			base.Header[k] = v
		}
	}
	if override.Body != nil {
		base.Body = override.Body
	}
	if override.Service != "" {
		base.Service = override.Service
	}
	if override.Instance != "" {
		base.Instance = override.Instance
	}
	if override.StatusCode != 0 {
		base.StatusCode = override.StatusCode
	}
	if override.Principal != "" {
		base.Principal = override.Principal
	}
	return base
}

// GatewayPlugin is the interface a plugin binary implements and exposes
// through the RPC plugin map. Invoke dispatches a single named hook;
// Cleanup is called on Unload, separately from any named hook.
type GatewayPlugin interface {
	Metadata() Metadata
	Hooks() []string
	Invoke(hook string, ctx Context) (Context, error)
	Cleanup() error
}
