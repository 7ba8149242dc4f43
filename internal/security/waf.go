package security

import (
	"bytes"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/corazawaf/coraza/v3"
	"github.com/corazawaf/coraza/v3/types"

	"github.com/northbeam/gateway/internal/config"
)

// WAF wraps a coraza engine configured for SQL-injection and XSS detection,
// plus any operator-supplied inline rules or rule files.
type WAF struct {
	engine coraza.WAF
	mode   string

	requestsTotal atomic.Int64
	blockedTotal  atomic.Int64
	detectedTotal atomic.Int64
}

// NewWAF builds a WAF from cfg.
func NewWAF(cfg config.WAFConfig) (*WAF, error) {
	wafCfg := coraza.NewWAFConfig()

	for _, rule := range cfg.InlineRules {
		wafCfg = wafCfg.WithDirectives(rule)
	}
	for _, path := range cfg.RuleFiles {
		wafCfg = wafCfg.WithDirectives(fmt.Sprintf("Include %s", path))
	}
	if cfg.SQLInjection {
		wafCfg = wafCfg.WithDirectives(`SecRule ARGS|ARGS_NAMES|REQUEST_BODY "@detectSQLi" "id:1001,phase:2,deny,status:403,msg:'SQL injection detected',tag:'attack-sqli'"`)
	}
	if cfg.XSS {
		wafCfg = wafCfg.WithDirectives(`SecRule ARGS|ARGS_NAMES|REQUEST_BODY "@detectXSS" "id:1002,phase:2,deny,status:403,msg:'XSS detected',tag:'attack-xss'"`)
	}

	engine, err := coraza.NewWAF(wafCfg)
	if err != nil {
		return nil, fmt.Errorf("waf: failed to initialize engine: %w", err)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = "block"
	}
	return &WAF{engine: engine, mode: mode}, nil
}

// Scan runs the request through the WAF. It returns (blocked=true, status)
// if the request should be rejected; in "detect" mode it never blocks, only
// counts.
func (w *WAF) Scan(method, url, proto, clientIP string, header http.Header, body []byte) (blocked bool, status int) {
	w.requestsTotal.Add(1)

	tx := w.engine.NewTransaction()
	defer func() {
		tx.ProcessLogging()
		tx.Close()
	}()

	tx.ProcessConnection(clientIP, 0, "", 0)
	tx.ProcessURI(url, method, proto)
	for k, vv := range header {
		for _, v := range vv {
			tx.AddRequestHeader(k, v)
		}
	}
	if it := tx.ProcessRequestHeaders(); it != nil {
		return w.interrupted(it)
	}

	if len(body) > 0 {
		if it, _, err := tx.ReadRequestBodyFrom(bytes.NewReader(body)); err == nil && it != nil {
			return w.interrupted(it)
		}
	}
	if it, err := tx.ProcessRequestBody(); err == nil && it != nil {
		return w.interrupted(it)
	}

	return false, 0
}

func (w *WAF) interrupted(it *types.Interruption) (bool, int) {
	if w.mode == "detect" {
		w.detectedTotal.Add(1)
		return false, 0
	}
	w.blockedTotal.Add(1)
	status := it.Status
	if status == 0 {
		status = http.StatusForbidden
	}
	return true, status
}

// Stats reports point-in-time counters for the /metrics surface.
func (w *WAF) Stats() map[string]int64 {
	return map[string]int64{
		"requestsTotal": w.requestsTotal.Load(),
		"blockedTotal":  w.blockedTotal.Load(),
		"detectedTotal": w.detectedTotal.Load(),
	}
}
