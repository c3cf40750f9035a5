// Domain-stack addition (SPEC_FULL.md section 11): a "script" action key
// that runs operator-supplied JavaScript via goja, returning a partial
// rule whose top-level keys are shallow-merged into the flat rule. Grounded on the
// teacher's internal/imposter/inject.go (goja VM setup, function-value
// invocation) and internal/imposter/behaviors.go's executeDecorate
// (value-returned-then-merged shape). Gated by Options.AllowScript, the
// same way the teacher gates JS injection behind -allowInjection.
package engine

import (
	"fmt"
	"log"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/ersatzhttp/ersatz/internal/metrics"
	"github.com/ersatzhttp/ersatz/internal/model"
	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// scriptRunner owns nothing but a logger; each invocation gets its own
// goja.Runtime since handler scripts run at most once per flow and
// concurrent flows must not share VM state.
type scriptRunner struct {
	logger *log.Logger
}

func newScriptRunner(logger *log.Logger) *scriptRunner {
	return &scriptRunner{logger: logger}
}

// run compiles source as a JS function expression and calls it with
// (request, response) views, returning the exported result of calling it.
func (s *scriptRunner) run(source string, request, response map[string]interface{}) (interface{}, error) {
	vm := goja.New()
	new(require.Registry).Enable(vm)
	console.Enable(vm)

	val, err := vm.RunString("(" + source + ")")
	if err != nil {
		return nil, fmt.Errorf("compiling script: %w", err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("script must evaluate to a function")
	}

	reqArg := vm.ToValue(request)
	var respArg goja.Value = goja.Undefined()
	if response != nil {
		respArg = vm.ToValue(response)
	}

	result, err := fn(goja.Undefined(), reqArg, respArg)
	if err != nil {
		return nil, fmt.Errorf("executing script: %w", err)
	}
	return result.Export(), nil
}

// applyScript runs rule["script"] (if present and scripting is allowed),
// deletes the key, and shallow-merges its returned object into rule so the
// remaining action keys (modify/respond/replace/...) see the script's
// contribution, mirroring executeDecorate's merge-then-continue shape.
func (e *Engine) applyScript(rule *ordered.Map, flow *model.Flow) {
	src, ok := rule.Get("script")
	if !ok {
		return
	}
	rule.Delete("script")

	if !e.allowScript || e.scripts == nil {
		e.logger.Printf("ersatz: script action present but scripting is disabled, ignoring")
		return
	}
	source, ok := src.(string)
	if !ok {
		return
	}

	reqView := requestToJS(flow.Request)
	var respView map[string]interface{}
	if flow.Response != nil {
		respView = responseToJS(flow.Response)
	}

	result, err := e.scripts.run(source, reqView, respView)
	if err != nil {
		metrics.RecordScript("error")
		e.logger.Printf("ersatz: script execution failed: %v", err)
		return
	}
	metrics.RecordScript("ok")

	if rm, ok := result.(map[string]interface{}); ok {
		for k, v := range rm {
			rule.Set(k, v)
		}
	}
}

func requestToJS(req *model.Request) map[string]interface{} {
	headers := make(map[string]interface{})
	for _, k := range req.Headers.Keys() {
		if v, ok := req.Headers.Get(k); ok {
			headers[k] = v
		}
	}
	query := make(map[string]interface{})
	for _, k := range req.Query.Keys() {
		if v, ok := req.Query.Get(k); ok {
			query[k] = v
		}
	}
	return map[string]interface{}{
		"scheme":  req.Scheme,
		"host":    req.Host,
		"method":  req.Method,
		"path":    req.Path,
		"headers": headers,
		"query":   query,
		"body":    req.Text,
	}
}

func responseToJS(resp *model.Response) map[string]interface{} {
	headers := make(map[string]interface{})
	for _, k := range resp.Headers.Keys() {
		if v, ok := resp.Headers.Get(k); ok {
			headers[k] = v
		}
	}
	return map[string]interface{}{
		"status":  float64(resp.StatusCode),
		"headers": headers,
		"body":    resp.Text,
	}
}
