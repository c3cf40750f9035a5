// Host proxy callback contract (spec.md section 6): onLoad/onConfigure are
// covered by New/SetConfigPath in engine.go; this file implements
// onRequest/onResponse/onError, wiring the resolver (C4+C5) into the
// applier (C6).
package engine

import (
	"github.com/ersatzhttp/ersatz/internal/model"
)

// OnRequest implements onRequest(flow): resolve and apply the request-side
// rule, returning a synthetic Response when "respond" fires (the caller
// must then skip the upstream round trip), or nil to let the flow proceed
// unmodified.
func (e *Engine) OnRequest(flow *model.Flow) (*model.Response, error) {
	rule := e.Resolve(flow, EventRequest)
	if rule == nil {
		return nil, nil
	}
	return e.ApplyRequest(flow, rule)
}

// OnResponse implements onResponse(flow): resolve and apply the
// response-side rule, mutating flow.Response in place, or installing a
// synthetic replacement when "replace" fires.
func (e *Engine) OnResponse(flow *model.Flow) (*model.Response, error) {
	rule := e.Resolve(flow, EventResponse)
	if rule == nil {
		return nil, nil
	}
	resp, err := e.ApplyResponse(flow, rule)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		flow.Response = resp
	}
	return resp, nil
}

// OnError implements onError(flow): debug log only, per spec.md section 6.
func (e *Engine) OnError(flow *model.Flow, err error) {
	if flow != nil && flow.Request != nil {
		e.logger.Printf("ersatz: flow error for %s %s: %v", flow.Request.Method, flow.Request.Path, err)
		return
	}
	e.logger.Printf("ersatz: flow error: %v", err)
}
