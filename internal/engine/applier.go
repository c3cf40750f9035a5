// Request/response applier (spec.md section 4.6, component C6), including
// the synthetic response builder (makeResponse/encodeContent). Grounded on
// original_source/moxy.py's request()/response()/make_response/
// encode_content.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ersatzhttp/ersatz/internal/model"
	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// ApplyRequest implements spec.md 4.6's "Request path": it evaluates the
// headers predicate, runs "save"/"modify"/"respond", and returns a
// synthetic response when "respond" installs one (upstream is then
// skipped by the host, per the callback contract).
func (e *Engine) ApplyRequest(flow *model.Flow, rule *ordered.Map) (*model.Response, error) {
	if headersPred, ok := rule.Get("headers"); ok {
		if !e.headersContentMatches(flow.Request.Headers, nil, headersPred) {
			return nil, nil
		}
	}

	e.applyScript(rule, flow)

	if name, ok := rule.Get("save"); ok {
		e.saveSink.Save(flow, toString(name))
	}

	if modifyVal, ok := rule.Get("modify"); ok {
		e.applyRequestModify(flow.Request, modifyVal)
	}

	if respondVal, ok := rule.Get("respond"); ok {
		return e.makeResponse(respondVal, 200)
	}

	return nil, nil
}

// ApplyResponse implements spec.md 4.6's "Response path": headers
// predicate over merged request+response headers, "save", "replace"
// (installs a synthetic response seeded from the current one), and the
// global response["*"].modify prepended to the rule's own modify list.
func (e *Engine) ApplyResponse(flow *model.Flow, rule *ordered.Map) (*model.Response, error) {
	if headersPred, ok := rule.Get("headers"); ok {
		if !e.headersContentMatches(flow.Request.Headers, flow.Response.Headers, headersPred) {
			return nil, nil
		}
	}

	e.applyScript(rule, flow)

	if name, ok := rule.Get("save"); ok {
		e.saveSink.Save(flow, toString(name))
	}

	if replaceVal, ok := rule.Get("replace"); ok {
		seeded := e.seedFromResponse(replaceVal, flow.Response)
		return e.makeResponse(seeded, flow.Response.StatusCode)
	}

	modifyList := e.prependGlobalResponseModify(rule)
	if len(modifyList) > 0 {
		result := e.modifyContent(modifyList, flow.Response.Text)
		text := contentAsStr(result)
		flow.Response.Content = []byte(text)
		flow.Response.Text = text
	}

	return nil, nil
}

// headersContentMatches evaluates the "headers" content predicate over the
// union of request and response headers (response may be nil on the
// request path), matching moxy.py's asymmetric treatment.
func (e *Engine) headersContentMatches(reqHeaders, respHeaders *model.OrderedStrings, pred interface{}) bool {
	merged := ordered.NewMap()
	if reqHeaders != nil {
		for _, k := range reqHeaders.Keys() {
			if v, ok := reqHeaders.Get(k); ok {
				merged.Set(k, v)
			}
		}
	}
	if respHeaders != nil {
		for _, k := range respHeaders.Keys() {
			if v, ok := respHeaders.Get(k); ok {
				merged.Set(k, v)
			}
		}
	}
	text, _ := json.Marshal(ordered.ToPlain(merged))
	return e.contentMatches(string(text), pred, merged, true)
}

// applyRequestModify implements the "modify" action on the request side:
// overwrite scheme/host/path/method when specified, shallow-merge headers,
// run modifyContent on query and content.
func (e *Engine) applyRequestModify(req *model.Request, modifyVal interface{}) {
	mm, ok := asMap(modifyVal)
	if !ok {
		return
	}
	if v, ok := mm.Get("scheme"); ok {
		if s, ok := v.(string); ok {
			req.Scheme = s
		}
	}
	if v, ok := mm.Get("host"); ok {
		if s, ok := v.(string); ok {
			req.Host = s
		}
	}
	if v, ok := mm.Get("path"); ok {
		if s, ok := v.(string); ok {
			req.Path = s
		}
	}
	if v, ok := mm.Get("method"); ok {
		if s, ok := v.(string); ok {
			req.Method = s
		}
	}
	if v, ok := mm.Get("headers"); ok {
		if hm, ok := asMap(v); ok {
			for _, k := range hm.Keys() {
				hv, _ := hm.Get(k)
				req.Headers.Set(k, toString(hv))
			}
		}
	}
	if v, ok := mm.Get("query"); ok {
		if qm, ok := asMap(v); ok {
			for _, k := range qm.Keys() {
				qv, _ := qm.Get(k)
				req.Query.Set(k, toString(qv))
			}
		} else {
			queryMap := ordered.NewMap()
			for _, k := range req.Query.Keys() {
				qv, _ := req.Query.Get(k)
				queryMap.Set(k, qv)
			}
			result := e.modifyContent(v, queryMap)
			if rm, ok := asMap(result); ok {
				req.Query = model.NewOrderedStrings()
				for _, k := range rm.Keys() {
					rv, _ := rm.Get(k)
					req.Query.Set(k, toString(rv))
				}
			}
		}
	}
	if v, ok := mm.Get("content"); ok {
		result := e.modifyContent(v, req.Text)
		text := contentAsStr(result)
		req.Content = []byte(text)
		req.Text = text
	}
}

// seedFromResponse builds the value passed to makeResponse for "replace":
// the replace value's own fields win, falling back to the current
// response's status/content/headers.
func (e *Engine) seedFromResponse(replaceVal interface{}, resp *model.Response) interface{} {
	seed := ordered.NewMap()
	seed.Set("status", float64(resp.StatusCode))
	seed.Set("content", resp.Text)
	headers := ordered.NewMap()
	for _, k := range resp.Headers.Keys() {
		v, _ := resp.Headers.Get(k)
		headers.Set(k, v)
	}
	seed.Set("headers", headers)

	if rm, ok := asMap(replaceVal); ok {
		for _, k := range rm.Keys() {
			v, _ := rm.Get(k)
			seed.Set(k, v)
		}
		return seed
	}
	seed.Set("content", replaceVal)
	return seed
}

// prependGlobalResponseModify reads response["*"].modify (if any),
// normalizes it to a list, and prepends it to the rule's own "modify" list
// (also normalized), per spec.md 4.6's "Prepend the global
// response['*'].modify ... to the rule's own modify list".
func (e *Engine) prependGlobalResponseModify(rule *ordered.Map) []interface{} {
	var out []interface{}

	e.mu.RLock()
	var global interface{}
	if e.config != nil {
		if respSection, ok := e.config.Get("response"); ok {
			if rsm, ok := asMap(respSection); ok {
				if star, ok := rsm.Get("*"); ok {
					if sm, ok := asMap(star); ok {
						global, _ = sm.Get("modify")
					}
				}
			}
		}
	}
	e.mu.RUnlock()

	if global != nil {
		if l, ok := asList(global); ok {
			out = append(out, l...)
		} else {
			out = append(out, global)
		}
	}

	if own, ok := rule.Get("modify"); ok {
		if l, ok := asList(own); ok {
			out = append(out, l...)
		} else {
			out = append(out, own)
		}
	}

	return out
}

// makeResponse implements spec.md 4.6's response builder.
func (e *Engine) makeResponse(value interface{}, defaultStatus int) (*model.Response, error) {
	var contentVal interface{} = value
	var headersVal interface{}
	var statusVal interface{}
	typeOverride := ""
	charsetOverride := ""

	if s, isString := value.(string); isString {
		contentVal = s
	} else if vm, ok := asMap(value); ok {
		contentVal, _ = vm.Get("content")
		headersVal, _ = vm.Get("headers")
		statusVal, _ = vm.Get("status")
		if tv, ok := vm.Get("type"); ok {
			typeOverride, _ = tv.(string)
		}
		if cv, ok := vm.Get("charset"); ok {
			charsetOverride, _ = cv.(string)
		}
	}

	body, inferredType := e.encodeContent(contentVal)

	ctype := inferredType
	if typeOverride != "" {
		ctype = typeOverride
	}
	charset := charsetOverride
	if charset == "" {
		if s, ok := e.defaultCharset.(string); ok && s != "" {
			charset = s
		} else {
			charset = "utf-8"
		}
	}
	if !strings.Contains(ctype, ";") && !strings.Contains(ctype, "image") {
		ctype = ctype + "; charset=" + charset
	}

	headers := model.NewOrderedStrings()
	headers.Set("Content-Type", ctype)
	if hm, ok := asMap(headersVal); ok {
		for _, k := range hm.Keys() {
			hv, _ := hm.Get(k)
			headers.Set(k, toString(hv))
		}
	}

	status := defaultStatus
	if statusVal != nil {
		if f, ok := statusVal.(float64); ok {
			status = int(f)
		}
	}

	if e.respFactory == nil {
		return nil, fmt.Errorf("ersatz: no response factory configured")
	}
	resp, err := e.respFactory.Make(status, body, headers)
	if err != nil {
		// Error Handling Design kind 5: a from-scratch Go host has no
		// legacy positional signature to fall back to, so the closest
		// idiomatic equivalent is to log and degrade to a no-op (caller
		// treats a nil response as "let the flow through unchanged").
		e.logger.Printf("ersatz: response construction failed, passing flow through: %v", err)
		return nil, nil
	}
	return resp, nil
}

// encodeContent implements spec.md 4.6's encodeContent: strings that name
// an existing file are read from disk with MIME inferred from extension;
// strings starting with "<" are treated as HTML; any other string is used
// verbatim with an application/json content type (matching moxy.py, which
// never validates that a raw string is actually JSON); non-string values
// are first passed through mergeContent (so nested replace_with/replace_in
// still apply inside response bodies) and serialized as JSON.
func (e *Engine) encodeContent(content interface{}) ([]byte, string) {
	if s, ok := content.(string); ok {
		if looksLikeFilePath(s) {
			data, err := os.ReadFile(s)
			if err == nil {
				return data, contentTypeForExt(s)
			}
		}
		if strings.HasPrefix(strings.TrimSpace(s), "<") {
			return []byte(s), "text/html"
		}
		return []byte(s), "application/json"
	}

	merged := e.mergeContent(content, nil)
	data, err := json.Marshal(ordered.ToPlain(merged))
	if err != nil {
		return []byte("null"), "application/json"
	}
	return data, "application/json"
}

func contentTypeForExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return "text/html"
	case ".xml":
		return "text/xml"
	case ".txt", ".md":
		return "text/plain"
	case ".js":
		return "application/javascript"
	default:
		return "application/json"
	}
}
