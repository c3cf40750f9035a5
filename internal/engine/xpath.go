// Domain-stack addition (SPEC_FULL.md section 11): an "xpath" content
// predicate for matching XML/SOAP-ish bodies, extending contentMatches
// (spec.md 4.1) beyond its original JSON-only subset matching. Grounded on
// the teacher's internal/imposter/selectors.go (antchfx/xmlquery-based
// XPath evaluation, node-value extraction), adapted to the engine's
// mapping-predicate-element shape.
package engine

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// xpathElementMatches recognizes a content-predicate element of the shape
// {"xpath": "<expr>"[, "equals": "<value>"][, "contains": "<substr>"]} and
// evaluates it against text parsed as XML. It returns handled=false for
// any map that doesn't carry an "xpath" key, so contentMatches falls back
// to its ordinary isSubset(JSON) behavior for plain mapping elements.
func (e *Engine) xpathElementMatches(elem *ordered.Map, text string) (matched bool, handled bool) {
	exprVal, ok := elem.Get("xpath")
	if !ok {
		return false, false
	}
	expr, ok := exprVal.(string)
	if !ok {
		return false, true
	}

	doc, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return false, true
	}
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return false, true
	}
	if len(nodes) == 0 {
		return false, true
	}

	if wantEquals, ok := elem.Get("equals"); ok {
		want, _ := wantEquals.(string)
		for _, n := range nodes {
			if xmlNodeText(n) == want {
				return true, true
			}
		}
		return false, true
	}
	if wantContains, ok := elem.Get("contains"); ok {
		want, _ := wantContains.(string)
		for _, n := range nodes {
			if strings.Contains(xmlNodeText(n), want) {
				return true, true
			}
		}
		return false, true
	}

	return true, true
}

func xmlNodeText(n *xmlquery.Node) string {
	if n.Type == xmlquery.AttributeNode {
		return n.InnerText()
	}
	return strings.TrimSpace(n.InnerText())
}
