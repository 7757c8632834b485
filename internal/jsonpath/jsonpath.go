// Package jsonpath evaluates the JSONPath expressions used by the
// Backend Selector's status predicate and by kind-map address/port
// extraction, wrapping k8s.io/client-go/util/jsonpath — the same
// engine kubectl's -o jsonpath uses.
package jsonpath

import (
	"fmt"
	"strings"

	"k8s.io/client-go/util/jsonpath"
)

// Lookup evaluates path against doc and returns every matched value
// rendered as a string. path follows the kubectl jsonpath dialect,
// e.g. "{.status.phase}" or "{.status.addresses[0].address}".
//
// A missing value (the path does not resolve) is reported as an
// error, not an empty result, so callers can distinguish "absent" from
// "present but empty string" per the status-predicate invariant
// ("missing value => candidate rejected").
func Lookup(doc any, path string) ([]string, error) {
	jp := jsonpath.New("selector")
	jp.AllowMissingKeys(false)

	if err := jp.Parse(normalize(path)); err != nil {
		return nil, fmt.Errorf("parse jsonpath %q: %w", path, err)
	}

	results, err := jp.FindResults(doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate jsonpath %q: %w", path, err)
	}

	var out []string
	for _, set := range results {
		for _, v := range set {
			out = append(out, fmt.Sprintf("%v", v.Interface()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("jsonpath %q matched nothing", path)
	}
	return out, nil
}

// normalize accepts both the bare-path form ("status.phase") and the
// kubectl template form ("{.status.phase}"), since configuration
// authors commonly write the former.
func normalize(path string) string {
	if strings.HasPrefix(path, "{") {
		return path
	}
	if !strings.HasPrefix(path, ".") {
		path = "." + path
	}
	return "{" + path + "}"
}

// LookupOne is Lookup restricted to exactly one scalar result, the
// shape the status predicate and address/port extraction need.
func LookupOne(doc any, path string) (string, error) {
	values, err := Lookup(doc, path)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", fmt.Errorf("jsonpath %q matched %d values, want 1", path, len(values))
	}
	return values[0], nil
}
