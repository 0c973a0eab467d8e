// Package waf implements a blacklist request filter over the serialized
// request body and query string.
package waf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DefaultPatterns is the blacklist checked in order; the first match wins.
var DefaultPatterns = []string{"DROP", "DELETE", "INSERT", "<SCRIPT>", "SELECT", "--", "OR 1=1"}

// Verdict is the outcome of inspecting one request.
type Verdict struct {
	Blocked bool
	Pattern string
}

type Filter struct {
	patterns []string
}

// NewFilter builds a filter over the given patterns, matched
// case-insensitively. Nil patterns select DefaultPatterns.
func NewFilter(patterns []string) *Filter {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	upper := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			upper = append(upper, p)
		}
	}
	return &Filter{patterns: upper}
}

// Inspect reports whether body and query contain a blacklisted pattern.
// A non-nil error means the request could not be inspected.
func (f *Filter) Inspect(body []byte, query url.Values) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict, err = Verdict{}, fmt.Errorf("panic during inspection: %v", r)
		}
	}()

	payload, err := Payload(body, query)
	if err != nil {
		return Verdict{}, err
	}
	payload = strings.ToUpper(payload)

	for _, p := range f.patterns {
		if strings.Contains(payload, p) {
			return Verdict{Blocked: true, Pattern: p}, nil
		}
	}
	return Verdict{}, nil
}

// Payload is the text the filter scans: the body followed by the query,
// each serialized as JSON. JSON bodies are normalized by re-encoding, other
// bodies are used verbatim and an empty body reads as {}.
func Payload(body []byte, query url.Values) (string, error) {
	bodyText, err := serializeBody(body)
	if err != nil {
		return "", err
	}
	queryText, err := serializeQuery(query)
	if err != nil {
		return "", err
	}
	return bodyText + queryText, nil
}

func serializeBody(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "{}", nil
	}
	if !json.Valid(trimmed) {
		return string(body), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}
	return encode(v)
}

func serializeQuery(query url.Values) (string, error) {
	m := make(map[string]any, len(query))
	for k, vs := range query {
		if len(vs) == 1 {
			m[k] = vs[0]
		} else {
			m[k] = vs
		}
	}
	return encode(m)
}

// encode marshals v without HTML escaping so "<script>" stays literal.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
