package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTestParams indicates a malformed PTF-style parameter string.
var ErrInvalidTestParams = errors.New("test params: expected key=value pairs separated by ';'")

// ParseTestParams parses a PTF "-t" parameter string:
//
//	router_mac='00:01:02:03:04:05';ptf_test_port_map='/root/ptf_test_port_map.json'
//
// Values may be wrapped in single or double quotes; separators inside quotes
// are kept. An empty string yields an empty map.
func ParseTestParams(s string) (map[string]string, error) {
	params := make(map[string]string)

	for _, pair := range splitUnquoted(s, ';') {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTestParams, pair)
		}

		params[key] = unquote(strings.TrimSpace(val))
	}

	return params, nil
}

// splitUnquoted splits s on sep, ignoring separators inside quotes.
func splitUnquoted(s string, sep rune) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}

	return append(parts, cur.String())
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
