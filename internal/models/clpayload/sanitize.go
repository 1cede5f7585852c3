package clpayload

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// placeholder de template Liquid non rendu par le thème
var placeholderRe = regexp.MustCompile(`(?s)\{\{.*?\}\}`)

var numericKeys = map[string]bool{
	"value":      true,
	"quantity":   true,
	"num_items":  true,
	"numItems":   true,
	"item_count": true,
	"itemCount":  true,
}

func HasPlaceholder(s string) bool {
	return placeholderRe.MatchString(s)
}

// Sanitize retourne une copie nettoyée de data, destinée à la Conversions API.
// data n'est jamais modifié.
func Sanitize(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if clean, keep := sanitizeField(k, v); keep {
			out[k] = clean
		}
	}
	return out
}

func sanitizeField(key string, v any) (any, bool) {
	if numericKeys[key] {
		return coerceNumber(v)
	}
	return sanitizeValue(v)
}

func sanitizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		if HasPlaceholder(t) {
			return nil, false
		}
		return t, true
	case bool, int, int64:
		return t, true
	case float64, float32, json.Number:
		return coerceNumber(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if clean, keep := sanitizeValue(item); keep {
				out = append(out, clean)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return sanitizeValue(items)
	case map[string]any:
		out := Sanitize(t)
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		// types exotiques : on ne les transmet pas
		return nil, false
	}
}

func coerceNumber(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case float32:
		return float64(t), finite(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil || !finite(f) {
			return nil, false
		}
		return f, true
	case string:
		f, ok := ParseNumber(t)
		if !ok {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// ParseNumber refuse les placeholders, les chaînes non numériques et NaN/Inf
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || HasPlaceholder(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

// NaN et ±Inf ne passent pas en JSON
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
