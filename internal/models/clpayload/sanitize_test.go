package clpayload

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDropsPlaceholders(t *testing.T) {
	data := map[string]any{
		"content_name": "{{ product.title }}",
		"content_type": "product",
		"brand":        "Acme",
	}
	out := Sanitize(data)

	assert.NotContains(t, out, "content_name")
	assert.Equal(t, "product", out["content_type"])
	assert.Equal(t, "Acme", out["brand"])
	// l'original n'est pas touché
	assert.Equal(t, "{{ product.title }}", data["content_name"])
}

func TestSanitizeNumericCoercion(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected any
		kept     bool
	}{
		{"string number", "19.99", 19.99, true},
		{"padded string", " 5 ", 5.0, true},
		{"number", 42.5, 42.5, true},
		{"not a number", "not-a-number", nil, false},
		{"placeholder", "{{ cart.total_price }}", nil, false},
		{"empty", "", nil, false},
		{"object", map[string]any{"a": 1.0}, nil, false},
		{"NaN string", "NaN", nil, false},
		{"Infinity string", "Infinity", nil, false},
		{"negative inf string", "-inf", nil, false},
		{"NaN float", math.NaN(), nil, false},
		{"inf float", math.Inf(1), nil, false},
		{"overflowing json number", json.Number("1e999"), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Sanitize(map[string]any{"value": tt.value})
			v, found := out["value"]
			assert.Equal(t, tt.kept, found)
			if tt.kept {
				assert.Equal(t, tt.expected, v)
			}
		})
	}

	out := Sanitize(map[string]any{"quantity": "3", "num_items": "x", "item_count": 2.0})
	assert.Equal(t, 3.0, out["quantity"])
	assert.NotContains(t, out, "num_items")
	assert.Equal(t, 2.0, out["item_count"])
}

func TestSanitizeArrays(t *testing.T) {
	out := Sanitize(map[string]any{
		"content_ids": []any{"123", "{{ product.id }}", 456.0},
		"tags":        []any{"{{ a }}", "{{ b }}"},
		"empty":       []any{},
	})

	assert.Equal(t, []any{"123", 456.0}, out["content_ids"])
	assert.NotContains(t, out, "tags")
	assert.NotContains(t, out, "empty")
}

func TestSanitizeNested(t *testing.T) {
	out := Sanitize(map[string]any{
		"contents": []any{
			map[string]any{"id": "1", "quantity": "2"},
			map[string]any{"id": "{{ variant.id }}"},
		},
		"meta": map[string]any{
			"title": "{{ page.title }}",
		},
		"flags": map[string]any{
			"sale":  true,
			"label": "{{ x }}",
		},
		"note": nil,
	})

	assert.Equal(t, []any{map[string]any{"id": "1", "quantity": 2.0}}, out["contents"])
	assert.NotContains(t, out, "meta")
	assert.Equal(t, map[string]any{"sale": true}, out["flags"])
	assert.NotContains(t, out, "note")
}

func TestSanitizePassThrough(t *testing.T) {
	in := map[string]any{"subscribed": false, "score": 7.0, "label": "plain"}
	assert.Equal(t, in, Sanitize(in))
	assert.Empty(t, Sanitize(nil))
}

func TestParseNumber(t *testing.T) {
	f, ok := ParseNumber("19.99")
	assert.True(t, ok)
	assert.Equal(t, 19.99, f)

	_, ok = ParseNumber("{{ 1 }}")
	assert.False(t, ok)
	_, ok = ParseNumber("abc")
	assert.False(t, ok)

	for _, s := range []string{"NaN", "nan", "Infinity", "-inf", "+Inf", "1e999"} {
		_, ok = ParseNumber(s)
		assert.False(t, ok, s)
	}
}
