package clpayload

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlat(t *testing.T) {
	body := `{
		"pixelId": "px-1",
		"eventName": "add_to_cart",
		"url": "https://shop.example/products/tee?utm_source=ig&utm_medium=social",
		"referrer": "https://instagram.com/",
		"sessionId": "s-1",
		"visitorId": "v-1",
		"fingerprint": "fp-1",
		"screenWidth": 390,
		"screenHeight": "844",
		"language": "fr-FR",
		"pageTitle": "Tee",
		"value": "19.99",
		"currency": "eur",
		"productId": 123,
		"productName": "{{ product.title }}",
		"quantity": 2,
		"customData": {"variant": "{{ variant.id }}", "color": "blue"}
	}`

	in, err := Parse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "px-1", in.PixelID)
	assert.Equal(t, "add_to_cart", in.EventName)
	assert.Equal(t, "s-1", in.SessionID)
	assert.Equal(t, "fp-1", in.Visitor())
	assert.Equal(t, 390, in.ScreenWidth)
	assert.Equal(t, 844, in.ScreenHeight)
	assert.Equal(t, "ig", in.UTM.Source)
	assert.Equal(t, "social", in.UTM.Medium)
	require.NotNil(t, in.Value)
	assert.Equal(t, 19.99, *in.Value)
	assert.Equal(t, "EUR", in.Currency)
	assert.Equal(t, "123", in.ProductID)
	require.NotNil(t, in.Quantity)
	assert.Equal(t, 2, *in.Quantity)

	// brut pour la persistance
	assert.Equal(t, "{{ variant.id }}", in.CustomData["variant"])

	// nettoyé pour la Conversions API
	assert.Equal(t, 19.99, in.ForwardData["value"])
	assert.Equal(t, "EUR", in.ForwardData["currency"])
	assert.Equal(t, []any{"123"}, in.ForwardData["content_ids"])
	assert.Equal(t, 2.0, in.ForwardData["num_items"])
	assert.Equal(t, "blue", in.ForwardData["color"])
	assert.NotContains(t, in.ForwardData, "content_name")
	assert.NotContains(t, in.ForwardData, "variant")
}

func TestParseWrapped(t *testing.T) {
	body := `{"query":"mutation","variables":{"input":{"pixel_id":"px-2","event_name":"pageview","properties":{"a":"b"}}}}`

	in, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "px-2", in.PixelID)
	assert.Equal(t, "pageview", in.EventName)
	assert.Equal(t, map[string]any{"a": "b"}, in.CustomData)
}

func TestParseInvalidValue(t *testing.T) {
	in, err := Parse([]byte(`{"pixelId":"p","eventName":"purchase","value":"not-a-number"}`))
	require.NoError(t, err)
	assert.Nil(t, in.Value)
	assert.NotContains(t, in.ForwardData, "value")
}

func TestParseNonFiniteValue(t *testing.T) {
	for _, v := range []string{"NaN", "Infinity", "-inf"} {
		t.Run(v, func(t *testing.T) {
			in, err := Parse([]byte(`{"pixelId":"p","eventName":"purchase","currency":"EUR","value":"` + v + `","quantity":"` + v + `"}`))
			require.NoError(t, err)
			assert.Nil(t, in.Value)
			assert.Nil(t, in.Quantity)
			assert.NotContains(t, in.ForwardData, "value")
			assert.NotContains(t, in.ForwardData, "num_items")
			assert.Equal(t, "EUR", in.ForwardData["currency"])
		})
	}
}

func TestParseQuantityBounds(t *testing.T) {
	tests := []struct {
		quantity string
		expected *int
	}{
		{`2.6`, intPtr(3)},
		{`"0"`, intPtr(0)},
		{`1e30`, nil},
		{`"1e30"`, nil},
		{`-4`, nil},
		{`2147483647`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.quantity, func(t *testing.T) {
			in, err := Parse([]byte(`{"pixelId":"p","eventName":"add_to_cart","quantity":` + tt.quantity + `}`))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, in.Quantity)
		})
	}
}

func TestParseNumericProductID(t *testing.T) {
	in, err := Parse([]byte(`{"pixelId":"p","eventName":"view_content","productId":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", in.ProductID)
	assert.Equal(t, []any{"42"}, in.ForwardData["content_ids"])
	assert.Equal(t, "product", in.ForwardData["content_type"])

	in, err = Parse([]byte(`{"pixelId":"p","eventName":"view_content","productId":"  "}`))
	require.NoError(t, err)
	assert.NotContains(t, in.ForwardData, "content_ids")
	assert.NotContains(t, in.ForwardData, "content_type")
}

func intPtr(i int) *int { return &i }

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"malformed", `{"pixelId":`, ErrMalformedBody},
		{"array", `[1,2]`, ErrMalformedBody},
		{"missing pixel", `{"eventName":"pageview"}`, ErrMissingPixelID},
		{"missing event", `{"pixelId":"px"}`, ErrMissingEventName},
		{"blank event", `{"pixelId":"px","eventName":"   "}`, ErrMissingEventName},
		{"null", `null`, ErrMissingPixelID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseQuery(t *testing.T) {
	payload := `{"pixelId":"px-3","url":"https://shop.example/","sessionId":"s"}`

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding} {
		values := url.Values{}
		values.Set("event", "pageview")
		values.Set("d", enc.EncodeToString([]byte(payload)))

		in, err := ParseQuery(values)
		require.NoError(t, err)
		assert.Equal(t, "px-3", in.PixelID)
		assert.Equal(t, "pageview", in.EventName)
		assert.Equal(t, "https://shop.example/", in.URL)
	}

	_, err := ParseQuery(url.Values{"event": {"pageview"}, "d": {"%%%"}})
	assert.ErrorIs(t, err, ErrMalformedBody)

	_, err = ParseQuery(url.Values{"p": {"px"}})
	assert.ErrorIs(t, err, ErrMissingEventName)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "é" fait deux octets
	assert.Equal(t, "a", truncate("aé", 2))
}
