// Package clpayload convertit le corps brut envoyé par le script de tracking
// en Input canonique. Aucune donnée non typée ne sort d'ici, à part CustomData
// (stockée telle quelle) et ForwardData (déjà nettoyée).
package clpayload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrMalformedBody    = errors.New("malformed JSON body")
	ErrMissingPixelID   = errors.New("pixelId is required")
	ErrMissingEventName = errors.New("eventName is required")
)

const (
	maxURLLength   = 2048
	maxFieldLength = 255
)

type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

type Input struct {
	PixelID   string
	EventName string

	URL       string
	Referrer  string
	PageTitle string
	Language  string

	SessionID   string
	VisitorID   string
	Fingerprint string

	ScreenWidth  int
	ScreenHeight int

	UTM UTM

	Value       *float64
	Currency    string
	ProductID   string
	ProductName string
	Quantity    *int

	// CustomData est persistée brute, placeholders compris
	CustomData map[string]any
	// ForwardData : données commerce + custom nettoyées pour la Conversions API
	ForwardData map[string]any
}

// Visitor retourne l'identifiant visiteur le plus stable disponible
func (in *Input) Visitor() string {
	if in.Fingerprint != "" {
		return in.Fingerprint
	}
	return in.VisitorID
}

// Parse accepte un objet plat ou l'enveloppe {"variables":{"input":{...}}}
func Parse(body []byte) (*Input, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return FromMap(unwrap(raw))
}

// ParseQuery gère le repli GET : ?event=<nom>&d=<json base64>
func ParseQuery(values url.Values) (*Input, error) {
	m := map[string]any{}

	if data := firstQuery(values, "data", "d", "payload"); data != "" {
		decoded, err := decodeBase64(data)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 payload", ErrMalformedBody)
		}
		if err := json.Unmarshal(decoded, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		m = unwrap(m)
		if m == nil {
			m = map[string]any{}
		}
	}

	if event := firstQuery(values, "event", "e", "eventName"); event != "" {
		m["eventName"] = event
	}
	if pixelID := firstQuery(values, "pixelId", "pixel_id", "p"); pixelID != "" {
		m["pixelId"] = pixelID
	}

	return FromMap(m)
}

// FromMap construit et valide l'Input canonique
func FromMap(m map[string]any) (*Input, error) {
	in := &Input{
		PixelID:   truncate(firstString(m, "pixelId", "pixel_id", "pid"), maxFieldLength),
		EventName: truncate(firstString(m, "eventName", "event_name", "event", "name"), maxFieldLength),
	}
	if in.PixelID == "" {
		return nil, ErrMissingPixelID
	}
	if in.EventName == "" {
		return nil, ErrMissingEventName
	}

	in.URL = truncate(firstString(m, "url", "pageUrl", "page_url"), maxURLLength)
	in.Referrer = truncate(firstString(m, "referrer", "referer"), maxURLLength)
	in.PageTitle = truncate(firstString(m, "pageTitle", "page_title", "title"), maxFieldLength)
	in.Language = truncate(firstString(m, "language", "lang"), 32)
	in.SessionID = truncate(firstString(m, "sessionId", "session_id"), 128)
	in.VisitorID = truncate(firstString(m, "visitorId", "visitor_id"), 128)
	in.Fingerprint = truncate(firstString(m, "fingerprint"), 128)
	in.ScreenWidth = firstInt(m, "screenWidth", "screen_width")
	in.ScreenHeight = firstInt(m, "screenHeight", "screen_height")

	in.UTM = UTM{
		Source:   truncate(firstString(m, "utmSource", "utm_source"), maxFieldLength),
		Medium:   truncate(firstString(m, "utmMedium", "utm_medium"), maxFieldLength),
		Campaign: truncate(firstString(m, "utmCampaign", "utm_campaign"), maxFieldLength),
		Term:     truncate(firstString(m, "utmTerm", "utm_term"), maxFieldLength),
		Content:  truncate(firstString(m, "utmContent", "utm_content"), maxFieldLength),
	}
	if in.UTM == (UTM{}) && in.URL != "" {
		in.UTM = utmFromURL(in.URL)
	}

	rawValue, hasValue := first(m, "value")
	if hasValue {
		in.Value = number(rawValue)
	}
	in.Currency = strings.ToUpper(truncate(firstString(m, "currency"), 8))
	rawProductID, hasProductID := first(m, "productId", "product_id")
	in.ProductID = truncate(stringOf(rawProductID), maxFieldLength)
	rawProductName, hasProductName := first(m, "productName", "product_name")
	in.ProductName = truncate(stringOf(rawProductName), maxFieldLength)
	rawQuantity, hasQuantity := first(m, "quantity")
	if hasQuantity {
		// hors bornes : pas de quantité plutôt qu'un entier débordé
		if f := number(rawQuantity); f != nil && *f >= 0 && *f < math.MaxInt32 {
			q := int(math.Round(*f))
			in.Quantity = &q
		}
	}

	if custom, ok := firstMap(m, "customData", "custom_data", "properties"); ok {
		in.CustomData = custom
	}

	// les champs commerce gardent leur forme brute : Sanitize décide
	forward := map[string]any{}
	if hasValue {
		forward["value"] = rawValue
	}
	if in.Currency != "" {
		forward["currency"] = in.Currency
	}
	// le fournisseur attend des identifiants texte
	if productID := stringOf(rawProductID); hasProductID && productID != "" {
		forward["content_ids"] = []any{productID}
		forward["content_type"] = "product"
	}
	if hasProductName {
		forward["content_name"] = rawProductName
	}
	if hasQuantity {
		forward["num_items"] = rawQuantity
	}
	for k, v := range in.CustomData {
		forward[k] = v
	}
	in.ForwardData = Sanitize(forward)

	return in, nil
}

func unwrap(raw map[string]any) map[string]any {
	vars, ok := raw["variables"].(map[string]any)
	if !ok {
		return raw
	}
	input, ok := vars["input"].(map[string]any)
	if !ok {
		return raw
	}
	return input
}

func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int {
	v, ok := first(m, keys...)
	if !ok {
		return 0
	}
	if f := number(v); f != nil && *f > 0 && *f < math.MaxInt32 {
		return int(*f)
	}
	return 0
}

func firstMap(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if obj, ok := m[k].(map[string]any); ok {
			return obj, true
		}
	}
	return nil, false
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// number tolère les chaînes numériques, comme le font les thèmes
func number(v any) *float64 {
	switch t := v.(type) {
	case float64:
		if finite(t) {
			return &t
		}
	case string:
		if f, ok := ParseNumber(t); ok {
			return &f
		}
	}
	return nil
}

func firstQuery(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(values.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func decodeBase64(s string) ([]byte, error) {
	// un "+" non encodé dans l'URL arrive en espace
	s = strings.ReplaceAll(s, " ", "+")
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var err error
	for _, enc := range encodings {
		var decoded []byte
		if decoded, err = enc.DecodeString(s); err == nil {
			return decoded, nil
		}
	}
	return nil, err
}

func utmFromURL(raw string) UTM {
	u, err := url.Parse(raw)
	if err != nil {
		return UTM{}
	}
	q := u.Query()
	return UTM{
		Source:   truncate(q.Get("utm_source"), maxFieldLength),
		Medium:   truncate(q.Get("utm_medium"), maxFieldLength),
		Campaign: truncate(q.Get("utm_campaign"), maxFieldLength),
		Term:     truncate(q.Get("utm_term"), maxFieldLength),
		Content:  truncate(q.Get("utm_content"), maxFieldLength),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// ne pas couper au milieu d'un caractère UTF-8
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
