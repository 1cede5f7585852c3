// Package clconversions transmet les événements à la Conversions API
// (server-to-server) du fournisseur publicitaire.
package clconversions

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"pixeltrack/internal/models/clevents"
	"pixeltrack/internal/models/cllog"
	"pixeltrack/internal/models/clpayload"
	"pixeltrack/internal/models/clpixels"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const actionSourceWebsite = "website"

// codes d'erreur du fournisseur signalant un token invalide ou expiré
var authErrorCodes = map[int]bool{
	102: true,
	190: true,
}

type Config struct {
	BaseURL            string
	APIVersion         string
	Timeout            time.Duration
	DisableOnAuthError bool
}

// Disabler coupe l'intégration d'un pixel (clpixels.Store en production)
type Disabler interface {
	DisableConversions(ctx context.Context, pixelID string, reason string) error
}

type UserData struct {
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
}

type ServerEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	UserData       UserData       `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type requestBody struct {
	Data          []ServerEvent `json:"data"`
	AccessToken   string        `json:"access_token"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

// Source : l'événement déjà persisté et le contexte client de la requête
type Source struct {
	EventID   string
	Input     *clpayload.Input
	ClientIP  string
	UserAgent string
}

// ProviderError : réponse non-2xx de la Conversions API
type ProviderError struct {
	Status    int
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("conversions API error (status %d, code %d/%d, %s): %s", e.Status, e.Code, e.Subcode, e.Type, e.Message)
}

func (e *ProviderError) AuthError() bool {
	return authErrorCodes[e.Code]
}

// IsAuthError indique une erreur d'authentification du fournisseur
func IsAuthError(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.AuthError()
}

type Forwarder struct {
	cfg      Config
	client   *http.Client
	disabler Disabler
	logger   zerolog.Logger
	now      func() time.Time
}

// New : disabler peut être nil, les erreurs d'authentification sont alors seulement loguées
func New(cfg Config, disabler Disabler) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Forwarder{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		disabler: disabler,
		logger:   cllog.Component("conversions"),
		now:      time.Now,
	}
}

// ResolveEventName : custom event actif avec correspondance > nom standard > nom brut
func ResolveEventName(pixel *clpixels.Pixel, name string) string {
	if ce := pixel.ActiveCustomEvent(name); ce != nil && ce.ProviderEventName != "" {
		return ce.ProviderEventName
	}
	if std, ok := clevents.Standard(name); ok {
		return std
	}
	return name
}

// ExternalID hache l'identifiant visiteur, jamais transmis en clair
func ExternalID(visitor string) string {
	if visitor == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(visitor))
	return hex.EncodeToString(sum[:])
}

func (f *Forwarder) BuildEvent(pixel *clpixels.Pixel, src Source) ServerEvent {
	in := src.Input

	custom := map[string]any{}
	if ce := pixel.ActiveCustomEvent(in.EventName); ce != nil {
		for k, v := range ce.DefaultData {
			custom[k] = v
		}
	}
	for k, v := range in.ForwardData {
		custom[k] = v
	}
	custom = clpayload.Sanitize(custom)

	user := UserData{
		ClientIPAddress: src.ClientIP,
		ClientUserAgent: src.UserAgent,
	}
	if id := ExternalID(in.Visitor()); id != "" {
		user.ExternalID = []string{id}
	}

	event := ServerEvent{
		EventName:      ResolveEventName(pixel, in.EventName),
		EventTime:      f.now().Unix(),
		EventID:        src.EventID,
		EventSourceURL: in.URL,
		ActionSource:   actionSourceWebsite,
		UserData:       user,
	}
	if len(custom) > 0 {
		event.CustomData = custom
	}
	return event
}

func (f *Forwarder) endpoint(providerPixelID string) string {
	return fmt.Sprintf("%s/%s/%s/events", f.cfg.BaseURL, f.cfg.APIVersion, url.PathEscape(providerPixelID))
}

// Send effectue un unique appel, sans retry
func (f *Forwarder) Send(ctx context.Context, pixel *clpixels.Pixel, event ServerEvent) error {
	body, err := json.Marshal(requestBody{
		Data:          []ServerEvent{event},
		AccessToken:   pixel.AccessToken,
		TestEventCode: pixel.TestEventCode,
	})
	if err != nil {
		return fmt.Errorf("encode conversions payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint(pixel.ProviderPixelID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build conversions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("conversions request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	perr := &ProviderError{Status: resp.StatusCode}
	var envelope struct {
		Error *ProviderError `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		perr = envelope.Error
		perr.Status = resp.StatusCode
	} else {
		perr.Message = strings.TrimSpace(string(raw))
	}
	return perr
}

// Forward construit et envoie l'événement. Les erreurs sont loguées, jamais remontées.
func (f *Forwarder) Forward(ctx context.Context, pixel *clpixels.Pixel, src Source) {
	event := f.BuildEvent(pixel, src)

	err := f.Send(ctx, pixel, event)
	if err == nil {
		f.logger.Debug().
			Str("pixel_id", pixel.ID).
			Str("event_name", event.EventName).
			Str("event_id", event.EventID).
			Msg("event forwarded")
		return
	}

	logEvent := f.logger.Warn().Err(err).
		Str("pixel_id", pixel.ID).
		Str("event_name", event.EventName).
		Str("event_id", event.EventID)
	var perr *ProviderError
	if errors.As(err, &perr) {
		logEvent = logEvent.
			Int("provider_code", perr.Code).
			Int("provider_subcode", perr.Subcode).
			Str("fbtrace_id", perr.FBTraceID)
	}
	logEvent.Msg("conversions API forwarding failed")

	if f.cfg.DisableOnAuthError && f.disabler != nil && IsAuthError(err) {
		if derr := f.disabler.DisableConversions(ctx, pixel.ID, perr.Message); derr != nil {
			f.logger.Error().Err(derr).Str("pixel_id", pixel.ID).Msg("failed to disable conversions")
		}
	}
}
