// Package clingest orchestre le traitement d'un appel de tracking :
// résolution du pixel, enrichissement, persistance, agrégats et transmission.
// Seules la validation et la persistance peuvent faire échouer la requête.
package clingest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"pixeltrack/internal/models/clanalytics"
	"pixeltrack/internal/models/clconversions"
	"pixeltrack/internal/models/cldevice"
	"pixeltrack/internal/models/clevents"
	"pixeltrack/internal/models/cllog"
	"pixeltrack/internal/models/clgeo"
	"pixeltrack/internal/models/clpayload"
	"pixeltrack/internal/models/clpixels"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

var ErrStoreUnavailable = errors.New("event store unavailable")

type PixelSource interface {
	Get(ctx context.Context, id string) (*clpixels.Pixel, error)
}

type Recorder interface {
	CreateEvent(ctx context.Context, event *clanalytics.Event) error
	Record(ctx context.Context, event *clanalytics.Event, withSession bool) error
}

type Forwarder interface {
	Forward(ctx context.Context, pixel *clpixels.Pixel, src clconversions.Source)
}

type Request struct {
	Input     *clpayload.Input
	ClientIP  string
	UserAgent string
}

type Result struct {
	EventID string `json:"eventId"`
}

type Service struct {
	pixels    PixelSource
	recorder  Recorder
	forwarder Forwarder
	geo       clgeo.Resolver
	logger    zerolog.Logger
	newID     func() (uuid.UUID, error)
	now       func() time.Time
}

// New : forwarder peut être nil (Conversions API désactivée globalement)
func New(pixels PixelSource, recorder Recorder, forwarder Forwarder, geo clgeo.Resolver) *Service {
	if geo == nil {
		geo = clgeo.Noop{}
	}
	return &Service{
		pixels:    pixels,
		recorder:  recorder,
		forwarder: forwarder,
		geo:       geo,
		logger:    cllog.Component("ingest"),
		newID:     uuid.NewV7,
		now:       time.Now,
	}
}

func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	in := req.Input
	if in == nil {
		return Result{}, clpayload.ErrMalformedBody
	}
	if in.PixelID == "" {
		return Result{}, clpayload.ErrMissingPixelID
	}
	if in.EventName == "" {
		return Result{}, clpayload.ErrMissingEventName
	}

	pixel, err := s.pixels.Get(ctx, in.PixelID)
	if err != nil {
		if errors.Is(err, clpixels.ErrPixelNotFound) {
			return Result{}, err
		}
		return Result{}, classify(err)
	}

	id, err := s.newID()
	if err != nil {
		return Result{}, fmt.Errorf("generate event id: %w", err)
	}

	event := s.enrich(ctx, pixel, req, id.String())

	if err := s.recorder.CreateEvent(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("pixel_id", pixel.ID).Str("event_name", event.EventName).Msg("event not persisted")
		return Result{}, classify(err)
	}

	// l'événement est durable : la suite ne dépend plus de la connexion du client
	bg := context.WithoutCancel(ctx)

	if err := s.recorder.Record(bg, event, pixel.RecordSession); err != nil {
		s.logger.Warn().Err(err).Str("pixel_id", pixel.ID).Str("event_id", event.ID).Msg("session and rollup update failed")
	}

	if s.shouldForward(pixel, in.EventName) {
		s.forwarder.Forward(bg, pixel, clconversions.Source{
			EventID:   event.ID,
			Input:     in,
			ClientIP:  req.ClientIP,
			UserAgent: req.UserAgent,
		})
	}

	return Result{EventID: event.ID}, nil
}

func (s *Service) enrich(ctx context.Context, pixel *clpixels.Pixel, req Request, id string) *clanalytics.Event {
	in := req.Input
	device := cldevice.Parse(req.UserAgent)

	event := &clanalytics.Event{
		ID:             id,
		PixelID:        pixel.ID,
		EventName:      in.EventName,
		URL:            in.URL,
		Referrer:       in.Referrer,
		PageTitle:      in.PageTitle,
		SessionID:      in.SessionID,
		Fingerprint:    in.Visitor(),
		UserAgent:      req.UserAgent,
		Browser:        device.Browser,
		BrowserVersion: device.BrowserVersion,
		OS:             device.OS,
		OSVersion:      device.OSVersion,
		DeviceType:     cldevice.DeviceType(req.UserAgent, in.ScreenWidth),
		ScreenWidth:    in.ScreenWidth,
		ScreenHeight:   in.ScreenHeight,
		Language:       in.Language,
		UTMSource:      in.UTM.Source,
		UTMMedium:      in.UTM.Medium,
		UTMCampaign:    in.UTM.Campaign,
		UTMTerm:        in.UTM.Term,
		UTMContent:     in.UTM.Content,
		Value:          in.Value,
		Currency:       in.Currency,
		ProductID:      in.ProductID,
		ProductName:    in.ProductName,
		Quantity:       in.Quantity,
		CreatedAt:      s.now().UTC(),
	}
	if len(in.CustomData) > 0 {
		event.CustomData = datatypes.JSONMap(in.CustomData)
	}

	if pixel.RecordIP {
		event.IPAddress = optional(req.ClientIP)
	}
	if pixel.RecordLocation && req.ClientIP != "" {
		if loc := s.geo.Lookup(ctx, req.ClientIP); !loc.IsZero() {
			event.City = optional(loc.City)
			event.Region = optional(loc.Region)
			event.Country = optional(loc.Country)
			event.CountryCode = optional(loc.CountryCode)
			event.Timezone = optional(loc.Timezone)
		}
	}
	return event
}

// shouldForward : intégration prête, et pour un événement standard, suivi automatique actif
func (s *Service) shouldForward(pixel *clpixels.Pixel, name string) bool {
	if s.forwarder == nil || !pixel.ConversionsReady() {
		return false
	}
	if std, ok := clevents.Standard(name); ok && pixel.ActiveCustomEvent(name) == nil {
		return pixel.AutoTrackEnabled(std)
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// classify distingue une base injoignable (503) d'une erreur interne (500)
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

// StatusFor traduit une erreur d'ingestion en code HTTP
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, clpayload.ErrMalformedBody),
		errors.Is(err, clpayload.ErrMissingPixelID),
		errors.Is(err, clpayload.ErrMissingEventName):
		return http.StatusBadRequest
	case errors.Is(err, clpixels.ErrPixelNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
