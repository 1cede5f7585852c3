package handlers_track

import (
	"errors"
	"net/http"
	"pixeltrack/internal/models/clingest"
	"pixeltrack/internal/models/clpayload"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// un événement pèse quelques Ko, même avec un panier complet
const maxBodySize = 64 << 10

type response struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type TrackHandler struct {
	service *clingest.Service
}

func NewTrackHandler(service *clingest.Service) *TrackHandler {
	return &TrackHandler{
		service: service,
	}
}

// Post lit le corps brut quel que soit le Content-Type (sendBeacon envoie du text/plain)
func (th *TrackHandler) Post(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	body, err := c.GetRawData()
	if err != nil {
		th.fail(c, clpayload.ErrMalformedBody)
		return
	}

	input, err := clpayload.Parse(body)
	if err != nil {
		th.fail(c, err)
		return
	}
	th.ingest(c, input)
}

// Get : repli ?event=<nom>&d=<json base64>
func (th *TrackHandler) Get(c *gin.Context) {
	input, err := clpayload.ParseQuery(c.Request.URL.Query())
	if err != nil {
		th.fail(c, err)
		return
	}
	th.ingest(c, input)
}

func (th *TrackHandler) ingest(c *gin.Context, input *clpayload.Input) {
	result, err := th.service.Ingest(c.Request.Context(), clingest.Request{
		Input:     input,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		th.fail(c, err)
		return
	}

	c.JSON(clingest.StatusFor(nil), response{Success: true, EventID: result.EventID})
}

func (th *TrackHandler) fail(c *gin.Context, err error) {
	status := clingest.StatusFor(err)

	message := err.Error()
	switch {
	case errors.Is(err, clingest.ErrStoreUnavailable):
		message = "tracking temporarily unavailable"
	case status >= 500:
		message = "internal error"
	}
	if status >= 500 {
		log.Error().Err(err).Msg("tracking request failed")
	}

	c.JSON(status, response{Success: false, Error: message})
}
