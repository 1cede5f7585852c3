package clpixels

import (
	"pixeltrack/internal/models/clevents"
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Pixel est la configuration de tracking d'une boutique.
// Elle est éditée par l'application d'administration ; ici on ne fait que la lire.
type Pixel struct {
	ID   string `gorm:"primaryKey;size:64" json:"id"`
	Shop string `gorm:"index;size:255" json:"shop"`
	Name string `gorm:"size:255" json:"name"`

	RecordIP       bool `gorm:"not null" json:"recordIp"`
	RecordLocation bool `gorm:"not null" json:"recordLocation"`
	RecordSession  bool `gorm:"not null" json:"recordSession"`

	// noms standard séparés par des virgules (ex: "AddToCart,Search")
	DisabledEvents string `gorm:"type:text" json:"disabledEvents"`

	ConversionsEnabled  bool   `json:"conversionsEnabled"`
	ConversionsVerified bool   `json:"conversionsVerified"`
	ProviderPixelID     string `gorm:"size:64" json:"providerPixelId"`
	AccessToken         string `gorm:"type:text" json:"accessToken"`
	TestEventCode       string `gorm:"size:64" json:"testEventCode"`

	CustomEvents []CustomEvent `gorm:"foreignKey:PixelID" json:"customEvents"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CustomEvent : interaction définie par le marchand (clic sur un bouton...)
type CustomEvent struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	PixelID           string            `gorm:"size:64;not null;uniqueIndex:idx_custom_event_pixel_name" json:"pixelId"`
	Name              string            `gorm:"size:255;not null;uniqueIndex:idx_custom_event_pixel_name" json:"name"`
	ProviderEventName string            `gorm:"size:255" json:"providerEventName"`
	Active            bool              `gorm:"not null" json:"active"`
	DefaultData       datatypes.JSONMap `json:"defaultData"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

func (Pixel) TableName() string {
	return "pixels"
}

func (CustomEvent) TableName() string {
	return "custom_events"
}

// ConversionsReady : l'intégration est active, vérifiée et a des identifiants
func (p *Pixel) ConversionsReady() bool {
	return p.ConversionsEnabled && p.ConversionsVerified &&
		p.ProviderPixelID != "" && p.AccessToken != ""
}

// ActiveCustomEvent retourne la définition active portant ce nom
func (p *Pixel) ActiveCustomEvent(name string) *CustomEvent {
	for i := range p.CustomEvents {
		ce := &p.CustomEvents[i]
		if ce.Active && strings.EqualFold(ce.Name, name) {
			return ce
		}
	}
	return nil
}

// AutoTrackEnabled indique si un événement standard est suivi automatiquement
func (p *Pixel) AutoTrackEnabled(standardName string) bool {
	if p.DisabledEvents == "" {
		return true
	}
	disabled := strings.Split(p.DisabledEvents, ",")
	for i := range disabled {
		disabled[i] = clevents.Normalize(disabled[i])
	}
	return !slices.Contains(disabled, clevents.Normalize(standardName))
}
