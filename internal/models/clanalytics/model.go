package clanalytics

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrImmutableEvent = errors.New("events are write-once")

// Event représente une action suivie, écrite une seule fois
type Event struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	PixelID   string `gorm:"size:64;not null;index:idx_events_pixel_created" json:"pixelId"`
	EventName string `gorm:"size:255;not null;index" json:"eventName"`

	URL       string `gorm:"type:text" json:"url"`
	Referrer  string `gorm:"type:text" json:"referrer"`
	PageTitle string `gorm:"size:255" json:"pageTitle"`

	SessionID   string `gorm:"size:128;index" json:"sessionId"`
	Fingerprint string `gorm:"size:128;index" json:"fingerprint"`

	UserAgent      string `gorm:"type:text" json:"userAgent"`
	Browser        string `gorm:"size:64" json:"browser"`
	BrowserVersion string `gorm:"size:64" json:"browserVersion"`
	OS             string `gorm:"size:64" json:"os"`
	OSVersion      string `gorm:"size:64" json:"osVersion"`
	DeviceType     string `gorm:"size:16" json:"deviceType"`
	ScreenWidth    int    `json:"screenWidth"`
	ScreenHeight   int    `json:"screenHeight"`
	Language       string `gorm:"size:32" json:"language"`

	UTMSource   string `gorm:"size:255" json:"utmSource"`
	UTMMedium   string `gorm:"size:255" json:"utmMedium"`
	UTMCampaign string `gorm:"size:255" json:"utmCampaign"`
	UTMTerm     string `gorm:"size:255" json:"utmTerm"`
	UTMContent  string `gorm:"size:255" json:"utmContent"`

	Value       *float64 `json:"value"`
	Currency    string   `gorm:"size:8" json:"currency"`
	ProductID   string   `gorm:"size:255" json:"productId"`
	ProductName string   `gorm:"size:255" json:"productName"`
	Quantity    *int     `json:"quantity"`

	// null quand la configuration du pixel l'interdit
	IPAddress   *string `gorm:"size:64" json:"ipAddress"`
	City        *string `gorm:"size:128" json:"city"`
	Region      *string `gorm:"size:128" json:"region"`
	Country     *string `gorm:"size:128" json:"country"`
	CountryCode *string `gorm:"size:8" json:"countryCode"`
	Timezone    *string `gorm:"size:64" json:"timezone"`

	CustomData datatypes.JSONMap `json:"customData"`

	CreatedAt time.Time `gorm:"index:idx_events_pixel_created" json:"createdAt"`
}

// Session regroupe les événements d'une visite
type Session struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PixelID     string    `gorm:"size:64;not null;uniqueIndex:idx_sessions_pixel_session" json:"pixelId"`
	SessionID   string    `gorm:"size:128;not null;uniqueIndex:idx_sessions_pixel_session" json:"sessionId"`
	Fingerprint string    `gorm:"size:128" json:"fingerprint"`
	Browser     string    `gorm:"size:64" json:"browser"`
	OS          string    `gorm:"size:64" json:"os"`
	DeviceType  string    `gorm:"size:16" json:"deviceType"`
	Country     string    `gorm:"size:128" json:"country"`
	Pageviews   int       `gorm:"not null" json:"pageviews"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `gorm:"index" json:"lastSeen"`
}

// DailyStat : compteurs par pixel et par jour UTC
type DailyStat struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	PixelID     string    `gorm:"size:64;not null;uniqueIndex:idx_daily_stats_pixel_date" json:"pixelId"`
	Date        time.Time `gorm:"not null;uniqueIndex:idx_daily_stats_pixel_date" json:"date"`
	Pageviews   int64     `gorm:"not null" json:"pageviews"`
	UniqueUsers int64     `gorm:"not null" json:"uniqueUsers"`
	Sessions    int64     `gorm:"not null" json:"sessions"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Event) TableName() string {
	return "events"
}

func (Session) TableName() string {
	return "sessions"
}

func (DailyStat) TableName() string {
	return "daily_stats"
}

func (e *Event) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableEvent
}

// Day retourne minuit UTC du jour de t
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Models liste les tables gérées par ce package
func Models() []any {
	return []any{&Event{}, &Session{}, &DailyStat{}}
}
