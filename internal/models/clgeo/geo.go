// Package clgeo résout une IP cliente en localisation.
// Un échec de résolution n'est jamais une erreur pour l'appelant.
package clgeo

import (
	"context"
	"fmt"
	"net/netip"
	"pixeltrack/internal/models/clcache"
	"time"

	"github.com/oschwald/geoip2-golang/v2"
	"github.com/rs/zerolog/log"
)

const cacheTTL = time.Hour

type Location struct {
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

func (l Location) IsZero() bool {
	return l == Location{}
}

type Resolver interface {
	Lookup(ctx context.Context, ip string) Location
}

// Noop est utilisé quand la géolocalisation est désactivée
type Noop struct{}

func (Noop) Lookup(context.Context, string) Location { return Location{} }

// MaxMind lit une base GeoIP2/GeoLite2 City locale
type MaxMind struct {
	reader *geoip2.Reader
	cache  clcache.Cache
}

func Open(path string, cache clcache.Cache) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &MaxMind{reader: reader, cache: cache}, nil
}

func (m *MaxMind) Close() error {
	if m.reader == nil {
		return nil
	}
	return m.reader.Close()
}

func (m *MaxMind) Lookup(ctx context.Context, ip string) Location {
	addr, ok := PublicAddr(ip)
	if !ok {
		return Location{}
	}

	key := "geo:" + addr.String()
	if m.cache != nil {
		if loc, found := clcache.GetJSON[Location](ctx, m.cache, key); found {
			return loc
		}
	}

	if m.reader == nil {
		return Location{}
	}

	record, err := m.reader.City(addr)
	if err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("geoip lookup failed")
		return Location{}
	}
	if !record.HasData() {
		log.Debug().Str("ip", ip).Msg("geoip: no data")
		return Location{}
	}

	loc := Location{
		City:        record.City.Names.English,
		Country:     record.Country.Names.English,
		CountryCode: record.Country.ISOCode,
		Timezone:    record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names.English
	}

	if m.cache != nil {
		clcache.SetJSON(ctx, m.cache, key, loc, cacheTTL)
	}
	return loc
}

// PublicAddr rejette les IP invalides, privées ou locales
func PublicAddr(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return netip.Addr{}, false
	}
	return addr, true
}
