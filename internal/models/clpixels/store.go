package clpixels

import (
	"context"
	"errors"
	"fmt"
	"pixeltrack/internal/models/clcache"
	"pixeltrack/internal/models/clconfig"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPixelNotFound = errors.New("pixel not found")

// Store lit les pixels avec un cache à durée de vie bornée.
// Toute modification doit passer par Invalidate.
type Store struct {
	db    *gorm.DB
	cache clcache.Cache
	ttl   time.Duration
}

func NewStore(db *gorm.DB, cache clcache.Cache, ttl time.Duration) *Store {
	return &Store{db: db, cache: cache, ttl: ttl}
}

func cacheKey(id string) string {
	return "pixel:" + id
}

func (s *Store) Get(ctx context.Context, id string) (*Pixel, error) {
	if s.cache != nil {
		if p, found := clcache.GetJSON[Pixel](ctx, s.cache, cacheKey(id)); found {
			return &p, nil
		}
	}

	var pixel Pixel
	err := s.db.WithContext(ctx).Preload("CustomEvents").Where("id = ?", id).First(&pixel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPixelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pixel %s: %w", id, err)
	}

	if s.cache != nil {
		clcache.SetJSON(ctx, s.cache, cacheKey(id), pixel, s.ttl)
	}
	return &pixel, nil
}

func (s *Store) Invalidate(ctx context.Context, id string) {
	if s.cache != nil {
		s.cache.Delete(ctx, cacheKey(id))
	}
}

// DisableConversions coupe l'intégration, typiquement après un token expiré
func (s *Store) DisableConversions(ctx context.Context, id string, reason string) error {
	res := s.db.WithContext(ctx).Model(&Pixel{}).Where("id = ?", id).
		Updates(map[string]any{
			"conversions_enabled":  false,
			"conversions_verified": false,
		})
	if res.Error != nil {
		return fmt.Errorf("disable conversions for %s: %w", id, res.Error)
	}
	s.Invalidate(ctx, id)

	log.Warn().Str("pixel_id", id).Str("reason", reason).Msg("conversions API disabled for pixel")
	return nil
}

// Seed crée ou met à jour les pixels déclarés dans la configuration
func (s *Store) Seed(ctx context.Context, seeds []clconfig.PixelConfig) error {
	for _, seed := range seeds {
		if seed.ID == "" {
			return fmt.Errorf("pixel seed without id")
		}
		pixel := pixelFromConfig(seed)

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Omit("CustomEvents").Create(&pixel).Error; err != nil {
				return err
			}
			for _, ce := range pixel.CustomEvents {
				ce.PixelID = pixel.ID
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "pixel_id"}, {Name: "name"}},
					DoUpdates: clause.AssignmentColumns([]string{"provider_event_name", "active", "default_data", "updated_at"}),
				}).Create(&ce).Error
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("seed pixel %s: %w", seed.ID, err)
		}

		s.Invalidate(ctx, seed.ID)
		log.Info().Str("pixel_id", seed.ID).Int("custom_events", len(seed.CustomEvents)).Msg("pixel seeded")
	}
	return nil
}

func pixelFromConfig(seed clconfig.PixelConfig) Pixel {
	pixel := Pixel{
		ID:                  seed.ID,
		Shop:                seed.Shop,
		Name:                seed.Name,
		RecordIP:            boolOr(seed.RecordIP, true),
		RecordLocation:      boolOr(seed.RecordLocation, true),
		RecordSession:       boolOr(seed.RecordSession, true),
		DisabledEvents:      strings.Join(seed.DisabledEvents, ","),
		ConversionsEnabled:  seed.ConversionsEnabled,
		ConversionsVerified: seed.ConversionsVerified,
		ProviderPixelID:     seed.ProviderPixelID,
		AccessToken:         seed.AccessToken,
		TestEventCode:       seed.TestEventCode,
	}
	for _, ce := range seed.CustomEvents {
		pixel.CustomEvents = append(pixel.CustomEvents, CustomEvent{
			Name:              ce.Name,
			ProviderEventName: ce.ProviderEventName,
			Active:            ce.Active,
			DefaultData:       datatypes.JSONMap(ce.DefaultData),
		})
	}
	return pixel
}

func boolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}
