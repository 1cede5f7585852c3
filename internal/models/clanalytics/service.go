package clanalytics

import (
	"context"
	"errors"
	"fmt"
	"pixeltrack/internal/models/clevents"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const realtimeTTL = 31 * 24 * time.Hour

type AnalyticsService struct {
	db    *gorm.DB
	redis *redis.Client
	cron  *cron.Cron
	now   func() time.Time
}

// NewAnalyticsService : redisClient peut être nil, les compteurs temps réel sont alors ignorés
func NewAnalyticsService(db *gorm.DB, redisClient *redis.Client) *AnalyticsService {
	return &AnalyticsService{
		db:    db,
		redis: redisClient,
		now:   time.Now,
	}
}

// CreateEvent est la seule écriture dont dépend le succès de l'ingestion
func (as *AnalyticsService) CreateEvent(ctx context.Context, event *Event) error {
	if event.PixelID == "" || event.EventName == "" {
		return errors.New("event without pixel or name")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = as.now().UTC()
	}
	if err := as.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Record met à jour session, statistiques du jour et compteurs temps réel.
// withSession=false quand le pixel n'enregistre pas les sessions.
func (as *AnalyticsService) Record(ctx context.Context, event *Event, withSession bool) error {
	pageview := clevents.IsPageview(event.EventName)

	created := false
	if withSession {
		var err error
		created, err = as.TrackSession(ctx, event)
		if err != nil {
			return err
		}
	}

	if err := as.IncrementDaily(ctx, event.PixelID, Day(event.CreatedAt), pageview, created); err != nil {
		return err
	}

	as.incrementRealtime(ctx, event, created)
	return nil
}

// TrackSession crée la session si elle est inconnue (created=true),
// sinon met à jour last_seen et le compteur de pages vues.
func (as *AnalyticsService) TrackSession(ctx context.Context, event *Event) (bool, error) {
	if event.SessionID == "" {
		return false, nil
	}

	seen := event.CreatedAt
	if seen.IsZero() {
		seen = as.now().UTC()
	}
	pageviews := 0
	if clevents.IsPageview(event.EventName) {
		pageviews = 1
	}

	session := Session{
		PixelID:     event.PixelID,
		SessionID:   event.SessionID,
		Fingerprint: event.Fingerprint,
		Browser:     event.Browser,
		OS:          event.OS,
		DeviceType:  event.DeviceType,
		Pageviews:   pageviews,
		FirstSeen:   seen,
		LastSeen:    seen,
	}
	if event.Country != nil {
		session.Country = *event.Country
	}

	// l'index unique (pixel, session) arbitre les premiers événements concurrents
	res := as.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&session)
	if res.Error != nil {
		return false, fmt.Errorf("create session: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	err := as.db.WithContext(ctx).Model(&Session{}).
		Where("pixel_id = ? AND session_id = ?", event.PixelID, event.SessionID).
		Updates(map[string]any{
			"last_seen": seen,
			"pageviews": gorm.Expr("pageviews + ?", pageviews),
		}).Error
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return false, nil
}

// IncrementDaily : un seul upsert atomique, aucune incrémentation perdue en concurrence
func (as *AnalyticsService) IncrementDaily(ctx context.Context, pixelID string, day time.Time, pageview bool, newSession bool) error {
	var pv, visitors int64
	if pageview {
		pv = 1
	}
	if newSession {
		visitors = 1
	}

	stat := DailyStat{
		PixelID:     pixelID,
		Date:        Day(day),
		Pageviews:   pv,
		UniqueUsers: visitors,
		Sessions:    visitors,
		UpdatedAt:   as.now().UTC(),
	}

	err := as.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pixel_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"pageviews":    gorm.Expr("daily_stats.pageviews + ?", pv),
			"unique_users": gorm.Expr("daily_stats.unique_users + ?", visitors),
			"sessions":     gorm.Expr("daily_stats.sessions + ?", visitors),
			"updated_at":   stat.UpdatedAt,
		}),
	}).Create(&stat).Error
	if err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

func realtimeKey(pixelID string, day time.Time) string {
	return fmt.Sprintf("analytics:daily:%s:%s", pixelID, day.Format("2006-01-02"))
}

func realtimeVisitorsKey(pixelID string, day time.Time) string {
	return fmt.Sprintf("analytics:visitors:%s:%s", pixelID, day.Format("2006-01-02"))
}

// incrementRealtime alimente les compteurs Redis du jour, sans garantie
func (as *AnalyticsService) incrementRealtime(ctx context.Context, event *Event, newSession bool) {
	if as.redis == nil {
		return
	}

	day := Day(event.CreatedAt)
	cacheKey := realtimeKey(event.PixelID, day)
	visitorKey := realtimeVisitorsKey(event.PixelID, day)

	_, err := as.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, cacheKey, "events", 1)
		pipe.HIncrBy(ctx, cacheKey, "event:"+event.EventName, 1)
		if clevents.IsPageview(event.EventName) {
			pipe.HIncrBy(ctx, cacheKey, "pageviews", 1)
		}
		if newSession {
			pipe.HIncrBy(ctx, cacheKey, "sessions", 1)
		}
		pipe.Expire(ctx, cacheKey, realtimeTTL)
		if event.Fingerprint != "" {
			pipe.SAdd(ctx, visitorKey, event.Fingerprint)
			pipe.Expire(ctx, visitorKey, realtimeTTL)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("pixel_id", event.PixelID).Msg("realtime counters not updated")
	}
}

// GetDailyStats retourne les statistiques des `days` derniers jours, du plus ancien au plus récent
func (as *AnalyticsService) GetDailyStats(ctx context.Context, pixelID string, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 30
	}
	since := Day(as.now()).AddDate(0, 0, -(days - 1))

	var stats []DailyStat
	err := as.db.WithContext(ctx).
		Where("pixel_id = ? AND date >= ?", pixelID, since).
		Order("date ASC").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("error getting daily stats: %w", err)
	}
	return stats, nil
}

// GetRealtimeStats lit les compteurs Redis du jour
func (as *AnalyticsService) GetRealtimeStats(ctx context.Context, pixelID string) (map[string]any, error) {
	if as.redis == nil {
		return nil, errors.New("realtime stats require redis")
	}
	today := Day(as.now())

	counters, err := as.redis.HGetAll(ctx, realtimeKey(pixelID, today)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	visitors, err := as.redis.SCard(ctx, realtimeVisitorsKey(pixelID, today)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return map[string]any{
		"date":            today.Format("2006-01-02"),
		"counters":        counters,
		"unique_visitors": visitors,
	}, nil
}

// Cleanup supprime les événements et sessions plus anciens que retentionDays.
// Les DailyStat sont conservées.
func (as *AnalyticsService) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	limit := as.now().UTC().AddDate(0, 0, -retentionDays)

	result := as.db.WithContext(ctx).Where("created_at < ?", limit).Delete(&Event{})
	if result.Error != nil {
		return result.Error
	}
	log.Info().Int64("rows", result.RowsAffected).Msg("old events deleted")

	result = as.db.WithContext(ctx).Where("last_seen < ?", limit).Delete(&Session{})
	if result.Error != nil {
		return result.Error
	}
	log.Info().Int64("rows", result.RowsAffected).Msg("old sessions deleted")

	return nil
}

// StartCleanup planifie Cleanup selon une expression cron
func (as *AnalyticsService) StartCleanup(spec string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := as.Cleanup(context.Background(), retentionDays); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		} else {
			log.Info().Msg("cleanup completed successfully")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	c.Start()
	as.cron = c
	return nil
}

func (as *AnalyticsService) StopCleanup() {
	if as.cron != nil {
		<-as.cron.Stop().Done()
	}
}
