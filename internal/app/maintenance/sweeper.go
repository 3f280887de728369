package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultAuditSpec          = "@daily"
	defaultOverdueSpec        = "@every 5m"

	// overdueGrace is how long past its scheduled end a meeting may linger
	// before the sweep force-ends it.
	overdueGrace = 24 * time.Hour
)

// Sweeper runs the background maintenance jobs: enforcing audit retention and
// force-ending meetings left running long past their scheduled end.
type Sweeper struct {
	db    *gorm.DB
	audit *services.AuditService
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	retention       int
	auditSchedule   string
	overdueSchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for overdue comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit trails of ended meetings are kept.
func WithAuditRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.retention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.auditSchedule = spec
		}
	}
}

// WithOverdueSchedule overrides the cron specification for the overdue-meeting sweep.
func WithOverdueSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.overdueSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, audit *services.AuditService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:              db,
		audit:           audit,
		now:             time.Now,
		retention:       defaultAuditRetentionDays,
		auditSchedule:   defaultAuditSpec,
		overdueSchedule: defaultOverdueSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the sweep jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.audit != nil && s.retention > 0 {
		if _, err := s.cron.AddFunc(s.auditSchedule, func() {
			if _, err := s.audit.CleanupOlderThan(context.Background(), s.retention); err != nil {
				s.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.db != nil {
		if _, err := s.cron.AddFunc(s.overdueSchedule, func() {
			if _, err := s.EndOverdueMeetings(context.Background()); err != nil {
				s.log.Warn("overdue meeting sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all sweeps sequentially, used in tests and during shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.audit != nil && s.retention > 0 {
		if _, err := s.audit.CleanupOlderThan(ctx, s.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.db != nil {
		if _, err := s.EndOverdueMeetings(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// EndOverdueMeetings terminates meetings whose scheduled end passed more than
// the grace period ago and were never ended explicitly. Each gets an audit
// entry attributed to its creator so the trail explains the transition.
func (s *Sweeper) EndOverdueMeetings(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errors.New("maintenance: db is required")
	}

	now := s.now().UTC()
	cutoff := now.Add(-overdueGrace)

	var overdue []models.Meeting
	if err := s.db.WithContext(ctx).
		Where("ended_at IS NULL AND end_time < ?", cutoff).
		Find(&overdue).Error; err != nil {
		return 0, err
	}

	var (
		swept int64
		errs  error
	)
	for i := range overdue {
		meeting := &overdue[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&models.Meeting{}).
				Where("id = ? AND ended_at IS NULL", meeting.ID).
				Update("ended_at", &now)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}

			if s.audit == nil {
				return nil
			}
			return s.audit.Append(ctx, tx, services.AuditEntry{
				MeetingID: meeting.ID,
				UserID:    meeting.CreatedBy,
				Action:    models.AuditEnded,
				Details:   map[string]any{"ended_at": now, "auto": true},
			})
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.log.Info("ended overdue meetings", zap.Int64("count", swept))
	}
	return swept, errs
}
