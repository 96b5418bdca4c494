package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/models"
)

var (
	ErrWriteFailed   = errors.New("notification write failed")
	ErrInvalidParams = errors.New("invalid notification")
)

// Store is the append side of notification persistence. Implementations
// apply fingerprint deduplication when Fingerprint is set.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) (models.Delivery, error)
}

// Emitter renders typed alerts and writes each with exactly one store call.
type Emitter struct {
	store         Store
	criticalBelow int
	logger        *zap.Logger
}

func NewEmitter(store Store, alerts config.AlertConfig, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	criticalBelow := alerts.CriticalBelow
	if criticalBelow <= 0 {
		criticalBelow = 30
	}
	return &Emitter{store: store, criticalBelow: criticalBelow, logger: logger}
}

func (e *Emitter) ZombieAlert(ctx context.Context, userID uuid.UUID, deal models.Deal) (models.Delivery, error) {
	return e.Send(ctx, userID, RenderZombieAlert(deal, e.criticalBelow))
}

func (e *Emitter) MilestoneAlert(ctx context.Context, userID uuid.UUID, m Milestone) (models.Delivery, error) {
	return e.Send(ctx, userID, RenderMilestone(m))
}

func (e *Emitter) PipelineHealthAlert(ctx context.Context, userID uuid.UUID, p PipelineHealth) (models.Delivery, error) {
	return e.Send(ctx, userID, RenderPipelineHealth(p))
}

func (e *Emitter) ActionRequiredAlert(ctx context.Context, userID uuid.UUID, a ActionRequired) (models.Delivery, error) {
	return e.Send(ctx, userID, RenderActionRequired(a))
}

func (e *Emitter) SystemAlert(ctx context.Context, userID uuid.UUID, s System) (models.Delivery, error) {
	return e.Send(ctx, userID, RenderSystem(s))
}

// Send validates p and persists it for userID.
func (e *Emitter) Send(ctx context.Context, userID uuid.UUID, p Params) (models.Delivery, error) {
	n, err := build(userID, p)
	if err != nil {
		return models.Delivery{}, err
	}

	d, err := e.store.CreateNotification(ctx, n)
	if err != nil {
		e.logger.Warn("notification write failed",
			zap.String("user_id", userID.String()),
			zap.String("type", string(p.Type)),
			zap.Error(err),
		)
		return models.Delivery{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	e.logger.Debug("notification delivered",
		zap.String("user_id", userID.String()),
		zap.String("type", string(p.Type)),
		zap.String("outcome", string(d.Outcome)),
	)
	return d, nil
}

// Bulk sends the same notification to every user and returns how many were
// written. Individual failures are logged; only cancellation aborts.
func (e *Emitter) Bulk(ctx context.Context, userIDs []uuid.UUID, p Params) (int, error) {
	if _, err := build(uuid.Nil, p); err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		d, err := e.Send(ctx, id, p)
		if err != nil {
			continue
		}
		if d.Outcome != models.DeliverySuppressed {
			sent++
		}
	}
	return sent, nil
}

func build(userID uuid.UUID, p Params) (*models.Notification, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidParams, p.Type)
	}
	if p.Level == "" {
		p.Level = models.LevelInfo
	}
	if !p.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidParams, p.Level)
	}
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Message) == "" {
		return nil, fmt.Errorf("%w: title and message are required", ErrInvalidParams)
	}

	n := &models.Notification{
		UserID:   userID,
		Type:     p.Type,
		Level:    p.Level,
		Title:    p.Title,
		Message:  p.Message,
		Metadata: p.Metadata,
	}
	if p.ActionURL != "" {
		url := p.ActionURL
		n.ActionURL = &url
	}
	if p.ActionLabel != "" {
		label := p.ActionLabel
		n.ActionLabel = &label
	}
	if p.Fingerprint != "" {
		fp := p.Fingerprint
		n.Fingerprint = &fp
	}
	return n, nil
}
