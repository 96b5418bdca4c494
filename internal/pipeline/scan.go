package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/deal-pulse/internal/models"
	"github.com/david/deal-pulse/internal/notify"
)

type ScanOutcome string

const (
	OutcomeCompleted ScanOutcome = "completed"
	OutcomePartial   ScanOutcome = "partial"
	OutcomeCancelled ScanOutcome = "cancelled"
	OutcomeFailed    ScanOutcome = "failed"
)

// Notifier is the part of notify.Emitter a scan drives.
type Notifier interface {
	ZombieAlert(ctx context.Context, userID uuid.UUID, deal models.Deal) (models.Delivery, error)
	PipelineHealthAlert(ctx context.Context, userID uuid.UUID, p notify.PipelineHealth) (models.Delivery, error)
}

// RecipientResolver maps lower-cased CRM owner emails to application users.
type RecipientResolver interface {
	UserIDsByEmail(ctx context.Context, emails []string) (map[string]uuid.UUID, error)
}

// RunRecorder persists one row per scan.
type RunRecorder interface {
	StartScanRun(ctx context.Context, userID uuid.UUID, startedAt time.Time) (uuid.UUID, error)
	FinishScanRun(ctx context.Context, run models.ScanRun) error
	PreviousZombieCount(ctx context.Context, userID uuid.UUID) (int, bool, error)
}

// readiness is implemented by sources that can check their credentials
// before any page is requested.
type readiness interface {
	Ready(ctx context.Context) error
}

type ScanOptions struct {
	Concurrency          int
	MaxPages             int
	ZombieCountThreshold int
	Now                  func() time.Time
	Logger               *zap.Logger
	Recipients           RecipientResolver
	Runs                 RunRecorder
}

type ZombieSummary struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	OwnerName         string    `json:"owner"`
	Amount            float64   `json:"amount"`
	HealthScore       int       `json:"health_score"`
	DaysSinceActivity int       `json:"days_since_activity"`
	DealAgeDays       int       `json:"deal_age_days"`
	RecipientID       uuid.UUID `json:"recipient_id"`
	Delivery          string    `json:"delivery"`
}

type ScanResult struct {
	RunID                     uuid.UUID              `json:"run_id"`
	UserID                    uuid.UUID              `json:"user_id"`
	Outcome                   ScanOutcome            `json:"outcome"`
	TotalDeals                int                    `json:"total_deals"`
	SkippedRecords            int                    `json:"skipped_records"`
	Skipped                   []SkippedRecord        `json:"skipped,omitempty"`
	ZombieCount               int                    `json:"zombie_count"`
	NotificationsCreated      int                    `json:"notifications_created"`
	NotificationsDeduplicated int                    `json:"notifications_deduplicated"`
	NotificationsFailed       int                    `json:"notifications_failed"`
	ZombieDeals               []ZombieSummary        `json:"zombie_deals_summary"`
	Metrics                   models.PipelineMetrics `json:"metrics"`
	StartedAt                 time.Time              `json:"started_at"`
	CompletedAt               time.Time              `json:"completed_at"`
}

// Snapshot is the scored state of a CRM at one instant.
type Snapshot struct {
	Deals     []models.Deal          `json:"deals"`
	Skipped   []SkippedRecord        `json:"skipped,omitempty"`
	Metrics   models.PipelineMetrics `json:"metrics"`
	Owners    OwnerDirectory         `json:"-"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Scanner runs fetch, map, score and notify over one CRM connection. It holds
// no state between runs.
type Scanner struct {
	source   DealSource
	mapper   *Mapper
	notifier Notifier
	opts     ScanOptions
	log      *zap.Logger
}

func NewScanner(source DealSource, mapper *Mapper, notifier Notifier, opts ScanOptions) *Scanner {
	if mapper == nil {
		mapper = NewMapper(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{source: source, mapper: mapper, notifier: notifier, opts: opts, log: logger}
}

// Snapshot fetches deals and owners concurrently and scores every deal. Any
// fetch failure aborts with an *UpstreamError.
func (s *Scanner) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	if r, ok := s.source.(readiness); ok {
		if err := r.Ready(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx.Err())
			}
			return nil, &UpstreamError{Dependency: "token", Err: err}
		}
	}

	var raws []RawDeal
	var owners []Owner

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deals, err := CollectDeals(gctx, s.source, s.opts.MaxPages)
		if err != nil {
			return upstream("deals", err)
		}
		raws = deals
		return nil
	})
	g.Go(func() error {
		o, err := s.source.FetchOwners(gctx)
		if err != nil {
			return upstream("owners", err)
		}
		owners = o
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, err
	}

	now := s.opts.Now().UTC()
	dir := BuildOwnerDirectory(owners)
	deals, skipped := s.mapper.MapBatch(raws, dir, now)
	for _, sk := range skipped {
		s.log.Warn("skipping CRM record", zap.String("deal_id", sk.DealID), zap.String("reason", sk.Reason))
	}

	return &Snapshot{
		Deals:     deals,
		Skipped:   skipped,
		Metrics:   Aggregate(deals, now),
		Owners:    dir,
		FetchedAt: now,
	}, nil
}

// Run performs a full scan on behalf of userID. Upstream failures return a
// nil result. Cancellation during notification returns the partial result
// together with an error matching ErrCancelled.
func (s *Scanner) Run(ctx context.Context, userID uuid.UUID) (_ *ScanResult, err error) {
	res := &ScanResult{UserID: userID, StartedAt: s.opts.Now().UTC(), Outcome: OutcomeFailed}
	log := s.log.With(zap.String("user_id", userID.String()))

	if s.opts.Runs != nil {
		runID, rerr := s.opts.Runs.StartScanRun(ctx, userID, res.StartedAt)
		if rerr != nil {
			log.Warn("could not record scan start", zap.Error(rerr))
		} else {
			res.RunID = runID
			defer func() {
				run := res.toRun(err)
				// The run row must be closed even when ctx was cancelled.
				finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if ferr := s.opts.Runs.FinishScanRun(finishCtx, run); ferr != nil {
					log.Warn("could not record scan finish", zap.Error(ferr))
				}
			}()
		}
	}

	var previous int
	var hasPrevious bool
	if s.opts.Runs != nil {
		if p, ok, perr := s.opts.Runs.PreviousZombieCount(ctx, userID); perr == nil {
			previous, hasPrevious = p, ok
		}
	}

	snap, serr := s.Snapshot(ctx)
	if serr != nil {
		res.CompletedAt = s.opts.Now().UTC()
		if errors.Is(serr, ErrCancelled) {
			res.Outcome = OutcomeCancelled
		}
		log.Error("scan aborted", zap.Error(serr))
		return nil, serr
	}

	res.TotalDeals = len(snap.Deals)
	res.Skipped = snap.Skipped
	res.SkippedRecords = len(snap.Skipped)
	res.Metrics = snap.Metrics

	zombies := FilterByStatus(snap.Deals, models.DealZombie)
	res.ZombieCount = len(zombies)
	recipients := s.resolveRecipients(ctx, userID, zombies, snap.Owners)

	type delivery struct {
		d   models.Delivery
		err error
	}
	results := make([]delivery, len(zombies))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, deal := range zombies {
		i, deal := i, deal
		g.Go(func() error {
			if cerr := ctx.Err(); cerr != nil {
				results[i] = delivery{err: cerr}
				return nil
			}
			d, nerr := s.notifier.ZombieAlert(ctx, recipients[i], deal)
			results[i] = delivery{d: d, err: nerr}
			return nil
		})
	}
	_ = g.Wait()
	// A write that timed out inside the store is a failure, not a
	// cancellation, unless the scan itself was cancelled.
	runCancelled := ctx.Err() != nil

	res.ZombieDeals = make([]ZombieSummary, len(zombies))
	for i, deal := range zombies {
		summary := ZombieSummary{
			ID:                deal.ID,
			Name:              deal.Name,
			OwnerName:         deal.OwnerName,
			Amount:            deal.Amount,
			HealthScore:       deal.HealthScore,
			DaysSinceActivity: deal.DaysSinceLastActivity,
			DealAgeDays:       deal.DealAgeDays,
			RecipientID:       recipients[i],
		}
		r := results[i]
		switch {
		case r.err != nil && runCancelled && isContextErr(r.err):
			summary.Delivery = "cancelled"
		case r.err != nil:
			summary.Delivery = "failed"
			res.NotificationsFailed++
			log.Warn("zombie alert not delivered", zap.String("deal_id", deal.ID), zap.Error(r.err))
		case r.d.Outcome == models.DeliveryCreated:
			summary.Delivery = string(r.d.Outcome)
			res.NotificationsCreated++
		default:
			summary.Delivery = string(r.d.Outcome)
			res.NotificationsDeduplicated++
		}
		res.ZombieDeals[i] = summary
	}
	res.CompletedAt = s.opts.Now().UTC()

	if cerr := ctx.Err(); cerr != nil {
		res.Outcome = OutcomeCancelled
		log.Warn("scan cancelled during notification",
			zap.Int("zombies", res.ZombieCount),
			zap.Int("created", res.NotificationsCreated),
		)
		return res, cancelled(cerr)
	}

	res.Outcome = OutcomeCompleted
	if res.NotificationsFailed > 0 {
		res.Outcome = OutcomePartial
	}

	s.pipelineHealthAlert(ctx, userID, res.ZombieCount, previous, hasPrevious)

	log.Info("scan finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("total_deals", res.TotalDeals),
		zap.Int("skipped", res.SkippedRecords),
		zap.Int("zombies", res.ZombieCount),
		zap.Int("created", res.NotificationsCreated),
		zap.Int("deduplicated", res.NotificationsDeduplicated),
		zap.Int("failed", res.NotificationsFailed),
	)
	return res, nil
}

// CollectDeals drives FetchDealsPage until the cursor runs out. A cursor that
// repeats, or more than maxPages pages, is treated as a broken upstream.
func CollectDeals(ctx context.Context, src DealSource, maxPages int) ([]RawDeal, error) {
	var all []RawDeal
	seen := make(map[string]struct{})
	cursor := ""

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("deal listing exceeded %d pages", maxPages)
		}
		p, err := src.FetchDealsPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, p.Deals...)

		if p.NextCursor == "" {
			return all, nil
		}
		if _, dup := seen[p.NextCursor]; dup {
			return nil, fmt.Errorf("deal listing repeated cursor %q", p.NextCursor)
		}
		seen[p.NextCursor] = struct{}{}
		cursor = p.NextCursor
	}
}

// resolveRecipients returns one user per zombie, aligned by index. Owners
// linked to an application user by email get their own alerts; everything
// else goes to the user who ran the scan.
func (s *Scanner) resolveRecipients(ctx context.Context, scanner uuid.UUID, zombies []models.Deal, owners OwnerDirectory) []uuid.UUID {
	out := make([]uuid.UUID, len(zombies))
	for i := range out {
		out[i] = scanner
	}
	if s.opts.Recipients == nil || len(zombies) == 0 {
		return out
	}

	emailSet := make(map[string]struct{})
	for _, d := range zombies {
		if !d.HasOwner() {
			continue
		}
		if email, ok := owners.Email(*d.OwnerID); ok {
			emailSet[email] = struct{}{}
		}
	}
	if len(emailSet) == 0 {
		return out
	}
	emails := make([]string, 0, len(emailSet))
	for e := range emailSet {
		emails = append(emails, e)
	}

	users, err := s.opts.Recipients.UserIDsByEmail(ctx, emails)
	if err != nil {
		s.log.Warn("owner recipient lookup failed; alerting scan user", zap.Error(err))
		return out
	}
	for i, d := range zombies {
		if !d.HasOwner() {
			continue
		}
		if email, ok := owners.Email(*d.OwnerID); ok {
			if uid, ok := users[email]; ok && uid != uuid.Nil {
				out[i] = uid
			}
		}
	}
	return out
}

func (s *Scanner) pipelineHealthAlert(ctx context.Context, userID uuid.UUID, zombies, previous int, hasPrevious bool) {
	threshold := s.opts.ZombieCountThreshold
	overThreshold := threshold > 0 && zombies > threshold
	changed := hasPrevious && previous != zombies
	if !overThreshold && !changed {
		return
	}

	alert := notify.PipelineHealth{Metric: "zombie deals", Current: float64(zombies)}
	if hasPrevious {
		p := float64(previous)
		alert.Previous = &p
	}
	if threshold > 0 {
		t := float64(threshold)
		alert.Threshold = &t
	}
	if _, err := s.notifier.PipelineHealthAlert(ctx, userID, alert); err != nil {
		s.log.Warn("pipeline health alert not delivered", zap.Error(err))
	}
}

func (r *ScanResult) toRun(runErr error) models.ScanRun {
	run := models.ScanRun{
		ID:                        r.RunID,
		UserID:                    r.UserID,
		Status:                    string(r.Outcome),
		TotalDeals:                r.TotalDeals,
		SkippedRecords:            r.SkippedRecords,
		ZombieCount:               r.ZombieCount,
		NotificationsCreated:      r.NotificationsCreated,
		NotificationsDeduplicated: r.NotificationsDeduplicated,
		NotificationsFailed:       r.NotificationsFailed,
		RevenueAtRisk:             r.Metrics.RevenueAtRisk,
		StartedAt:                 r.StartedAt,
	}
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	run.CompletedAt = &completed
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}
	return run
}

func upstream(dependency string, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	if errors.Is(err, ErrTokenUnavailable) {
		dependency = "token"
	}
	return &UpstreamError{Dependency: dependency, Err: err}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
