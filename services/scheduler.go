// ABOUTME: Background sync scheduler refreshing owner sessions and portal resources
// ABOUTME: One cycle in flight at a time; failures are counted per resource, never fatal to a cycle

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markalston/portal-gateway/logger"
	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/repository"
	"github.com/markalston/portal-gateway/store"
)

// ErrSyncInFlight is returned by RunOnce when a cycle is already running
var ErrSyncInFlight = errors.New("sync cycle already in flight")

// PortalAPI is the part of the portal client the scheduler drives
type PortalAPI interface {
	Refresh(ctx context.Context, owner string) (*models.TokenSet, error)
	ListUnits(ctx context.Context, owner string) ([]models.ConsumptionUnit, error)
	UnitMetadata(ctx context.Context, owner, unit string) (*models.UnitMetadata, error)
	ListInvoices(ctx context.Context, owner, unit string) ([]models.Invoice, error)
	DownloadInvoice(ctx context.Context, owner, unit, invoiceID string) ([]byte, error)
	CreditHistory(ctx context.Context, owner, unit string) ([]models.CreditBalance, error)
}

// SyncScheduler periodically mirrors every owner's portal resources into the repository
type SyncScheduler struct {
	portal       PortalAPI
	store        store.Store
	repo         repository.Repository
	interval     time.Duration
	downloadDocs bool
	now          func() time.Time

	// cycle is held for the duration of a scheduled cycle
	cycle sync.Mutex

	mu       sync.Mutex
	running  bool
	inFlight bool
	cancel   context.CancelFunc
	done     chan struct{}
	nextRun  time.Time
	lastRun  *models.SyncJobRun
	runs     int
}

// NewSyncScheduler creates a stopped scheduler
func NewSyncScheduler(portal PortalAPI, s store.Store, repo repository.Repository, interval time.Duration, downloadDocs bool) *SyncScheduler {
	return &SyncScheduler{
		portal:       portal,
		store:        s,
		repo:         repo,
		interval:     interval,
		downloadDocs: downloadDocs,
		now:          time.Now,
	}
}

// Start launches the periodic loop. The first cycle runs one interval after
// start. Starting a running scheduler is a no-op and returns false.
func (s *SyncScheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = s.now().Add(s.interval)

	go s.loop(loopCtx, s.done)
	slog.Info("Sync scheduler started", "interval", s.interval)
	return true
}

// Stop halts the loop and waits for an in-flight cycle to wind down.
// Returns false if the scheduler was not running.
func (s *SyncScheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("Sync scheduler stopped")
	return true
}

// Status reports the loop state and the last completed cycle
func (s *SyncScheduler) Status() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := models.SchedulerStatus{
		Running:  s.running,
		InFlight: s.inFlight,
		Interval: s.interval.String(),
		Runs:     s.runs,
	}
	if s.running {
		next := s.nextRun
		st.NextRun = &next
	}
	if s.lastRun != nil {
		last := *s.lastRun
		last.Owners = append([]models.OwnerSyncResult(nil), s.lastRun.Owners...)
		st.LastRun = &last
	}
	return st
}

// Running reports whether the periodic loop is active
func (s *SyncScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SyncScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = s.now().Add(s.interval)
			s.mu.Unlock()
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
				slog.Error("Sync cycle failed", "error", err)
			}
		}
	}
}

// RunOnce executes one cycle over every owner with a live session. A cycle
// already in flight makes it return ErrSyncInFlight without waiting.
func (s *SyncScheduler) RunOnce(ctx context.Context) (*models.SyncJobRun, error) {
	if !s.cycle.TryLock() {
		slog.Debug("Sync cycle skipped: previous cycle still running")
		return nil, ErrSyncInFlight
	}
	defer s.cycle.Unlock()

	s.setInFlight(true)
	defer s.setInFlight(false)

	run := &models.SyncJobRun{StartedAt: s.now()}
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	slog.Info("Sync cycle started", "owners", len(sessions))
	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		res, _ := s.syncOwner(ctx, sess.OwnerKey, "")
		run.Add(res)
	}
	run.FinishedAt = s.now()

	s.mu.Lock()
	s.lastRun = run
	s.runs++
	s.mu.Unlock()

	slog.Info("Sync cycle finished",
		"processed", run.Processed,
		"updated", run.Updated,
		"skipped", run.Skipped,
		"errored", run.Errored,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

// SyncOwner syncs one owner immediately, outside the schedule
func (s *SyncScheduler) SyncOwner(ctx context.Context, ownerRaw string) (models.OwnerSyncResult, error) {
	return s.SyncUnit(ctx, ownerRaw, "")
}

// SyncUnit syncs a single unit of an owner immediately. An empty unit syncs all of them.
func (s *SyncScheduler) SyncUnit(ctx context.Context, ownerRaw, unit string) (models.OwnerSyncResult, error) {
	owner, err := models.NormalizeOwner(ownerRaw)
	if err != nil {
		return models.OwnerSyncResult{}, err
	}
	if unit != "" {
		if err := models.ValidateUnit(unit); err != nil {
			return models.OwnerSyncResult{}, err
		}
	}
	if _, err := s.store.Load(ctx, owner); err != nil {
		return models.OwnerSyncResult{}, err
	}
	return s.syncOwner(ctx, owner, unit)
}

func (s *SyncScheduler) setInFlight(v bool) {
	s.mu.Lock()
	s.inFlight = v
	s.mu.Unlock()
}

// syncOwner refreshes the owner's tokens once then syncs each unit
// independently. only limits the run to one unit when non-empty. The error is
// set when the whole owner was skipped; unit failures only show in the counts.
func (s *SyncScheduler) syncOwner(ctx context.Context, owner, only string) (models.OwnerSyncResult, error) {
	res := models.OwnerSyncResult{OwnerKey: owner}
	masked := logger.MaskOwner(owner)

	if _, err := s.portal.Refresh(ctx, owner); err != nil {
		slog.Warn("Sync skipped owner: refresh failed", "owner", masked, "error", err)
		res.Errored = 1
		res.Error = err.Error()
		return res, err
	}

	units, err := s.portal.ListUnits(ctx, owner)
	if err != nil {
		slog.Warn("Sync skipped owner: unit listing failed", "owner", masked, "error", err)
		res.Errored = 1
		res.Error = err.Error()
		return res, err
	}
	if only != "" {
		units = pickUnit(units, only)
		if len(units) == 0 {
			err := fmt.Errorf("unit %s: %w", only, models.ErrUnitNotFound)
			slog.Warn("Sync skipped unit: not listed for owner", "owner", masked, "unit", only)
			res.Errored = 1
			res.Error = err.Error()
			return res, err
		}
	}

	for i, unit := range units {
		if ctx.Err() != nil {
			res.Skipped += len(units) - i
			break
		}
		unit.OwnerKey = owner
		if err := s.syncUnit(ctx, unit); err != nil {
			slog.Warn("Unit sync failed", "owner", masked, "unit", unit.Number, "error", err)
			res.Errored++
			res.Error = err.Error()
			continue
		}
		res.Updated++
	}
	return res, nil
}

// pickUnit narrows the portal's listing to one unit, so only units the
// portal confirms for the owner are ever written
func pickUnit(units []models.ConsumptionUnit, number string) []models.ConsumptionUnit {
	for _, u := range units {
		if u.Number == number {
			return []models.ConsumptionUnit{u}
		}
	}
	return nil
}

// syncUnit mirrors one unit. Each step is attempted even if an earlier one
// failed, so whatever succeeded is committed; the joined errors are returned.
func (s *SyncScheduler) syncUnit(ctx context.Context, unit models.ConsumptionUnit) error {
	var errs []error
	owner := unit.OwnerKey

	meta, err := s.portal.UnitMetadata(ctx, owner, unit.Number)
	if err != nil {
		errs = append(errs, fmt.Errorf("metadata: %w", err))
	} else {
		if meta.Address != "" {
			unit.Address = meta.Address
		}
		if meta.Status != "" {
			unit.Status = meta.Status
		}
		unit.Generator = unit.Generator || meta.Generator
	}
	if err := s.repo.UpsertUnit(ctx, unit, meta); err != nil {
		errs = append(errs, err)
	}

	if err := s.syncInvoices(ctx, owner, unit.Number); err != nil {
		errs = append(errs, err)
	}

	credits, err := s.portal.CreditHistory(ctx, owner, unit.Number)
	if err != nil {
		errs = append(errs, fmt.Errorf("credits: %w", err))
	} else if len(credits) > 0 {
		for i := range credits {
			credits[i].OwnerKey = owner
			credits[i].UnitNumber = unit.Number
		}
		if err := s.repo.UpsertCredits(ctx, credits); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// syncInvoices upserts every listed invoice, downloading the document only
// when the repository does not already hold one
func (s *SyncScheduler) syncInvoices(ctx context.Context, owner, unit string) error {
	invoices, err := s.portal.ListInvoices(ctx, owner, unit)
	if err != nil {
		return fmt.Errorf("invoices: %w", err)
	}

	var errs []error
	for _, inv := range invoices {
		inv.OwnerKey = owner
		inv.UnitNumber = unit
		if s.downloadDocs {
			has, err := s.repo.InvoiceHasDocument(ctx, owner, unit, inv.ID)
			if err != nil {
				errs = append(errs, err)
			} else if !has {
				doc, err := s.portal.DownloadInvoice(ctx, owner, unit, inv.ID)
				if err != nil {
					errs = append(errs, fmt.Errorf("invoice %s document: %w", inv.ID, err))
				} else {
					inv.Document = doc
				}
			}
		}
		if err := s.repo.UpsertInvoice(ctx, inv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
