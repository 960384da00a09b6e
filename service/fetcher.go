package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fullstackdeveloper4545/aws/config"
	"github.com/Fullstackdeveloper4545/aws/model"
	"github.com/Fullstackdeveloper4545/aws/pkg/logger"
)

// CertificateStore is the bundle lookup surface the fetcher depends on.
type CertificateStore interface {
	GetActiveBundle(ctx context.Context, id int64) (*model.CertificateBundle, error)
	UpdateBundleEndpoints(ctx context.Context, id int64, carsURL, waybillURL string, skipVerify bool) error
}

// Persistence is the record storage surface the fetcher depends on.
type Persistence interface {
	SaveWaybill(ctx context.Context, pair model.EquipmentPair, payload any) (string, error)
	CountWaybills(ctx context.Context) (int, error)
}

// Archiver mirrors raw payloads into object storage, best effort.
type Archiver interface {
	ArchiveWaybill(ctx context.Context, recordID string, pair model.EquipmentPair, payload any) error
}

// apiRequester is what the fetch loop needs from the requester.
type apiRequester interface {
	Do(ctx context.Context, method, rawURL string, params url.Values) (*Result, error)
}

// jobHandle tracks one background run so abnormal termination is
// observable rather than a leaked goroutine. There is no cancellation:
// once started, a job runs to completion or to a caught-error state.
type jobHandle struct {
	done chan struct{}
}

// Fetcher drives the two-phase bulk pull: one listing call, extraction,
// then a sequential per-item fetch loop with adaptive pacing layered
// above the requester's retry policy.
type Fetcher struct {
	certs    CertificateStore
	db       Persistence
	archive  Archiver
	progress *ProgressStore
	pacing   config.PacingConfig
	ttl      time.Duration

	newSession   func(*model.CertificateBundle, config.PacingConfig) (*SecureSession, error)
	newRequester func(*SecureSession, config.PacingConfig) apiRequester
	sleep        func(time.Duration)

	mu      sync.Mutex
	handles map[string]*jobHandle
}

// NewFetcher wires the fetcher to its collaborators. archive may be nil
// when object storage is not configured.
func NewFetcher(certs CertificateStore, db Persistence, archive Archiver, progress *ProgressStore, cfg *config.Config) *Fetcher {
	return &Fetcher{
		certs:    certs,
		db:       db,
		archive:  archive,
		progress: progress,
		pacing:   cfg.Pacing,
		ttl:      time.Duration(cfg.Progress.TTLMinutes) * time.Minute,
		newSession: func(b *model.CertificateBundle, p config.PacingConfig) (*SecureSession, error) {
			return NewSession(b, p)
		},
		newRequester: func(s *SecureSession, p config.PacingConfig) apiRequester {
			return NewRequester(s, p)
		},
		sleep:   time.Sleep,
		handles: make(map[string]*jobHandle),
	}
}

// StartJob pins the named bundle, persists the endpoint overrides,
// builds the session and launches the run in the background. It returns
// the job id without waiting for any network call. Certificate failures
// surface synchronously; no job is created for them.
func (f *Fetcher) StartJob(ctx context.Context, bundleID int64, listURL, detailURL string, insecure bool) (string, error) {
	bundle, err := f.certs.GetActiveBundle(ctx, bundleID)
	if err != nil {
		return "", err
	}

	if listURL != "" {
		bundle.CarsURL = listURL
	}
	if detailURL != "" {
		bundle.WaybillURL = detailURL
	}
	bundle.SkipVerify = insecure

	if err := f.certs.UpdateBundleEndpoints(ctx, bundle.ID, bundle.CarsURL, bundle.WaybillURL, bundle.SkipVerify); err != nil {
		return "", err
	}

	session, err := f.newSession(bundle, f.pacing)
	if err != nil {
		return "", err
	}

	jobID := fmt.Sprintf("fetch_%d_%s", bundle.ID, uuid.New().String()[:8])

	state := model.FetchJob{
		JobID:     jobID,
		Message:   "Starting fetch",
		CreatedAt: time.Now(),
	}
	f.pushProgress(jobID, &state)

	handle := &jobHandle{done: make(chan struct{})}
	f.mu.Lock()
	f.handles[jobID] = handle
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.handles, jobID)
			f.mu.Unlock()
			close(handle.done)
		}()
		f.run(jobID, bundle, session, &state)
	}()

	slog.Info("bulk fetch started", "job_id", jobID, "bundle", bundle.Name)
	return jobID, nil
}

// run executes the bulk pull. Every failure mode ends in a terminal
// done=true state; nothing propagates out of the goroutine, and the
// session's temp files are released on every exit path.
func (f *Fetcher) run(jobID string, bundle *model.CertificateBundle, session *SecureSession, state *model.FetchJob) {
	ctx := context.WithValue(context.Background(), logger.JobIDKey, jobID)
	ctx = context.WithValue(ctx, logger.BundleKey, bundle.Name)
	defer session.Cleanup()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "fetch job panicked", "error", r)
			state.Done = true
			state.Message = fmt.Sprintf("Error: %v", r)
			f.pushProgress(jobID, state)
		}
	}()

	requester := f.newRequester(session, f.pacing)

	listing, err := requester.Do(ctx, http.MethodGet, bundle.CarsURL, nil)
	if err != nil {
		// Fatal: without the listing no items are known.
		logger.Error(ctx, "failed to fetch car listing", "error", err)
		state.Done = true
		state.Message = err.Error()
		f.pushProgress(jobID, state)
		return
	}

	pairs := ExtractPairs(listing.Data)
	state.Total = len(pairs)
	state.Message = fmt.Sprintf("Found %d cars", len(pairs))
	f.pushProgress(jobID, state)

	pacer := newPacer(f.pacing, f.sleep)
	for i, raw := range pairs {
		pair := raw.Normalize()

		rateLimited := f.fetchItem(ctx, requester, bundle, pair, state)
		state.Processed++
		state.Message = "Processing waybills..."
		f.pushProgress(jobID, state)

		pacer.observe(rateLimited)
		if i < len(pairs)-1 {
			pacer.wait()
		}
	}

	state.Done = true
	state.Message = fmt.Sprintf("Fetch completed: %d successful, %d failed", state.Successful, state.Failed)
	f.pushProgress(jobID, state)
	logger.Info(ctx, "bulk fetch finished",
		"total", state.Total,
		"successful", state.Successful,
		"failed", state.Failed,
	)
}

// fetchItem fetches and persists one detail record, updating the
// success/failure counters. It reports whether the item failed on an
// exhausted rate limit so the loop can adapt its pacing.
func (f *Fetcher) fetchItem(ctx context.Context, requester apiRequester, bundle *model.CertificateBundle, pair model.EquipmentPair, state *model.FetchJob) bool {
	params := url.Values{
		"equipmentInitial": {pair.Initial},
		"equipmentNumber":  {pair.Number},
	}

	res, err := requester.Do(ctx, http.MethodGet, bundle.WaybillURL, params)
	if err != nil {
		state.Failed++
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			logger.Warn(ctx, "waybill fetch rate limited", "equipment", pair.String())
			return true
		}
		logger.Warn(ctx, "waybill fetch failed", "equipment", pair.String(), "error", err)
		return false
	}

	recordID, err := f.db.SaveWaybill(ctx, pair, res.Data)
	if err != nil {
		// Persistence trouble fails the item, never the job.
		logger.Error(ctx, "failed to persist waybill", "equipment", pair.String(), "error", err)
		state.Failed++
		return false
	}
	state.Successful++

	if f.archive != nil {
		if err := f.archive.ArchiveWaybill(ctx, recordID, pair, res.Data); err != nil {
			logger.Warn(ctx, "waybill archive failed", "record_id", recordID, "error", err)
		}
	}
	return false
}

// Progress returns the last known job state. When the store has no entry
// (evicted or never existed) it synthesizes a terminal state carrying the
// current record count, matching what the dashboard expects.
func (f *Fetcher) Progress(ctx context.Context, jobID string) model.FetchJob {
	if state, ok := f.progress.Get(jobID); ok {
		return state
	}

	count, err := f.db.CountWaybills(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to count waybills for progress fallback", "error", err)
	}
	return model.FetchJob{
		JobID:     jobID,
		Done:      true,
		Message:   "No recent fetch summary found",
		TotalInDB: count,
	}
}

// FetchSingle fetches one detail record synchronously, outside job
// orchestration, through the same session and requester machinery.
func (f *Fetcher) FetchSingle(ctx context.Context, bundleID int64, initial, number string) (*model.WaybillRecord, error) {
	bundle, err := f.certs.GetActiveBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	session, err := f.newSession(bundle, f.pacing)
	if err != nil {
		return nil, err
	}
	defer session.Cleanup()

	pair := model.EquipmentPair{Initial: initial, Number: number}.Normalize()
	requester := f.newRequester(session, f.pacing)

	params := url.Values{
		"equipmentInitial": {pair.Initial},
		"equipmentNumber":  {pair.Number},
	}
	res, err := requester.Do(ctx, http.MethodGet, bundle.WaybillURL, params)
	if err != nil {
		return nil, err
	}

	recordID, err := f.db.SaveWaybill(ctx, pair, res.Data)
	if err != nil {
		return nil, err
	}

	if f.archive != nil {
		if err := f.archive.ArchiveWaybill(ctx, recordID, pair, res.Data); err != nil {
			logger.Warn(ctx, "waybill archive failed", "record_id", recordID, "error", err)
		}
	}

	return &model.WaybillRecord{
		ID:        recordID,
		Equipment: pair,
		Payload:   res.Data,
		FetchedAt: time.Now(),
	}, nil
}

// Wait blocks until the named job's goroutine has finished. Used by
// tests and shutdown logging; there is no way to stop a running job.
func (f *Fetcher) Wait(jobID string) {
	f.mu.Lock()
	handle, ok := f.handles[jobID]
	f.mu.Unlock()
	if ok {
		<-handle.done
	}
}

func (f *Fetcher) pushProgress(jobID string, state *model.FetchJob) {
	count, err := f.db.CountWaybills(context.Background())
	if err == nil {
		state.TotalInDB = count
	}
	f.progress.Set(jobID, *state, f.ttl)
}

// pacer is the loop-level delay policy layered above per-request
// retries. The delay grows on exhausted rate limits, shrinks back toward
// base on success, and a strike threshold triggers a long cooldown with
// an elevated restart since the upstream is clearly strained.
type pacer struct {
	base      time.Duration
	cur       time.Duration
	max       time.Duration
	elevated  time.Duration
	strikes   int
	threshold int
	cooldown  time.Duration
	sleep     func(time.Duration)
}

func newPacer(cfg config.PacingConfig, sleep func(time.Duration)) *pacer {
	base := time.Duration(cfg.ItemDelaySeconds) * time.Second
	return &pacer{
		base:      base,
		cur:       base,
		max:       time.Duration(cfg.ItemDelayCapSeconds) * time.Second,
		elevated:  2 * base,
		threshold: cfg.StrikeThreshold,
		cooldown:  time.Duration(cfg.CooldownSeconds) * time.Second,
		sleep:     sleep,
	}
}

func (p *pacer) observe(rateLimited bool) {
	if rateLimited {
		p.strikes++
		p.cur *= 2
		if p.cur > p.max {
			p.cur = p.max
		}
		if p.strikes >= p.threshold {
			slog.Warn("consecutive rate limits hit threshold, cooling down",
				"strikes", p.strikes,
				"cooldown", p.cooldown.String(),
			)
			p.sleep(p.cooldown)
			p.strikes = 0
			p.cur = p.elevated
		}
		return
	}

	p.strikes = 0
	p.cur = p.base + (p.cur-p.base)/2
}

func (p *pacer) wait() {
	p.sleep(p.cur)
}
