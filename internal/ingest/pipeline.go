// Package ingest pulls pending records from the Property Backend and
// feeds the vector index: build the embedding document, embed in
// provider-sized batches, upsert, acknowledge. Cycles run strictly
// sequentially; a cross-process file lock on the index dir keeps a
// daemon's schedule and a manual sync from writing at the same time.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/embed"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/store"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// Trigger labels for the sync metrics stream.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

const (
	// DefaultBatchLimit bounds one pending-ingest fetch.
	DefaultBatchLimit = 200

	// maxDrainCycles hard-stops a Drain loop against a backend that
	// keeps replaying acknowledged records.
	maxDrainCycles = 50
)

// ErrCycleSkipped reports that another process held the sync lock. The
// scheduler treats it as routine, not as a failure.
var ErrCycleSkipped = errors.New("sync cycle skipped: lock held by another process")

// SyncBackend is the slice of the Property Backend client the pipeline
// uses.
type SyncBackend interface {
	PendingIngest(ctx context.Context, limit int) ([]backend.RawRecord, error)
	MarkIngested(ctx context.Context, ids []backend.IngestID) error
	DeletedSince(ctx context.Context, cursor string) ([]string, error)
}

// DocumentEmbedder turns embedding documents into vectors, aligned with
// its input.
type DocumentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector collection the pipeline writes.
type Index interface {
	Upsert(ctx context.Context, entries []store.IndexEntry) ([]store.UpsertResult, error)
	Delete(ctx context.Context, slugs []string) error
	Save() error
}

// PipelineConfig tunes the pipeline. Zero values adopt the defaults.
type PipelineConfig struct {
	// BatchLimit bounds one pending-ingest fetch.
	BatchLimit int

	// EmbedBatchSize splits documents across provider calls. Clamped to
	// the provider cap.
	EmbedBatchSize int

	// StatePath is the JSON cursor file. Empty keeps no cursor, so
	// tombstone cleanup re-covers everything each cycle.
	StatePath string
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = embed.DefaultBatchSize
	}
	if c.EmbedBatchSize > embed.MaxBatchSize {
		c.EmbedBatchSize = embed.MaxBatchSize
	}
	return c
}

// PipelineDependencies are the injected collaborators. Backend,
// embedder, and index are required; the rest default to no-ops.
type PipelineDependencies struct {
	Backend  SyncBackend
	Embedder DocumentEmbedder
	Index    Index

	// Lock serializes cycles across processes. Nil skips locking.
	Lock *CycleLock

	// Sink receives one SyncRecord per cycle.
	Sink telemetry.Sink

	Logger *slog.Logger

	// Progress, when set, receives stage updates for display.
	Progress func(stage string, done, total int)
}

// Pipeline executes sync cycles. Not safe for concurrent RunCycle calls
// from one process; the scheduler and CLI both run cycles one at a time
// and the file lock covers everything else.
type Pipeline struct {
	backend  SyncBackend
	embedder DocumentEmbedder
	index    Index
	lock     *CycleLock
	sink     telemetry.Sink
	logger   *slog.Logger
	progress func(stage string, done, total int)
	cfg      PipelineConfig
}

// NewPipeline validates dependencies and applies config defaults.
func NewPipeline(deps PipelineDependencies, cfg PipelineConfig) (*Pipeline, error) {
	if deps.Backend == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "sync pipeline requires a backend client", nil)
	}
	if deps.Embedder == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "sync pipeline requires an embedder", nil)
	}
	if deps.Index == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "sync pipeline requires a vector index", nil)
	}

	p := &Pipeline{
		backend:  deps.Backend,
		embedder: deps.Embedder,
		index:    deps.Index,
		lock:     deps.Lock,
		sink:     deps.Sink,
		logger:   deps.Logger,
		progress: deps.Progress,
		cfg:      cfg.withDefaults(),
	}
	if p.sink == nil {
		p.sink = telemetry.NopSink{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	// Attempted is the number of pending records fetched.
	Attempted int

	// Embedded counts documents that produced a vector.
	Embedded int

	// Upserted counts entries written to the index.
	Upserted int

	// Failed counts records that stay pending (transient failures) or
	// were rejected and acknowledged (malformed rows).
	Failed int

	// Deleted counts tombstones removed from the index.
	Deleted int

	// Acked counts acknowledgements the backend accepted. Zero on a
	// non-empty cycle means nothing left the queue.
	Acked int

	Duration time.Duration
}

// RunCycle executes one full cycle: fetch, normalize, embed, upsert,
// clean up tombstones, save, acknowledge. Partial failures are counted,
// not raised; the error return is reserved for conditions that abort
// the cycle whole (lock busy, backend fetch, index write, cancellation).
// Every cycle lands one summary log line and one metrics record.
func (p *Pipeline) RunCycle(ctx context.Context, trigger string) (*CycleResult, error) {
	start := time.Now()
	res := &CycleResult{}

	err := p.run(ctx, start, res)
	res.Duration = time.Since(start)

	rec := telemetry.SyncRecord{
		Timestamp:  start.UTC(),
		Trigger:    trigger,
		Pending:    res.Attempted,
		Embedded:   res.Embedded,
		Upserted:   res.Upserted,
		Deleted:    res.Deleted,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	p.sink.Record(telemetry.KindSync, rec)

	if err != nil {
		if errors.Is(err, ErrCycleSkipped) {
			p.logger.Warn("sync cycle skipped", slog.String("trigger", trigger))
		} else {
			p.logger.Error("sync cycle failed",
				slog.String("trigger", trigger),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	p.logger.Info("sync cycle complete",
		slog.String("trigger", trigger),
		slog.Int("attempted", res.Attempted),
		slog.Int("upserted", res.Upserted),
		slog.Int("failed", res.Failed),
		slog.Int("deleted", res.Deleted),
		slog.Duration("took", res.Duration))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, start time.Time, res *CycleResult) error {
	if p.lock != nil {
		acquired, err := p.lock.TryAcquire()
		if err != nil {
			return err
		}
		if !acquired {
			return rcerrors.New(rcerrors.ErrCodeSyncFailed, "sync lock is held", ErrCycleSkipped)
		}
		defer p.lock.Release()
	}

	state := p.loadState()

	pending, err := p.backend.PendingIngest(ctx, p.cfg.BatchLimit)
	if err != nil {
		return err
	}
	res.Attempted = len(pending)
	p.report("fetch", len(pending), len(pending))

	items, docs, acks := p.normalizeAll(pending)
	res.Failed += len(pending) - len(items)

	vectors, err := p.embedBatches(ctx, docs, res)
	if err != nil {
		return err
	}

	entries := make([]store.IndexEntry, 0, len(items))
	entryIDs := make([]backend.IngestID, 0, len(items))
	for i, it := range items {
		if vectors[i] == nil {
			continue
		}
		entries = append(entries, store.EntryFromProperty(it.prop, vectors[i]))
		entryIDs = append(entryIDs, it.id)
	}

	if len(entries) > 0 {
		results, err := p.index.Upsert(ctx, entries)
		if err != nil {
			return err
		}
		for i, r := range results {
			if r.Err != nil {
				p.logger.Warn("index rejected entry",
					slog.String("slug", r.Slug),
					slog.String("error", r.Err.Error()))
				res.Failed++
				continue
			}
			acks = append(acks, entryIDs[i])
			res.Upserted++
		}
		p.report("index", res.Upserted, len(entries))
	}

	nextCursor := p.cleanupDeleted(ctx, res, state.DeletedCursor, start)

	// Persist before acknowledging: acked records never come back, so
	// an un-saved upsert must keep its record pending instead.
	if res.Upserted > 0 || res.Deleted > 0 {
		if err := p.index.Save(); err != nil {
			return err
		}
	}

	if err := p.backend.MarkIngested(ctx, acks); err != nil {
		// Records reappear next cycle; re-upserting them is harmless.
		p.logger.Warn("mark-ingested failed; records will be retried",
			slog.Int("count", len(acks)),
			slog.String("error", err.Error()))
	} else {
		res.Acked = len(acks)
	}

	if p.cfg.StatePath != "" {
		state.DeletedCursor = nextCursor
		state.LastSyncAt = time.Now().UTC()
		state.Cycles++
		if err := SaveState(p.cfg.StatePath, state); err != nil {
			p.logger.Warn("sync state not saved", slog.String("error", err.Error()))
		}
	}
	return nil
}

// pendingItem pairs a normalized property with its acknowledgement id.
type pendingItem struct {
	prop *property.Property
	id   backend.IngestID
}

// normalizeAll converts raw rows, rejecting the malformed. Rejected
// rows are acknowledged anyway: a row the backend cannot describe
// correctly today will not describe itself better tomorrow, and left
// pending it wedges the queue at the batch limit.
func (p *Pipeline) normalizeAll(pending []backend.RawRecord) ([]pendingItem, []string, []backend.IngestID) {
	items := make([]pendingItem, 0, len(pending))
	docs := make([]string, 0, len(pending))
	acks := make([]backend.IngestID, 0, len(pending))

	for i := range pending {
		raw := &pending[i]
		prop, err := raw.Normalize()
		if err != nil {
			p.logger.Warn("rejecting malformed pending record",
				slog.String("slug", raw.Slug),
				slog.Int64("id", raw.ID),
				slog.String("error", err.Error()))
			acks = append(acks, backend.IngestID{
				Source: property.SourceKind(strings.ToLower(strings.TrimSpace(raw.Source))),
				ID:     raw.ID,
			})
			continue
		}
		items = append(items, pendingItem{
			prop: prop,
			id:   backend.IngestID{Source: prop.SourceKind, ID: prop.ID},
		})
		docs = append(docs, BuildDocument(prop))
	}
	return items, docs, acks
}

// embedBatches embeds documents in provider-sized chunks. A failing
// batch marks only its own documents failed; later batches still run,
// so a flaky provider degrades a cycle instead of zeroing it. Returned
// vectors align with docs, nil where embedding failed.
func (p *Pipeline) embedBatches(ctx context.Context, docs []string, res *CycleResult) ([][]float32, error) {
	vectors := make([][]float32, len(docs))
	for lo := 0; lo < len(docs); lo += p.cfg.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+p.cfg.EmbedBatchSize, len(docs))

		batch, err := p.embedder.EmbedBatch(ctx, docs[lo:hi])
		if err != nil {
			p.logger.Warn("embedding batch failed; records stay pending",
				slog.Int("from", lo),
				slog.Int("to", hi),
				slog.String("error", err.Error()))
			res.Failed += hi - lo
			continue
		}
		copy(vectors[lo:hi], batch)
		res.Embedded += hi - lo
		p.report("embed", hi, len(docs))
	}
	return vectors, nil
}

// cleanupDeleted removes tombstoned slugs past the cursor. The endpoint
// is optional and cleanup is never fatal; any failure leaves the cursor
// where it was so the next cycle re-covers the ground. Returns the
// cursor to persist.
func (p *Pipeline) cleanupDeleted(ctx context.Context, res *CycleResult, cursor string, cycleStart time.Time) string {
	slugs, err := p.backend.DeletedSince(ctx, cursor)
	if err != nil {
		if errors.Is(err, backend.ErrCleanupUnsupported) {
			p.logger.Debug("backend has no deleted-since endpoint; skipping cleanup")
		} else {
			p.logger.Warn("deleted-since failed; cleanup postponed", slog.String("error", err.Error()))
		}
		return cursor
	}

	if len(slugs) > 0 {
		if err := p.index.Delete(ctx, slugs); err != nil {
			p.logger.Warn("tombstone delete failed; cleanup postponed", slog.String("error", err.Error()))
			return cursor
		}
		res.Deleted = len(slugs)
	}

	// The new cursor is the cycle start, not now: a record deleted while
	// this cycle ran lands after the cursor and shows up next time.
	return cycleStart.UTC().Format(time.RFC3339)
}

// Drain runs cycles until the backlog clears; a full reindex leaves far
// more than one batch pending. Stops when a partial batch comes back
// (everything pending was seen) or when a cycle acknowledges nothing (a
// stalled queue would replay the same records forever).
func (p *Pipeline) Drain(ctx context.Context, trigger string) (*CycleResult, error) {
	total := &CycleResult{}
	for range maxDrainCycles {
		res, err := p.RunCycle(ctx, trigger)
		if err != nil {
			return total, err
		}

		total.Attempted += res.Attempted
		total.Embedded += res.Embedded
		total.Upserted += res.Upserted
		total.Failed += res.Failed
		total.Deleted += res.Deleted
		total.Acked += res.Acked
		total.Duration += res.Duration

		if res.Attempted < p.cfg.BatchLimit {
			break
		}
		if res.Acked == 0 {
			break
		}
	}
	return total, nil
}

func (p *Pipeline) loadState() State {
	if p.cfg.StatePath == "" {
		return State{}
	}
	st, err := LoadState(p.cfg.StatePath)
	if err != nil {
		p.logger.Warn("sync state unreadable, starting from a fresh cursor",
			slog.String("path", p.cfg.StatePath),
			slog.String("error", err.Error()))
		return State{}
	}
	return st
}

func (p *Pipeline) report(stage string, done, total int) {
	if p.progress != nil {
		p.progress(stage, done, total)
	}
}
