// Package importer implements the CSV question-import pipeline: parse,
// deduplicate, map free-text topics to canonical ids, and persist in bounded
// batches, under an orchestrator that records every stage transition on a
// durable import record and supports progress polling and rollback.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/almeidatech/quizbank/internal/model"
	"github.com/almeidatech/quizbank/internal/store"
)

// DefaultSnapshotSize bounds the recent-corpus window the deduplication stage
// compares uploads against. Exhaustive comparison against an unbounded corpus
// is infeasible; the window holds the most recent questions.
const DefaultSnapshotSize = 1000

// DefaultFuzzyMaxDistance is the largest edit distance at which a free-text
// topic label still matches an existing canonical topic.
const DefaultFuzzyMaxDistance = 2

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	BatchSize        int
	SnapshotSize     int
	FuzzyMaxDistance int
}

// Orchestrator sequences the pipeline stages for one import at a time and
// owns the import record: no other component mutates it.
type Orchestrator struct {
	store        *store.Store
	tracker      ProgressTracker
	batch        *BatchProcessor
	snapshotSize int
	maxDistance  int
}

// New creates an import orchestrator.
func New(s *store.Store, tracker ProgressTracker, opts Options) *Orchestrator {
	snapshot := opts.SnapshotSize
	if snapshot <= 0 {
		snapshot = DefaultSnapshotSize
	}
	maxDist := opts.FuzzyMaxDistance
	if maxDist <= 0 {
		maxDist = DefaultFuzzyMaxDistance
	}
	return &Orchestrator{
		store:        s,
		tracker:      tracker,
		batch:        NewBatchProcessor(s, tracker, opts.BatchSize),
		snapshotSize: snapshot,
		maxDistance:  maxDist,
	}
}

// NewImportID returns a fresh import identifier.
func NewImportID() string {
	return uuid.NewString()
}

// Batch exposes the progress/rollback surface of the underlying processor.
func (o *Orchestrator) Batch() *BatchProcessor {
	return o.batch
}

// ExecuteImport runs the full pipeline for one upload. importID may identify
// a queued record created at upload time; if empty or unknown, a record is
// created. The call is total with respect to errors: every failure mode,
// panics included, is folded into a failed summary rather than returned.
func (o *Orchestrator) ExecuteImport(ctx context.Context, importID string, data []byte, filename string, adminID int64, onProgress ProgressFunc) (summary model.ImportSummary) {
	start := time.Now()
	if importID == "" {
		importID = NewImportID()
	}
	summary = model.ImportSummary{ImportID: importID, Status: model.ImportFailed}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("import pipeline panicked", "import_id", importID, "panic", r)
			summary = o.fail(ctx, summary, fmt.Sprintf("internal error: %v", r))
		}
		summary.Duration = time.Since(start)
	}()

	if _, err := o.store.GetImport(importID); err == sql.ErrNoRows {
		rec := model.ImportRecord{ID: importID, AdminID: adminID, CSVFilename: filename}
		if err := o.store.CreateImport(rec); err != nil {
			return o.fail(ctx, summary, "create import record: "+err.Error())
		}
	} else if err != nil {
		return o.fail(ctx, summary, "load import record: "+err.Error())
	}

	// queued -> parsing
	if err := o.store.MarkImportStarted(importID); err != nil {
		return o.fail(ctx, summary, "mark import started: "+err.Error())
	}
	o.publish(ctx, importID, model.ImportParsing, 0, 0, 0, 0)

	parsed, err := Parse(data)
	if err != nil {
		return o.fail(ctx, summary, "parse CSV: "+err.Error())
	}
	parseErrors := len(parsed.Errors)
	summary.ErrorCount = parseErrors
	if !parsed.Valid() {
		summary.TotalRows = parseErrors
		return o.fail(ctx, summary, fmt.Sprintf("no valid rows: %d rows failed to parse", parseErrors))
	}

	// parsing -> deduplicating
	totalRows := len(parsed.Rows) + parseErrors
	summary.TotalRows = totalRows
	if err := o.store.SetImportTotalRows(importID, totalRows); err != nil {
		return o.fail(ctx, summary, "persist total rows: "+err.Error())
	}
	if err := o.store.UpdateImportStatus(importID, model.ImportDeduplicating); err != nil {
		return o.fail(ctx, summary, "enter deduplicating: "+err.Error())
	}
	o.publish(ctx, importID, model.ImportDeduplicating, 0, totalRows, 0, parseErrors)

	snapshot, err := o.store.RecentQuestionTexts(o.snapshotSize)
	if err != nil {
		return o.fail(ctx, summary, "load dedup snapshot: "+err.Error())
	}
	fresh, duplicates := PartitionDuplicates(parsed.Rows, snapshot)
	summary.DuplicatesFound = len(duplicates)
	if err := o.store.SetImportDuplicateCount(importID, len(duplicates)); err != nil {
		return o.fail(ctx, summary, "persist duplicate count: "+err.Error())
	}

	// deduplicating -> mapping
	if err := o.store.UpdateImportStatus(importID, model.ImportMapping); err != nil {
		return o.fail(ctx, summary, "enter mapping: "+err.Error())
	}
	o.publish(ctx, importID, model.ImportMapping, 0, totalRows, 0, parseErrors)

	mapper := NewTopicMapper(o.store, o.maxDistance)
	mapped := make([]MappedRow, 0, len(fresh))
	for _, row := range fresh {
		mapping, err := mapper.Resolve(row.TopicLabel)
		if err != nil {
			return o.fail(ctx, summary, fmt.Sprintf("resolve topic %q: %v", row.TopicLabel, err))
		}
		mapped = append(mapped, MappedRow{Row: row, TopicID: mapping.TopicID})
	}

	// mapping -> processing
	if err := o.store.UpdateImportStatus(importID, model.ImportProcessing); err != nil {
		return o.fail(ctx, summary, "enter processing: "+err.Error())
	}

	// The per-batch hook persists running counts so every terminal import can
	// report partial results, then forwards to the caller's callback.
	counts := o.batch.Process(ctx, importID, adminID, mapped, func(p model.BatchProgress) {
		if err := o.store.UpdateImportCounts(importID, p.Successful, parseErrors+p.Failed); err != nil {
			slog.Warn("failed to persist running counts", "import_id", importID, "error", err)
		}
		notifyProgress(onProgress, p)
	})

	// processing -> completed
	summary.SuccessfulImports = counts.Successful
	summary.ErrorCount = parseErrors + counts.Failed
	if err := o.store.CompleteImport(importID, counts.Successful, summary.ErrorCount); err != nil {
		return o.fail(ctx, summary, "complete import: "+err.Error())
	}
	summary.Status = model.ImportCompleted
	summary.Message = fmt.Sprintf("imported %d questions (%d duplicates, %d errors)",
		counts.Successful, len(duplicates), summary.ErrorCount)

	o.publish(ctx, importID, model.ImportCompleted, totalRows, totalRows, counts.Successful, summary.ErrorCount)
	slog.Info("import completed",
		"import_id", importID,
		"filename", filename,
		"total", totalRows,
		"successful", counts.Successful,
		"duplicates", len(duplicates),
		"errors", summary.ErrorCount,
		"duration", time.Since(start),
	)
	return summary
}

// fail moves the import to the terminal failed status, persisting the error
// detail together with the counts observed so far.
func (o *Orchestrator) fail(ctx context.Context, summary model.ImportSummary, detail string) model.ImportSummary {
	full := fmt.Sprintf("%s (rows parsed: %d, duplicates: %d, successful: %d, errors: %d)",
		detail, summary.TotalRows, summary.DuplicatesFound, summary.SuccessfulImports, summary.ErrorCount)
	if err := o.store.FailImport(summary.ImportID, full); err != nil {
		slog.Error("failed to persist import failure", "import_id", summary.ImportID, "error", err)
	}
	o.publish(ctx, summary.ImportID, model.ImportFailed,
		summary.SuccessfulImports+summary.ErrorCount, summary.TotalRows,
		summary.SuccessfulImports, summary.ErrorCount)

	summary.Status = model.ImportFailed
	summary.Message = detail
	slog.Error("import failed", "import_id", summary.ImportID, "detail", detail)
	return summary
}

func (o *Orchestrator) publish(ctx context.Context, importID string, status model.ImportStatus, processed, total, successful, failed int) {
	p := model.BatchProgress{
		ImportID:   importID,
		Status:     status,
		Processed:  processed,
		Total:      total,
		Successful: successful,
		Failed:     failed,
	}
	if err := o.tracker.Set(ctx, p); err != nil {
		slog.Warn("failed to publish progress", "import_id", importID, "error", err)
	}
}
