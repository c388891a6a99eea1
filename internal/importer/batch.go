package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/almeidatech/quizbank/internal/model"
	"github.com/almeidatech/quizbank/internal/store"
)

// DefaultBatchSize bounds one write burst. Each row is its own statement, so
// the value trades progress granularity against update chatter, not
// transaction size.
const DefaultBatchSize = 50

var (
	// ErrImportNotFound reports an unknown import id.
	ErrImportNotFound = errors.New("import not found")
	// ErrAlreadyRolledBack reports a second rollback attempt on the same import.
	ErrAlreadyRolledBack = errors.New("import already rolled back")
	// ErrImportNotCompleted reports a rollback attempt on an import that never
	// reached completed status.
	ErrImportNotCompleted = errors.New("import is not in completed status")
)

// MappedRow pairs a parsed row with its resolved canonical topic.
type MappedRow struct {
	Row     model.CSVRow
	TopicID int64
}

// BatchCounts aggregates per-row write outcomes for one import.
type BatchCounts struct {
	Successful int
	Failed     int
	Errors     []model.RowError
}

// ProgressFunc receives a progress snapshot after every batch. A panicking
// callback is swallowed; it must never abort the import.
type ProgressFunc func(model.BatchProgress)

// BatchProcessor persists mapped rows in fixed-size batches. A failure
// writing one row degrades that row only: the processor always drains the
// full row set and reports aggregated counts.
type BatchProcessor struct {
	store     *store.Store
	tracker   ProgressTracker
	batchSize int
}

// NewBatchProcessor creates a processor writing through s, publishing
// progress to tracker. A non-positive batchSize selects DefaultBatchSize.
func NewBatchProcessor(s *store.Store, tracker ProgressTracker, batchSize int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchProcessor{store: s, tracker: tracker, batchSize: batchSize}
}

// Process writes rows batch by batch, attributing success or failure to each
// row exactly once. After every batch the tracker is updated and onProgress
// (if any) is invoked.
func (p *BatchProcessor) Process(ctx context.Context, importID string, adminID int64, rows []MappedRow, onProgress ProgressFunc) BatchCounts {
	var counts BatchCounts
	total := len(rows)

	for start := 0; start < total; start += p.batchSize {
		end := start + p.batchSize
		if end > total {
			end = total
		}

		for _, mr := range rows[start:end] {
			q := questionFromRow(mr, adminID)
			if _, err := p.store.InsertImportedQuestion(importID, q); err != nil {
				slog.Warn("failed to persist imported question",
					"import_id", importID, "line", mr.Row.Line, "error", err)
				counts.Failed++
				counts.Errors = append(counts.Errors, model.RowError{
					Line:    mr.Row.Line,
					Message: err.Error(),
				})
				continue
			}
			counts.Successful++
		}

		progress := model.BatchProgress{
			ImportID:   importID,
			Status:     model.ImportProcessing,
			Processed:  end,
			Total:      total,
			Successful: counts.Successful,
			Failed:     counts.Failed,
		}
		if err := p.tracker.Set(ctx, progress); err != nil {
			slog.Warn("failed to update progress tracker", "import_id", importID, "error", err)
		}
		notifyProgress(onProgress, progress)
	}

	return counts
}

// Progress returns the current progress snapshot for an import. Running
// imports are answered from the tracker; finished ones are reconstructed from
// the persisted record. Returns ErrImportNotFound for unknown ids.
func (p *BatchProcessor) Progress(ctx context.Context, importID string) (model.BatchProgress, error) {
	if progress, ok, err := p.tracker.Get(ctx, importID); err == nil && ok {
		return progress, nil
	} else if err != nil {
		slog.Warn("progress tracker lookup failed", "import_id", importID, "error", err)
	}

	rec, err := p.store.GetImport(importID)
	if err == sql.ErrNoRows {
		return model.BatchProgress{}, ErrImportNotFound
	}
	if err != nil {
		return model.BatchProgress{}, fmt.Errorf("get import: %w", err)
	}
	return progressFromRecord(rec), nil
}

// Rollback deletes every question created by the import and marks the record
// rollback. All-or-nothing: on failure the import keeps its prior state.
func (p *BatchProcessor) Rollback(ctx context.Context, importID string) (int64, error) {
	deleted, prev, err := p.store.RollbackImport(importID)
	if err == sql.ErrNoRows {
		return 0, ErrImportNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("rollback import: %w", err)
	}
	switch prev {
	case model.ImportRollback:
		return 0, ErrAlreadyRolledBack
	case model.ImportCompleted:
	default:
		return 0, ErrImportNotCompleted
	}

	if err := p.tracker.Delete(ctx, importID); err != nil {
		slog.Warn("failed to clear progress after rollback", "import_id", importID, "error", err)
	}
	return deleted, nil
}

// notifyProgress invokes the caller-supplied callback, containing any panic
// so a broken progress sink cannot abort the import.
func notifyProgress(fn ProgressFunc, p model.BatchProgress) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("progress callback panicked", "import_id", p.ImportID, "panic", r)
		}
	}()
	fn(p)
}

func questionFromRow(mr MappedRow, adminID int64) model.Question {
	q := model.Question{
		Text:          mr.Row.Question,
		OptionA:       mr.Row.Options[0],
		OptionB:       mr.Row.Options[1],
		OptionC:       mr.Row.Options[2],
		OptionD:       mr.Row.Options[3],
		CorrectAnswer: mr.Row.CorrectAnswer,
		Difficulty:    mr.Row.Difficulty,
		TopicID:       mr.TopicID,
		SourceType:    model.SourceRealExam,
		CreatedBy:     adminID,
	}
	if len(mr.Row.Options) > 4 {
		q.OptionE = mr.Row.Options[4]
	}
	return q
}

func progressFromRecord(rec model.ImportRecord) model.BatchProgress {
	processed := rec.SuccessfulImports + rec.ErrorCount
	if rec.Status.Terminal() {
		processed = rec.TotalRows
	}
	return model.BatchProgress{
		ImportID:   rec.ID,
		Status:     rec.Status,
		Processed:  processed,
		Total:      rec.TotalRows,
		Successful: rec.SuccessfulImports,
		Failed:     rec.ErrorCount,
	}
}
