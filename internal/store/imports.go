package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/almeidatech/quizbank/internal/model"
)

// CreateImport inserts a new import record in queued status.
func (s *Store) CreateImport(rec model.ImportRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO question_imports (id, admin_id, csv_filename, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.AdminID, rec.CSVFilename, model.ImportQueued, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create import record", "import_id", rec.ID, "error", err)
	}
	return err
}

// GetImport returns an import record by ID.
func (s *Store) GetImport(id string) (model.ImportRecord, error) {
	var rec model.ImportRecord
	err := s.db.QueryRow(
		`SELECT id, admin_id, csv_filename, total_rows, successful_imports, duplicate_count,
		        error_count, status, error_details, started_at, completed_at, created_at
		 FROM question_imports WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.AdminID, &rec.CSVFilename, &rec.TotalRows, &rec.SuccessfulImports,
		&rec.DuplicateCount, &rec.ErrorCount, &rec.Status, &rec.ErrorDetails,
		&rec.StartedAt, &rec.CompletedAt, &rec.CreatedAt)
	return rec, err
}

// ListImports returns all import records, newest first.
func (s *Store) ListImports() ([]model.ImportRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, admin_id, csv_filename, total_rows, successful_imports, duplicate_count,
		        error_count, status, error_details, started_at, completed_at, created_at
		 FROM question_imports ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.ImportRecord
	for rows.Next() {
		var rec model.ImportRecord
		if err := rows.Scan(&rec.ID, &rec.AdminID, &rec.CSVFilename, &rec.TotalRows,
			&rec.SuccessfulImports, &rec.DuplicateCount, &rec.ErrorCount, &rec.Status,
			&rec.ErrorDetails, &rec.StartedAt, &rec.CompletedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpdateImportStatus sets the status of an import record.
func (s *Store) UpdateImportStatus(id string, status model.ImportStatus) error {
	_, err := s.db.Exec(`UPDATE question_imports SET status = ? WHERE id = ?`, status, id)
	return err
}

// MarkImportStarted moves an import into parsing status and stamps started_at.
func (s *Store) MarkImportStarted(id string) error {
	_, err := s.db.Exec(
		`UPDATE question_imports SET status = ?, started_at = ? WHERE id = ?`,
		model.ImportParsing, time.Now(), id,
	)
	return err
}

// SetImportTotalRows persists the parsed row count.
func (s *Store) SetImportTotalRows(id string, total int) error {
	_, err := s.db.Exec(`UPDATE question_imports SET total_rows = ? WHERE id = ?`, total, id)
	return err
}

// SetImportDuplicateCount persists the duplicate count found during deduplication.
func (s *Store) SetImportDuplicateCount(id string, dupes int) error {
	_, err := s.db.Exec(`UPDATE question_imports SET duplicate_count = ? WHERE id = ?`, dupes, id)
	return err
}

// UpdateImportCounts persists the running successful/error counters. Called
// after every batch so counts survive a mid-import failure.
func (s *Store) UpdateImportCounts(id string, successful, errors int) error {
	_, err := s.db.Exec(
		`UPDATE question_imports SET successful_imports = ?, error_count = ? WHERE id = ?`,
		successful, errors, id,
	)
	return err
}

// CompleteImport moves an import to completed status with its final counts.
func (s *Store) CompleteImport(id string, successful, errors int) error {
	_, err := s.db.Exec(
		`UPDATE question_imports
		 SET status = ?, successful_imports = ?, error_count = ?, completed_at = ?
		 WHERE id = ?`,
		model.ImportCompleted, successful, errors, time.Now(), id,
	)
	return err
}

// FailImport moves an import to the terminal failed status, recording the
// error detail blob. Counts persisted so far are left intact.
func (s *Store) FailImport(id string, details string) error {
	_, err := s.db.Exec(
		`UPDATE question_imports SET status = ?, error_details = ?, completed_at = ? WHERE id = ?`,
		model.ImportFailed, details, time.Now(), id,
	)
	return err
}

// InsertImportedQuestion stores a question and its import linkage in one
// transaction, so a persisted question is never left untracked for rollback.
func (s *Store) InsertImportedQuestion(importID string, q model.Question) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO questions (text, option_a, option_b, option_c, option_d, option_e,
		                        correct_answer, difficulty, topic_id, source_type, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Text, q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE,
		q.CorrectAnswer, q.Difficulty, q.TopicID, q.SourceType, q.CreatedBy, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(
		`INSERT INTO import_question_mapping (import_id, question_id) VALUES (?, ?)`,
		importID, id,
	); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// ImportQuestionIDs returns the ids of all questions linked to an import.
func (s *Store) ImportQuestionIDs(importID string) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT question_id FROM import_question_mapping WHERE import_id = ? ORDER BY question_id`,
		importID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RollbackImport deletes every question linked to the import and marks the
// record rollback, all inside one transaction. It returns the number of
// deleted questions and the status the record had before the transaction.
// Rollback is only performed from completed status; any other prior status
// leaves the record untouched and the caller decides how to report it.
// Returns sql.ErrNoRows for an unknown import id.
func (s *Store) RollbackImport(id string) (int64, model.ImportStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	var prev model.ImportStatus
	err = tx.QueryRow(`SELECT status FROM question_imports WHERE id = ?`, id).Scan(&prev)
	if err == sql.ErrNoRows {
		return 0, "", sql.ErrNoRows
	}
	if err != nil {
		return 0, "", err
	}
	if prev != model.ImportCompleted {
		return 0, prev, nil
	}

	res, err := tx.Exec(
		`DELETE FROM questions
		 WHERE id IN (SELECT question_id FROM import_question_mapping WHERE import_id = ?)`,
		id,
	)
	if err != nil {
		return 0, prev, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, prev, err
	}

	if _, err := tx.Exec(`DELETE FROM import_question_mapping WHERE import_id = ?`, id); err != nil {
		return 0, prev, err
	}
	if _, err := tx.Exec(
		`UPDATE question_imports SET status = ? WHERE id = ?`, model.ImportRollback, id,
	); err != nil {
		return 0, prev, err
	}

	if err := tx.Commit(); err != nil {
		return 0, prev, err
	}
	slog.Info("rolled back import", "import_id", id, "deleted", deleted)
	return deleted, prev, nil
}
