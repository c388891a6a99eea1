package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ValidDifficulty reports whether d is one of the known difficulty levels.
func ValidDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// SourceType tells where a question came from.
type SourceType string

const (
	SourceRealExam    SourceType = "real_exam"
	SourceAIGenerated SourceType = "ai_generated"
)

// Topic is a canonical topic. Every persisted question references one by id,
// never by free-text label.
type Topic struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Question represents a persisted exam question.
type Question struct {
	ID            int64      `json:"id"`
	Text          string     `json:"text"`
	OptionA       string     `json:"option_a"`
	OptionB       string     `json:"option_b"`
	OptionC       string     `json:"option_c"`
	OptionD       string     `json:"option_d"`
	OptionE       string     `json:"option_e,omitempty"`
	CorrectAnswer string     `json:"correct_answer"`
	Difficulty    Difficulty `json:"difficulty"`
	TopicID       int64      `json:"topic_id"`
	SourceType    SourceType `json:"source_type"`
	CreatedBy     int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ImportStatus represents the lifecycle state of a CSV import.
type ImportStatus string

const (
	ImportQueued        ImportStatus = "queued"
	ImportParsing       ImportStatus = "parsing"
	ImportDeduplicating ImportStatus = "deduplicating"
	ImportMapping       ImportStatus = "mapping"
	ImportProcessing    ImportStatus = "processing"
	ImportCompleted     ImportStatus = "completed"
	ImportFailed        ImportStatus = "failed"
	ImportRollback      ImportStatus = "rollback"
)

// Terminal reports whether the status ends the import lifecycle.
func (s ImportStatus) Terminal() bool {
	switch s {
	case ImportCompleted, ImportFailed, ImportRollback:
		return true
	}
	return false
}

// ImportRecord tracks one CSV upload's lifecycle and outcome counts.
// It is owned by the import orchestrator; no other component mutates it.
type ImportRecord struct {
	ID                string       `json:"id"`
	AdminID           int64        `json:"admin_id"`
	CSVFilename       string       `json:"csv_filename"`
	TotalRows         int          `json:"total_rows"`
	SuccessfulImports int          `json:"successful_imports"`
	DuplicateCount    int          `json:"duplicate_count"`
	ErrorCount        int          `json:"error_count"`
	Status            ImportStatus `json:"status"`
	ErrorDetails      string       `json:"error_details,omitempty"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// CSVRow is one parsed row from an uploaded file. It is transient: it either
// becomes a Question or is discarded as a duplicate or an error.
type CSVRow struct {
	Line          int // source-file line number, for error reporting
	Question      string
	Options       []string // four or five option strings
	CorrectAnswer string   // letter a-e
	Difficulty    Difficulty
	TopicLabel    string // free-text, resolved to a canonical topic later
}

// RowError records a row that could not be parsed or written.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// MappingMethod tells how a free-text topic label was resolved.
type MappingMethod string

const (
	MappingExact    MappingMethod = "exact"
	MappingFuzzy    MappingMethod = "fuzzy"
	MappingFallback MappingMethod = "fallback"
)

// TopicMapping is the transient result of resolving a free-text label to a
// canonical topic id for one import run.
type TopicMapping struct {
	Label      string
	TopicID    int64
	Confidence float64
	Method     MappingMethod
}

// BatchProgress holds the progress counters for a running import, keyed by
// import id. It is derived from the import record and is not an independent
// source of truth.
type BatchProgress struct {
	ImportID   string       `json:"import_id"`
	Status     ImportStatus `json:"status"`
	Processed  int          `json:"processed"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
}

// PercentComplete returns the progress as an integer percentage.
func (p BatchProgress) PercentComplete() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Processed * 100 / p.Total
}

// ImportSummary is the final result of an import run.
type ImportSummary struct {
	ImportID          string        `json:"import_id"`
	TotalRows         int           `json:"total_rows"`
	SuccessfulImports int           `json:"successful_imports"`
	DuplicatesFound   int           `json:"duplicates_found"`
	ErrorCount        int           `json:"error_count"`
	Status            ImportStatus  `json:"status"`
	Message           string        `json:"message"`
	Duration          time.Duration `json:"duration"`
}
