package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/almeidatech/quizbank/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		option_a TEXT NOT NULL,
		option_b TEXT NOT NULL,
		option_c TEXT NOT NULL,
		option_d TEXT NOT NULL,
		option_e TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		topic_id INTEGER NOT NULL,
		source_type TEXT NOT NULL DEFAULT 'real_exam',
		created_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (topic_id) REFERENCES topics(id)
	);

	CREATE TABLE IF NOT EXISTS question_imports (
		id TEXT PRIMARY KEY,
		admin_id INTEGER NOT NULL,
		csv_filename TEXT NOT NULL,
		total_rows INTEGER NOT NULL DEFAULT 0,
		successful_imports INTEGER NOT NULL DEFAULT 0,
		duplicate_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'queued',
		error_details TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (admin_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS import_question_mapping (
		import_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		PRIMARY KEY (import_id, question_id),
		FOREIGN KEY (import_id) REFERENCES question_imports(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertQuestion stores a question and returns its id.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO questions (text, option_a, option_b, option_c, option_d, option_e,
		                        correct_answer, difficulty, topic_id, source_type, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Text, q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE,
		q.CorrectAnswer, q.Difficulty, q.TopicID, q.SourceType, q.CreatedBy, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(
		`SELECT id, text, option_a, option_b, option_c, option_d, option_e,
		        correct_answer, difficulty, topic_id, source_type, created_by, created_at
		 FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.Text, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.OptionE,
		&q.CorrectAnswer, &q.Difficulty, &q.TopicID, &q.SourceType, &q.CreatedBy, &q.CreatedAt)
	return q, err
}

// ListQuestionsFiltered returns questions matching the given filters.
// An empty difficulty or zero topicID means no filtering on that field.
func (s *Store) ListQuestionsFiltered(difficulty string, topicID int64) ([]model.Question, error) {
	query := `SELECT id, text, option_a, option_b, option_c, option_d, option_e,
	                 correct_answer, difficulty, topic_id, source_type, created_by, created_at
	          FROM questions WHERE 1=1`
	var args []any
	if difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, difficulty)
	}
	if topicID > 0 {
		query += ` AND topic_id = ?`
		args = append(args, topicID)
	}
	query += ` ORDER BY id`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Text, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.OptionE,
			&q.CorrectAnswer, &q.Difficulty, &q.TopicID, &q.SourceType, &q.CreatedBy, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// RecentQuestionTexts returns the text of the most recently created questions,
// newest first, up to limit. This is the bounded corpus snapshot the
// deduplication engine compares uploads against.
func (s *Store) RecentQuestionTexts(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT text FROM questions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// GetOrCreateTopic returns the id of the topic with the given name, creating
// it if absent. Creation is insert-if-absent: the UNIQUE constraint on name
// means a concurrent creator wins the race and we re-resolve to its row.
func (s *Store) GetOrCreateTopic(name string) (int64, error) {
	_, err := s.db.Exec(
		`INSERT INTO topics (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(`SELECT id FROM topics WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetTopic returns a topic by ID.
func (s *Store) GetTopic(id int64) (model.Topic, error) {
	var t model.Topic
	err := s.db.QueryRow(
		`SELECT id, name, created_at FROM topics WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	return t, err
}

// ListTopics returns all canonical topics ordered by name.
func (s *Store) ListTopics() ([]model.Topic, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
