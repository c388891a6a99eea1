package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/almeidatech/quizbank/internal/model"
)

// Uploaded files must carry this header. option_e may be left empty on rows
// with four options.
var csvHeader = []string{
	"question", "option_a", "option_b", "option_c", "option_d", "option_e",
	"correct_answer", "difficulty", "topic",
}

// ParseResult holds the parsed rows of one uploaded file together with the
// per-row errors for rows that could not be parsed.
type ParseResult struct {
	Rows   []model.CSVRow
	Errors []model.RowError
}

// Valid reports whether the result is consumable downstream: at least one row
// parsed successfully.
func (r *ParseResult) Valid() bool {
	return len(r.Rows) > 0
}

// Parse turns raw file bytes into structured rows plus row-level parse errors.
// Parsing is best-effort per row: a malformed row is recorded and skipped,
// never fatal to the rest of the file. Parse itself fails only when the file
// is unusable as a whole (empty, or missing the expected header).
func Parse(data []byte) (*ParseResult, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	result := &ParseResult{}
	line := 1
	for {
		line++
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.Reader keeps going after a per-record parse error.
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			result.Errors = append(result.Errors, model.RowError{Line: line, Message: err.Error()})
			continue
		}
		row, err := parseRow(line, record)
		if err != nil {
			result.Errors = append(result.Errors, model.RowError{Line: line, Message: err.Error()})
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func validateHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return fmt.Errorf("expected %d header columns, got %d", len(csvHeader), len(header))
	}
	for i, want := range csvHeader {
		got := strings.ToLower(strings.TrimSpace(header[i]))
		if got != want {
			return fmt.Errorf("header column %d: expected %q, got %q", i+1, want, got)
		}
	}
	return nil
}

func parseRow(line int, record []string) (model.CSVRow, error) {
	var row model.CSVRow
	if len(record) != len(csvHeader) {
		return row, fmt.Errorf("expected %d fields, got %d", len(csvHeader), len(record))
	}

	question := strings.TrimSpace(record[0])
	if question == "" {
		return row, errors.New("question text is required")
	}

	options := make([]string, 0, 5)
	for i, name := range []string{"option_a", "option_b", "option_c", "option_d"} {
		opt := strings.TrimSpace(record[1+i])
		if opt == "" {
			return row, fmt.Errorf("%s is required", name)
		}
		options = append(options, opt)
	}
	optionE := strings.TrimSpace(record[5])
	if optionE != "" {
		options = append(options, optionE)
	}

	correct := strings.ToLower(strings.TrimSpace(record[6]))
	switch correct {
	case "a", "b", "c", "d":
	case "e":
		if optionE == "" {
			return row, errors.New("correct_answer is e but option_e is empty")
		}
	default:
		return row, fmt.Errorf("correct_answer must be a letter a-e, got %q", record[6])
	}

	difficulty := model.Difficulty(strings.ToLower(strings.TrimSpace(record[7])))
	if !model.ValidDifficulty(difficulty) {
		return row, fmt.Errorf("unknown difficulty %q", record[7])
	}

	topic := strings.TrimSpace(record[8])
	if topic == "" {
		return row, errors.New("topic is required")
	}

	row = model.CSVRow{
		Line:          line,
		Question:      question,
		Options:       options,
		CorrectAnswer: correct,
		Difficulty:    difficulty,
		TopicLabel:    topic,
	}
	return row, nil
}
