package importer

import (
	"strings"

	"github.com/almeidatech/quizbank/internal/model"
)

// NormalizeText reduces question text to a canonical comparison form:
// lowercased, whitespace collapsed, trailing sentence punctuation stripped.
// Two rows that normalize equal are considered the same question.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".?! ")
}

// PartitionDuplicates splits candidate rows into fresh questions and
// duplicates by comparing normalized text against the existing corpus
// snapshot. Ambiguity resolves toward duplicate: a row matching either the
// snapshot or an earlier row of the same upload is classified as a duplicate.
// An empty snapshot means no corpus duplicates are possible. The partition is
// pure and preserves source-file order within each side.
func PartitionDuplicates(rows []model.CSVRow, existing []string) (fresh, duplicates []model.CSVRow) {
	seen := make(map[string]struct{}, len(existing)+len(rows))
	for _, text := range existing {
		seen[NormalizeText(text)] = struct{}{}
	}
	for _, row := range rows {
		key := NormalizeText(row.Question)
		if _, dup := seen[key]; dup {
			duplicates = append(duplicates, row)
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, row)
	}
	return fresh, duplicates
}
