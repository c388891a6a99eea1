package importer

import (
	"context"
	"testing"

	"github.com/almeidatech/quizbank/internal/model"
)

func execute(t *testing.T, o *Orchestrator, data []byte) model.ImportSummary {
	t.Helper()
	return o.ExecuteImport(context.Background(), NewImportID(), data, "upload.csv", 1, nil)
}

func checkCountInvariant(t *testing.T, s model.ImportSummary) {
	t.Helper()
	if got := s.SuccessfulImports + s.DuplicatesFound + s.ErrorCount; got != s.TotalRows {
		t.Errorf("count invariant violated: %d successful + %d duplicates + %d errors != %d total",
			s.SuccessfulImports, s.DuplicatesFound, s.ErrorCount, s.TotalRows)
	}
}

func TestExecuteImportHappyPath(t *testing.T) {
	s := newTestStore(t)
	tracker := NewMemoryTracker()
	o := New(s, tracker, Options{BatchSize: 2})

	data := csvFile(
		"What is 2+2?,1,2,3,4,,d,easy,arithmetic",
		"What is 3*3?,3,6,9,12,,c,easy,arithmetic",
		"Capital of France?,London,Paris,Rome,Madrid,,b,medium,geography",
	)
	summary := execute(t, o, data)

	if summary.Status != model.ImportCompleted {
		t.Fatalf("expected completed, got %q (%s)", summary.Status, summary.Message)
	}
	if summary.TotalRows != 3 || summary.SuccessfulImports != 3 {
		t.Errorf("expected 3/3 imported, got %+v", summary)
	}
	checkCountInvariant(t, summary)

	n, err := s.QuestionCount()
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 persisted questions, got %d", n)
	}

	// Two distinct topics created by fallback.
	topics, err := s.ListTopics()
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Errorf("expected 2 topics, got %d", len(topics))
	}

	rec, err := s.GetImport(summary.ImportID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	if rec.Status != model.ImportCompleted {
		t.Errorf("expected persisted completed status, got %q", rec.Status)
	}
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Error("expected started_at and completed_at stamped")
	}

	snap, ok, _ := tracker.Get(context.Background(), summary.ImportID)
	if !ok {
		t.Fatal("expected a final tracker snapshot")
	}
	if snap.Status != model.ImportCompleted || snap.Processed != snap.Total {
		t.Errorf("unexpected final snapshot: %+v", snap)
	}
}

func TestExecuteImportSkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{})

	first := execute(t, o, csvFile("What is 2+2?,1,2,3,4,,d,easy,arithmetic"))
	if first.Status != model.ImportCompleted {
		t.Fatalf("first import failed: %s", first.Message)
	}

	// Re-upload the same question plus one new row. Normalization differences
	// must not hide the duplicate.
	second := execute(t, o, csvFile(
		"WHAT IS  2+2,1,2,3,4,,d,easy,arithmetic",
		"What is 5-1?,2,3,4,5,,c,easy,arithmetic",
	))
	if second.Status != model.ImportCompleted {
		t.Fatalf("second import failed: %s", second.Message)
	}
	if second.DuplicatesFound != 1 {
		t.Errorf("expected 1 duplicate, got %d", second.DuplicatesFound)
	}
	if second.SuccessfulImports != 1 {
		t.Errorf("expected 1 new question, got %d", second.SuccessfulImports)
	}
	checkCountInvariant(t, second)

	n, _ := s.QuestionCount()
	if n != 2 {
		t.Errorf("expected 2 questions total, got %d", n)
	}
}

func TestExecuteImportCountsParseErrors(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{})

	summary := execute(t, o, csvFile(
		"good question,1,2,3,4,,a,easy,math",
		"bad difficulty,1,2,3,4,,a,nope,math",
		"bad answer,1,2,3,4,,z,easy,math",
	))
	if summary.Status != model.ImportCompleted {
		t.Fatalf("expected completed, got %q (%s)", summary.Status, summary.Message)
	}
	if summary.TotalRows != 3 {
		t.Errorf("total rows must include unparseable rows, got %d", summary.TotalRows)
	}
	if summary.SuccessfulImports != 1 || summary.ErrorCount != 2 {
		t.Errorf("expected 1 success and 2 errors, got %+v", summary)
	}
	checkCountInvariant(t, summary)

	rec, err := s.GetImport(summary.ImportID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	if rec.ErrorCount != 2 {
		t.Errorf("expected persisted error count 2, got %d", rec.ErrorCount)
	}
}

func TestExecuteImportAllRowsInvalid(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{})

	summary := execute(t, o, csvFile("bad,1,2,3,4,,z,easy,math"))
	if summary.Status != model.ImportFailed {
		t.Fatalf("expected failed, got %q", summary.Status)
	}
	if summary.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", summary.ErrorCount)
	}

	rec, err := s.GetImport(summary.ImportID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	if rec.Status != model.ImportFailed {
		t.Errorf("expected persisted failed status, got %q", rec.Status)
	}
	if rec.ErrorDetails == "" {
		t.Error("expected error details on a failed import")
	}
}

func TestExecuteImportBadHeader(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{})

	summary := execute(t, o, []byte("not,a,valid,header\nfoo,bar,baz,qux\n"))
	if summary.Status != model.ImportFailed {
		t.Fatalf("expected failed, got %q", summary.Status)
	}

	n, _ := s.QuestionCount()
	if n != 0 {
		t.Errorf("failed import must not persist questions, got %d", n)
	}
}

func TestExecuteImportReusesQueuedRecord(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{})

	// The upload handler creates the record before the pipeline runs.
	importID := NewImportID()
	if err := s.CreateImport(model.ImportRecord{ID: importID, AdminID: 7, CSVFilename: "queued.csv"}); err != nil {
		t.Fatalf("CreateImport: %v", err)
	}

	summary := o.ExecuteImport(context.Background(), importID, csvFile("q,1,2,3,4,,a,easy,math"), "queued.csv", 7, nil)
	if summary.ImportID != importID {
		t.Errorf("expected the pre-created id %q, got %q", importID, summary.ImportID)
	}
	if summary.Status != model.ImportCompleted {
		t.Fatalf("expected completed, got %q (%s)", summary.Status, summary.Message)
	}

	recs, err := s.ListImports()
	if err != nil {
		t.Fatalf("ListImports: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected a single import record, got %d", len(recs))
	}
}

func TestExecuteImportTopicMappingReuse(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{})

	summary := execute(t, o, csvFile(
		"q one,1,2,3,4,,a,easy,Linear Algebra",
		"q two,1,2,3,4,,b,easy,linear algebra",
		"q three,1,2,3,4,,c,easy,linear algebr",
	))
	if summary.Status != model.ImportCompleted {
		t.Fatalf("expected completed, got %q (%s)", summary.Status, summary.Message)
	}

	topics, err := s.ListTopics()
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("expected label variants to share one topic, got %d", len(topics))
	}

	questions, err := s.ListQuestionsFiltered("", topics[0].ID)
	if err != nil {
		t.Fatalf("ListQuestionsFiltered: %v", err)
	}
	if len(questions) != 3 {
		t.Errorf("expected all 3 questions on the shared topic, got %d", len(questions))
	}
}

func TestExecuteImportProgressCallback(t *testing.T) {
	s := newTestStore(t)
	o := New(s, NewMemoryTracker(), Options{BatchSize: 1})

	var seen []model.BatchProgress
	data := csvFile(
		"q one,1,2,3,4,,a,easy,math",
		"q two,1,2,3,4,,b,easy,math",
	)
	summary := o.ExecuteImport(context.Background(), NewImportID(), data, "upload.csv", 1, func(p model.BatchProgress) {
		seen = append(seen, p)
	})
	if summary.Status != model.ImportCompleted {
		t.Fatalf("expected completed, got %q", summary.Status)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 callbacks with batch size 1, got %d", len(seen))
	}
	if seen[0].Processed != 1 || seen[1].Processed != 2 {
		t.Errorf("expected monotonic processed counts, got %+v", seen)
	}
}
