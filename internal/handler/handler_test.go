package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/almeidatech/quizbank/internal/i18n"
	"github.com/almeidatech/quizbank/internal/importer"
	"github.com/almeidatech/quizbank/internal/jobs"
	"github.com/almeidatech/quizbank/internal/llm"
	"github.com/almeidatech/quizbank/internal/model"
	"github.com/almeidatech/quizbank/internal/ratelimit"
	"github.com/almeidatech/quizbank/internal/store"
)

const testCSVHeader = "question,option_a,option_b,option_c,option_d,option_e,correct_answer,difficulty,topic"

type testEnv struct {
	store  *store.Store
	queue  *jobs.Queue
	router chi.Router
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tracker := importer.NewMemoryTracker()
	orch := importer.New(s, tracker, importer.Options{BatchSize: 2})
	queue := jobs.NewQueue(1, 4)
	t.Cleanup(queue.Close)
	limiter := ratelimit.NewSlidingWindow(rateLimit, time.Hour)
	llmClient := llm.New("http://127.0.0.1:1", "test", "test-model")

	h := New(s, orch, queue, limiter, llmClient, Config{})

	r := chi.NewRouter()
	h.Routes(r)
	return &testEnv{store: s, queue: queue, router: r}
}

func createTestUser(t *testing.T, s *store.Store, username string, role model.UserRole) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	_, err = s.CreateUser(model.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func login(t *testing.T, env *testEnv, username, password string) *http.Cookie {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	req := httptest.NewRequest("POST", "/api/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie in login response")
	return nil
}

func adminEnv(t *testing.T, rateLimit int) (*testEnv, *http.Cookie) {
	t.Helper()
	env := newTestEnv(t, rateLimit)
	createTestUser(t, env.store, "admin", model.UserRoleAdmin)
	return env, login(t, env, "admin", "secret")
}

func doJSON(env *testEnv, method, path string, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func uploadCSV(t *testing.T, env *testEnv, cookie *http.Cookie, csvBody string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("csv_file", "questions.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(csvBody)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	w.Close()

	req := httptest.NewRequest("POST", "/api/admin/imports", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// waitForTerminal polls the import record until the background pipeline
// reaches a terminal status.
func waitForTerminal(t *testing.T, env *testEnv, importID string) model.ImportRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := env.store.GetImport(importID)
		if err == nil && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("import %s never reached a terminal status", importID)
	return model.ImportRecord{}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, 5)
	createTestUser(t, env.store, "admin", model.UserRoleAdmin)

	rec := doJSON(env, "POST", "/api/login", `{"username":"admin","password":"wrong"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected a JSON error message")
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := doJSON(env, "GET", "/api/questions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", rec.Code)
	}
}

func TestAdminRoleRequired(t *testing.T) {
	env := newTestEnv(t, 5)
	createTestUser(t, env.store, "student", model.UserRoleStudent)
	cookie := login(t, env, "student", "secret")

	rec := doJSON(env, "GET", "/api/admin/imports", "", cookie)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a student on an admin route, got %d", rec.Code)
	}
}

func TestEstimateMinutes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"empty file", "", 1},
		{"header only", testCSVHeader + "\n", 1},
		{"header plus one row", testCSVHeader + "\nq,1,2,3,4,,a,easy,math\n", 1},
		{"header plus six hundred rows", testCSVHeader + "\n" + strings.Repeat("q,1,2,3,4,,a,easy,math\n", 600), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimateMinutes([]byte(tt.data)); got != tt.want {
				t.Errorf("estimateMinutes = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUploadImportLifecycle(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	csvBody := testCSVHeader + "\n" +
		"What is 2+2?,1,2,3,4,,d,easy,arithmetic\n" +
		"Capital of France?,London,Paris,Rome,Madrid,,b,medium,geography\n"
	rec := uploadCSV(t, env, cookie, csvBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ImportID         string `json:"import_id"`
		Status           string `json:"status"`
		Filename         string `json:"filename"`
		EstimatedMinutes int    `json:"estimated_time_minutes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ImportID == "" {
		t.Fatal("expected an import_id")
	}
	if resp.Status != string(model.ImportQueued) {
		t.Errorf("expected queued status, got %q", resp.Status)
	}
	if resp.EstimatedMinutes < 1 {
		t.Errorf("expected a positive estimate, got %d", resp.EstimatedMinutes)
	}

	final := waitForTerminal(t, env, resp.ImportID)
	if final.Status != model.ImportCompleted {
		t.Fatalf("expected completed, got %q (%s)", final.Status, final.ErrorDetails)
	}
	if final.SuccessfulImports != 2 {
		t.Errorf("expected 2 imported questions, got %d", final.SuccessfulImports)
	}

	// Progress endpoint reports the finished import.
	progRec := doJSON(env, "GET", "/api/admin/imports/"+resp.ImportID+"/progress", "", cookie)
	if progRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from progress, got %d", progRec.Code)
	}
	var prog struct {
		Status          string `json:"status"`
		ProgressPercent int    `json:"progress_percent"`
	}
	if err := json.Unmarshal(progRec.Body.Bytes(), &prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if prog.Status != string(model.ImportCompleted) || prog.ProgressPercent != 100 {
		t.Errorf("unexpected progress: %+v", prog)
	}

	// The import detail lists the questions it created.
	detRec := doJSON(env, "GET", "/api/admin/imports/"+resp.ImportID, "", cookie)
	if detRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from import detail, got %d", detRec.Code)
	}
	var detail struct {
		QuestionIDs []int64 `json:"question_ids"`
	}
	if err := json.Unmarshal(detRec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode import detail: %v", err)
	}
	if len(detail.QuestionIDs) != 2 {
		t.Errorf("expected 2 linked question ids, got %v", detail.QuestionIDs)
	}

	// Imported questions are visible through the question listing.
	listRec := doJSON(env, "GET", "/api/questions", "", cookie)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from questions, got %d", listRec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if list.Count != 2 {
		t.Errorf("expected 2 questions listed, got %d", list.Count)
	}
}

func TestUploadMissingFile(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.Close()
	req := httptest.NewRequest("POST", "/api/admin/imports", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a file field, got %d", rec.Code)
	}
}

func TestUploadRateLimited(t *testing.T) {
	env, cookie := adminEnv(t, 1)

	csvBody := testCSVHeader + "\nq,1,2,3,4,,a,easy,math\n"
	if rec := uploadCSV(t, env, cookie, csvBody); rec.Code != http.StatusAccepted {
		t.Fatalf("first upload should be accepted, got %d", rec.Code)
	}
	rec := uploadCSV(t, env, cookie, csvBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 on the second upload, got %d", rec.Code)
	}
}

func TestUploadQueueUnavailable(t *testing.T) {
	env, cookie := adminEnv(t, 5)
	env.queue.Close()

	csvBody := testCSVHeader + "\nq,1,2,3,4,,a,easy,math\n"
	rec := uploadCSV(t, env, cookie, csvBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with the queue closed, got %d", rec.Code)
	}
}

func TestProgressUnknownImport(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	rec := doJSON(env, "GET", "/api/admin/imports/nope/progress", "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRollbackFlow(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	csvBody := testCSVHeader + "\n" +
		"rollback me,1,2,3,4,,a,easy,math\n" +
		"rollback me too,1,2,3,4,,b,easy,math\n"
	rec := uploadCSV(t, env, cookie, csvBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload failed: %d", rec.Code)
	}
	var resp struct {
		ImportID string `json:"import_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	waitForTerminal(t, env, resp.ImportID)

	rbRec := doJSON(env, "POST", "/api/admin/imports/"+resp.ImportID+"/rollback", "", cookie)
	if rbRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from rollback, got %d: %s", rbRec.Code, rbRec.Body.String())
	}
	var rb struct {
		DeletedCount int64  `json:"deleted_count"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(rbRec.Body.Bytes(), &rb); err != nil {
		t.Fatalf("decode rollback: %v", err)
	}
	if rb.DeletedCount != 2 || rb.Status != string(model.ImportRollback) {
		t.Errorf("unexpected rollback response: %+v", rb)
	}

	// Second rollback conflicts.
	again := doJSON(env, "POST", "/api/admin/imports/"+resp.ImportID+"/rollback", "", cookie)
	if again.Code != http.StatusConflict {
		t.Errorf("expected 409 on double rollback, got %d", again.Code)
	}

	// Unknown import is 404.
	missing := doJSON(env, "POST", "/api/admin/imports/nope/rollback", "", cookie)
	if missing.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown import, got %d", missing.Code)
	}
}

func TestRollbackNotCompleted(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	if err := env.store.CreateImport(model.ImportRecord{ID: "queued-1", AdminID: 1, CSVFilename: "f.csv"}); err != nil {
		t.Fatalf("CreateImport: %v", err)
	}
	rec := doJSON(env, "POST", "/api/admin/imports/queued-1/rollback", "", cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a queued import, got %d", rec.Code)
	}
}

func TestCreateUserValidation(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	rec := doJSON(env, "POST", "/api/admin/users", `{"username":"","password":""}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", rec.Code)
	}

	rec = doJSON(env, "POST", "/api/admin/users", `{"username":"bob","password":"pw","role":"wizard"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", rec.Code)
	}

	rec = doJSON(env, "POST", "/api/admin/users", `{"username":"bob","password":"pw","role":"student"}`, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate username conflicts.
	rec = doJSON(env, "POST", "/api/admin/users", `{"username":"bob","password":"pw2","role":"student"}`, cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", rec.Code)
	}
}

func TestGenerateQuestionsValidation(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	rec := doJSON(env, "POST", "/api/admin/questions/generate", `{"topic":"","difficulty":"easy"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing topic, got %d", rec.Code)
	}

	rec = doJSON(env, "POST", "/api/admin/questions/generate", `{"topic":"math","difficulty":"brutal"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid difficulty, got %d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	env, cookie := adminEnv(t, 5)

	rec := doJSON(env, "POST", "/api/logout", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", rec.Code)
	}

	// The session is gone: the old cookie no longer authenticates.
	after := doJSON(env, "GET", "/api/questions", "", cookie)
	if after.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", after.Code)
	}
}
