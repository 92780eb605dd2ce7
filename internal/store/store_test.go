package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
)

// factories returns the Store implementations exercised by the shared tests.
func factories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLite(t.TempDir(), DefaultOptions())
			if err != nil {
				t.Fatalf("failed to open database: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			t.Helper()
			return NewMemory()
		},
	}
}

// forEachStore runs fn as a parallel subtest for every implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, newStore(t))
		})
	}
}

func entries(sessionID string, urls ...string) []*model.QueueEntry {
	out := make([]*model.QueueEntry, 0, len(urls))
	for _, u := range urls {
		out = append(out, model.NewQueueEntry(sessionID, u))
	}
	return out
}

// TestOpenSQLite tests database opening and creation.
func TestOpenSQLite(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		s, err := OpenSQLite(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer s.Close()

		if _, err := os.Stat(filepath.Join(dbDir, DatabaseFile)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if s.Path() != filepath.Join(dbDir, DatabaseFile) {
			t.Errorf("unexpected path %q", s.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		_, err := OpenSQLite(t.TempDir(), Options{CreateIfNotExists: false})
		if err == nil {
			t.Fatal("expected error for missing database")
		}
	})

	t.Run("reopening keeps data", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		ctx := context.Background()

		s, err := OpenSQLite(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		if err := s.Enqueue(ctx, "s1", entries("s1", "http://a/")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		_ = s.Close()

		s, err = OpenSQLite(dir, Options{CreateIfNotExists: false})
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer s.Close()

		n, err := s.QueueCount(ctx, "s1")
		if err != nil {
			t.Fatalf("QueueCount failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 queued entry after reopen, got %d", n)
		}
	})
}

// TestQueue tests enqueue, paging and removal.
func TestQueue(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var urls []string
		for i := range 5 {
			urls = append(urls, fmt.Sprintf("http://example.com/%d", i))
		}
		in := entries("s1", urls...)
		in[2].Metadata = "q=1"
		in[3].Depth = 4
		in[3].ParentURL = "http://example.com/"
		if err := s.Enqueue(ctx, "s1", in); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if err := s.Enqueue(ctx, "s2", entries("s2", "http://other/")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}

		page, err := s.DequeuePage(ctx, "s1", 3)
		if err != nil {
			t.Fatalf("DequeuePage failed: %v", err)
		}
		if len(page) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(page))
		}
		for i, e := range page {
			if e.URL != urls[i] {
				t.Errorf("entry %d: expected %s, got %s", i, urls[i], e.URL)
			}
			if e.ID == 0 {
				t.Errorf("entry %d: expected store assigned id", i)
			}
			if e.SessionID != "s1" {
				t.Errorf("entry %d: expected session s1, got %s", i, e.SessionID)
			}
		}
		if page[2].Metadata != "q=1" {
			t.Errorf("expected metadata to round trip, got %q", page[2].Metadata)
		}

		ids := make([]int64, 0, len(page))
		for _, e := range page {
			ids = append(ids, e.ID)
		}
		if err := s.RemoveByIDs(ctx, ids); err != nil {
			t.Fatalf("RemoveByIDs failed: %v", err)
		}

		rest, err := s.DequeuePage(ctx, "s1", 10)
		if err != nil {
			t.Fatalf("DequeuePage failed: %v", err)
		}
		if len(rest) != 2 {
			t.Fatalf("expected 2 remaining entries, got %d", len(rest))
		}
		if rest[0].Depth != 4 || rest[0].ParentURL != "http://example.com/" {
			t.Errorf("expected depth and parent to round trip, got %+v", rest[0])
		}

		n, err := s.QueueCount(ctx, "s2")
		if err != nil {
			t.Fatalf("QueueCount failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected session s2 untouched, got %d entries", n)
		}
	})
}

// TestExistsPending tests that pending membership uses url and metadata.
func TestExistsPending(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		e := model.NewQueueEntry("s1", "http://example.com/form")
		e.Metadata = "a=1"
		if err := s.Enqueue(ctx, "s1", []*model.QueueEntry{e}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}

		tests := []struct {
			name      string
			sessionID string
			url       string
			metadata  string
			want      bool
		}{
			{"same url and metadata", "s1", "http://example.com/form", "a=1", true},
			{"different metadata", "s1", "http://example.com/form", "", false},
			{"different session", "s2", "http://example.com/form", "a=1", false},
		}
		for _, tt := range tests {
			got, err := s.ExistsPending(ctx, tt.sessionID, tt.url, tt.metadata)
			if err != nil {
				t.Fatalf("%s: ExistsPending failed: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
			}
		}
	})
}

// TestVisitedMarks tests marking, repeated marks and deletion of visited urls.
func TestVisitedMarks(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for range 2 {
			if err := s.MarkVisited(ctx, "s1", "http://example.com/dir/"); err != nil {
				t.Fatalf("MarkVisited failed: %v", err)
			}
		}
		if err := s.MarkVisited(ctx, "s2", "http://example.com/other/"); err != nil {
			t.Fatalf("MarkVisited failed: %v", err)
		}

		tests := []struct {
			name      string
			sessionID string
			url       string
			want      bool
		}{
			{"marked url", "s1", "http://example.com/dir/", true},
			{"unmarked url", "s1", "http://example.com/other/", false},
			{"other session", "s2", "http://example.com/dir/", false},
		}
		for _, tt := range tests {
			got, err := s.ExistsVisited(ctx, tt.sessionID, tt.url)
			if err != nil {
				t.Fatalf("%s: ExistsVisited failed: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
			}
		}

		if err := s.DeleteQueue(ctx, "s1"); err != nil {
			t.Fatalf("DeleteQueue failed: %v", err)
		}
		if ok, _ := s.ExistsVisited(ctx, "s1", "http://example.com/dir/"); ok {
			t.Error("expected DeleteQueue to drop visited marks")
		}
		if ok, _ := s.ExistsVisited(ctx, "s2", "http://example.com/other/"); !ok {
			t.Error("expected marks of other sessions to survive DeleteQueue")
		}

		if err := s.DeleteAllQueues(ctx); err != nil {
			t.Fatalf("DeleteAllQueues failed: %v", err)
		}
		if ok, _ := s.ExistsVisited(ctx, "s2", "http://example.com/other/"); ok {
			t.Error("expected DeleteAllQueues to drop every visited mark")
		}
	})
}

// TestResults tests storing, reading and iterating results.
func TestResults(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		for i := range 3 {
			r := &model.FetchResult{
				SessionID:     "s1",
				URL:           fmt.Sprintf("http://example.com/%d", i),
				Method:        model.MethodGet,
				HTTPStatus:    200,
				MimeType:      "text/html",
				ContentLength: int64(100 * i),
				CreateTime:    base.Add(time.Duration(2-i) * time.Second),
				Data:          []byte("hello"),
				Attributes:    map[string]string{"title": fmt.Sprintf("page %d", i)},
			}
			if err := s.StoreResult(ctx, r); err != nil {
				t.Fatalf("StoreResult failed: %v", err)
			}
			if r.ID == 0 {
				t.Error("expected StoreResult to set the id")
			}
		}

		n, err := s.Count(ctx, "s1")
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 results, got %d", n)
		}

		got, err := s.GetResult(ctx, "s1", "http://example.com/1")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got.Attributes["title"] != "page 1" {
			t.Errorf("expected attributes to round trip, got %v", got.Attributes)
		}
		if string(got.Data) != "hello" {
			t.Errorf("expected data to round trip, got %q", got.Data)
		}
		if !got.CreateTime.Equal(base.Add(time.Second)) {
			t.Errorf("expected create time to round trip, got %v", got.CreateTime)
		}

		var order []string
		err = s.Iterate(ctx, "s1", func(r *model.FetchResult) error {
			order = append(order, r.URL)
			return nil
		})
		if err != nil {
			t.Fatalf("Iterate failed: %v", err)
		}
		want := []string{"http://example.com/2", "http://example.com/1", "http://example.com/0"}
		if fmt.Sprint(order) != fmt.Sprint(want) {
			t.Errorf("expected create time order %v, got %v", want, order)
		}

		ok, err := s.ExistsResult(ctx, "s1", "http://example.com/0")
		if err != nil || !ok {
			t.Errorf("expected result to exist, got %v, %v", ok, err)
		}
		ok, err = s.ExistsResult(ctx, "s2", "http://example.com/0")
		if err != nil || ok {
			t.Errorf("expected result to be absent in other session, got %v, %v", ok, err)
		}

		if _, err := s.GetResult(ctx, "s1", "http://missing/"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestUpdateResult tests re-crawl updates.
func TestUpdateResult(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		r := &model.FetchResult{SessionID: "s1", URL: "http://a/", HTTPStatus: 500, Status: model.StatusFailed, CreateTime: time.Now()}
		if err := s.StoreResult(ctx, r); err != nil {
			t.Fatalf("StoreResult failed: %v", err)
		}

		update := &model.FetchResult{SessionID: "s1", URL: "http://a/", HTTPStatus: 200, Status: model.StatusOK, CreateTime: time.Now()}
		if err := s.UpdateResult(ctx, update); err != nil {
			t.Fatalf("UpdateResult failed: %v", err)
		}
		if update.ID != r.ID {
			t.Errorf("expected update to target id %d, got %d", r.ID, update.ID)
		}

		got, err := s.GetResult(ctx, "s1", "http://a/")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got.HTTPStatus != 200 || got.Failed() {
			t.Errorf("expected updated result, got %+v", got)
		}

		n, _ := s.Count(ctx, "s1")
		if n != 1 {
			t.Errorf("expected update not to add a row, got %d", n)
		}

		missing := &model.FetchResult{SessionID: "s1", URL: "http://missing/"}
		if err := s.UpdateResult(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestIteratePaging tests iteration across more than one page.
func TestIteratePaging(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now()

		total := iteratePageSize + 7
		for i := range total {
			r := &model.FetchResult{
				SessionID:  "s1",
				URL:        fmt.Sprintf("http://example.com/%d", i),
				CreateTime: base.Add(time.Duration(i%3) * time.Millisecond),
			}
			if err := s.StoreResult(ctx, r); err != nil {
				t.Fatalf("StoreResult failed: %v", err)
			}
		}

		seen := make(map[string]bool)
		err := s.Iterate(ctx, "s1", func(r *model.FetchResult) error {
			if seen[r.URL] {
				t.Errorf("result %s visited twice", r.URL)
			}
			seen[r.URL] = true
			return nil
		})
		if err != nil {
			t.Fatalf("Iterate failed: %v", err)
		}
		if len(seen) != total {
			t.Errorf("expected %d results, got %d", total, len(seen))
		}
	})
}

// TestIterateStopsOnError tests that fn errors stop iteration.
func TestIterateStopsOnError(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := range 3 {
			_ = s.StoreResult(ctx, &model.FetchResult{SessionID: "s1", URL: fmt.Sprintf("http://a/%d", i), CreateTime: time.Now()})
		}

		errStop := errors.New("stop")
		calls := 0
		err := s.Iterate(ctx, "s1", func(*model.FetchResult) error {
			calls++
			return errStop
		})
		if !errors.Is(err, errStop) {
			t.Errorf("expected errStop, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

// TestDeleteIsIdempotent tests that deletes return counts and tolerate repeats.
func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for i := range 4 {
			sid := "s1"
			if i == 3 {
				sid = "s2"
			}
			_ = s.StoreResult(ctx, &model.FetchResult{SessionID: sid, URL: fmt.Sprintf("http://a/%d", i), CreateTime: time.Now()})
		}

		n, err := s.DeleteBySession(ctx, "s1")
		if err != nil {
			t.Fatalf("DeleteBySession failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 deleted, got %d", n)
		}

		n, err = s.DeleteBySession(ctx, "s1")
		if err != nil {
			t.Fatalf("second DeleteBySession failed: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0 deleted on repeat, got %d", n)
		}

		n, err = s.DeleteAll(ctx)
		if err != nil {
			t.Fatalf("DeleteAll failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 deleted by DeleteAll, got %d", n)
		}

		if err := s.DeleteQueue(ctx, "never-existed"); err != nil {
			t.Errorf("expected deleting a missing queue to succeed, got %v", err)
		}
		if err := s.DeleteSession(ctx, "never-existed"); err != nil {
			t.Errorf("expected deleting a missing session to succeed, got %v", err)
		}
	})
}

// TestPatterns tests filter pattern persistence.
func TestPatterns(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		patterns := []model.FilterPattern{
			{Direction: model.Include, Regex: `^https://example\.com/.*`},
			{Direction: model.Exclude, Regex: `.*\.pdf$`},
		}
		if err := s.SavePatterns(ctx, "s1", patterns); err != nil {
			t.Fatalf("SavePatterns failed: %v", err)
		}
		// Saving again does not duplicate.
		if err := s.SavePatterns(ctx, "s1", patterns); err != nil {
			t.Fatalf("SavePatterns failed: %v", err)
		}

		got, err := s.Patterns(ctx, "s1")
		if err != nil {
			t.Fatalf("Patterns failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 patterns, got %d", len(got))
		}
		if got[0].Direction != model.Include || got[1].Direction != model.Exclude {
			t.Errorf("unexpected directions: %+v", got)
		}
		if got[1].SessionID != "s1" {
			t.Errorf("expected session id s1, got %q", got[1].SessionID)
		}

		other, _ := s.Patterns(ctx, "s2")
		if len(other) != 0 {
			t.Errorf("expected no patterns for s2, got %d", len(other))
		}

		if err := s.DeletePatterns(ctx, "s1"); err != nil {
			t.Fatalf("DeletePatterns failed: %v", err)
		}
		got, _ = s.Patterns(ctx, "s1")
		if len(got) != 0 {
			t.Errorf("expected patterns deleted, got %d", len(got))
		}
	})
}

// TestSessions tests session records.
func TestSessions(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

		older := &model.CrawlSession{SessionID: "old", Status: model.SessionDone, MaxDepth: -1, StartTime: start}
		newer := &model.CrawlSession{
			SessionID:      "new",
			Status:         model.SessionRunning,
			MaxAccessCount: 50,
			MaxDepth:       2,
			NumOfThreads:   4,
			Background:     true,
			StartTime:      start.Add(time.Hour),
		}
		for _, cs := range []*model.CrawlSession{older, newer} {
			if err := s.SaveSession(ctx, cs); err != nil {
				t.Fatalf("SaveSession failed: %v", err)
			}
		}

		newer.Status = model.SessionDone
		newer.AccessCount = 50
		newer.EndTime = start.Add(2 * time.Hour)
		if err := s.SaveSession(ctx, newer); err != nil {
			t.Fatalf("SaveSession upsert failed: %v", err)
		}

		got, err := s.GetSession(ctx, "new")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.Status != model.SessionDone || got.AccessCount != 50 || !got.Background || got.MaxDepth != 2 {
			t.Errorf("unexpected session: %+v", got)
		}
		if got.Duration() != time.Hour {
			t.Errorf("expected 1h duration, got %v", got.Duration())
		}

		list, err := s.ListSessions(ctx)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(list) != 2 || list[0].SessionID != "new" {
			t.Errorf("expected newest first, got %+v", list)
		}

		if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestPurgeSession tests removing all traces of a session.
func TestPurgeSession(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_ = s.Enqueue(ctx, "s1", entries("s1", "http://a/"))
		_ = s.StoreResult(ctx, &model.FetchResult{SessionID: "s1", URL: "http://b/", CreateTime: time.Now()})
		_ = s.SavePatterns(ctx, "s1", []model.FilterPattern{{Regex: "x"}})
		_ = s.SaveSession(ctx, &model.CrawlSession{SessionID: "s1"})
		_ = s.StoreResult(ctx, &model.FetchResult{SessionID: "s2", URL: "http://b/", CreateTime: time.Now()})

		n, err := PurgeSession(ctx, s, "s1")
		if err != nil {
			t.Fatalf("PurgeSession failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 result removed, got %d", n)
		}

		if q, _ := s.QueueCount(ctx, "s1"); q != 0 {
			t.Errorf("expected empty queue, got %d", q)
		}
		if p, _ := s.Patterns(ctx, "s1"); len(p) != 0 {
			t.Errorf("expected no patterns, got %d", len(p))
		}
		if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected session removed, got %v", err)
		}
		if c, _ := s.Count(ctx, "s2"); c != 1 {
			t.Errorf("expected other session untouched, got %d", c)
		}

		if _, err := PurgeSession(ctx, s, "s1"); err != nil {
			t.Errorf("expected repeated purge to succeed, got %v", err)
		}
	})
}
