package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/hitoshi/fountain/internal/database"
	"github.com/hitoshi/fountain/internal/model"
)

// PostgresEntryRepoはEntryRepositoryインターフェースを満たすことを検証
func TestPostgresEntryRepo_ImplementsInterface(t *testing.T) {
	var _ EntryRepository = (*PostgresEntryRepo)(nil)
}

// NewPostgresEntryRepoが正しく初期化されることを検証
func TestNewPostgresEntryRepo_Initializes(t *testing.T) {
	if repo := NewPostgresEntryRepo(nil); repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// setupEntryRepo はTEST_DATABASE_URLのDBにマイグレーションを適用し、空のテーブルを用意する。
// DBに接続できない場合はスキップする。
func setupEntryRepo(t *testing.T) (*PostgresEntryRepo, *sql.DB) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Ping(context.Background(), db, 3*time.Second); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE queue_entries`); err != nil {
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}

	return NewPostgresEntryRepo(db), db
}

func testEntry(id string, position int, status model.Status) model.QueueEntry {
	return model.QueueEntry{
		ID:          id,
		FullName:    "Jane Doe",
		Phone:       "5195550123",
		Position:    position,
		AdmittedAt:  time.Date(2026, 10, 17, 13, 0, position, 0, time.UTC),
		Status:      status,
		SessionDate: "2026-10-17",
	}
}

func TestPostgresEntryRepo_UpsertAndList(t *testing.T) {
	repo, _ := setupEntryRepo(t)
	ctx := context.Background()

	second := testEntry("00000000-0000-4000-8000-000000000002", 2, model.StatusWaiting)
	first := testEntry("00000000-0000-4000-8000-000000000001", 1, model.StatusWaiting)
	for _, e := range []model.QueueEntry{second, first} {
		if err := repo.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert に失敗: %v", err)
		}
	}

	entries, err := repo.ListBySession(ctx, "2026-10-17")
	if err != nil {
		t.Fatalf("ListBySession に失敗: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("件数 = %d, want 2", len(entries))
	}
	if entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Errorf("番号順に並んでいない: %s, %s", entries[0].ID, entries[1].ID)
	}
	if entries[0].SessionDate != "2026-10-17" || !entries[0].AdmittedAt.Equal(first.AdmittedAt) {
		t.Errorf("entry = %+v", entries[0])
	}
}

// 古い状態の通知が後から届いても新しい状態を上書きしないことを検証する
func TestPostgresEntryRepo_Upsert_IgnoresLowerRank(t *testing.T) {
	repo, _ := setupEntryRepo(t)
	ctx := context.Background()

	id := "00000000-0000-4000-8000-000000000003"
	left := testEntry(id, 1, model.StatusLeft)
	leftAt := time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC)
	left.LeftAt = &leftAt

	if err := repo.Upsert(ctx, left); err != nil {
		t.Fatalf("Upsert(left) に失敗: %v", err)
	}
	if err := repo.Upsert(ctx, testEntry(id, 1, model.StatusAlmost)); err != nil {
		t.Fatalf("Upsert(almost) に失敗: %v", err)
	}

	entries, err := repo.ListBySession(ctx, "2026-10-17")
	if err != nil {
		t.Fatalf("ListBySession に失敗: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("件数 = %d, want 1", len(entries))
	}
	if entries[0].Status != model.StatusLeft || entries[0].LeftAt == nil || !entries[0].LeftAt.Equal(leftAt) {
		t.Errorf("entry = %+v, want left with LeftAt", entries[0])
	}
}

func TestPostgresEntryRepo_Upsert_AppliesHigherRank(t *testing.T) {
	repo, _ := setupEntryRepo(t)
	ctx := context.Background()

	id := "00000000-0000-4000-8000-000000000004"
	if err := repo.Upsert(ctx, testEntry(id, 1, model.StatusWaiting)); err != nil {
		t.Fatalf("Upsert(waiting) に失敗: %v", err)
	}
	ready := testEntry(id, 1, model.StatusReady)
	readyAt := time.Date(2026, 10, 17, 13, 30, 0, 0, time.UTC)
	ready.ReadyAt = &readyAt
	if err := repo.Upsert(ctx, ready); err != nil {
		t.Fatalf("Upsert(ready) に失敗: %v", err)
	}

	entries, _ := repo.ListBySession(ctx, "2026-10-17")
	if len(entries) != 1 || entries[0].Status != model.StatusReady || entries[0].ReadyAt == nil {
		t.Errorf("entries = %+v, want one ready entry", entries)
	}
}

func TestPostgresEntryRepo_PurgeBefore(t *testing.T) {
	repo, _ := setupEntryRepo(t)
	ctx := context.Background()

	old := testEntry("00000000-0000-4000-8000-000000000005", 1, model.StatusLeft)
	old.SessionDate = "2026-09-01"
	current := testEntry("00000000-0000-4000-8000-000000000006", 1, model.StatusWaiting)
	for _, e := range []model.QueueEntry{old, current} {
		if err := repo.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert に失敗: %v", err)
		}
	}

	n, err := repo.PurgeBefore(ctx, "2026-09-17")
	if err != nil {
		t.Fatalf("PurgeBefore に失敗: %v", err)
	}
	if n != 1 {
		t.Errorf("削除件数 = %d, want 1", n)
	}

	remaining, _ := repo.ListBySession(ctx, "2026-10-17")
	if len(remaining) != 1 {
		t.Errorf("当日のエントリが削除された: %+v", remaining)
	}
}
