package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/fountain/internal/model"
)

const sessionDateLayout = "2006-01-02"

// PostgresEntryRepo はPostgreSQLを使用した受付エントリリポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// Upsert はエントリを保存する。
// 同一IDの行が存在する場合、status_rankが上がる更新のみを適用する。
func (r *PostgresEntryRepo) Upsert(ctx context.Context, entry model.QueueEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO queue_entries
			(id, session_date, position, full_name, phone, status, status_rank, admitted_at, ready_at, left_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			status_rank = EXCLUDED.status_rank,
			ready_at    = COALESCE(EXCLUDED.ready_at, queue_entries.ready_at),
			left_at     = COALESCE(EXCLUDED.left_at, queue_entries.left_at),
			updated_at  = now()
		 WHERE queue_entries.status_rank < EXCLUDED.status_rank`,
		entry.ID, entry.SessionDate, entry.Position, entry.FullName, entry.Phone,
		string(entry.Status), entry.Status.Rank(), entry.AdmittedAt, entry.ReadyAt, entry.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert queue entry: %w", err)
	}
	return nil
}

// ListBySession は指定セッション日付のエントリを番号順に取得する。
func (r *PostgresEntryRepo) ListBySession(ctx context.Context, sessionDate string) ([]model.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_date, position, full_name, phone, status, admitted_at, ready_at, left_at
		 FROM queue_entries
		 WHERE session_date = $1
		 ORDER BY position`,
		sessionDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return entries, nil
}

// PurgeBefore は指定日付より前のセッションのエントリを削除する。
func (r *PostgresEntryRepo) PurgeBefore(ctx context.Context, sessionDate string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE session_date < $1`,
		sessionDate,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// scanEntry は1行をQueueEntryに変換する。
func scanEntry(rows *sql.Rows) (model.QueueEntry, error) {
	var (
		entry   model.QueueEntry
		session time.Time
		status  string
		readyAt sql.NullTime
		leftAt  sql.NullTime
	)
	if err := rows.Scan(
		&entry.ID, &session, &entry.Position, &entry.FullName, &entry.Phone,
		&status, &entry.AdmittedAt, &readyAt, &leftAt,
	); err != nil {
		return model.QueueEntry{}, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	parsed, ok := model.ParseStatus(status)
	if !ok {
		return model.QueueEntry{}, fmt.Errorf("queue entry %s has unknown status %q", entry.ID, status)
	}
	entry.Status = parsed
	entry.SessionDate = session.Format(sessionDateLayout)
	entry.AdmittedAt = entry.AdmittedAt.UTC()
	if readyAt.Valid {
		t := readyAt.Time.UTC()
		entry.ReadyAt = &t
	}
	if leftAt.Valid {
		t := leftAt.Time.UTC()
		entry.LeftAt = &t
	}
	return entry, nil
}

// compile-time interface check
var _ EntryRepository = (*PostgresEntryRepo)(nil)
