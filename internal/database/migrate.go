// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// queue_entries のスキーマ定義。バイナリに埋め込み、migrate サブコマンドで適用する。
//
//go:embed migrations/*.sql
var schemaFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動での復旧が必要な状態を表す。
var ErrDirtySchema = errors.New("schema is dirty; fix the failed migration and force its version")

// MigrationResult はマイグレーション適用後のスキーマの状態。
type MigrationResult struct {
	Version uint // 適用済みの最新バージョン。未適用なら0
	Applied bool // 今回の実行で新たに適用したか
}

// NewMigrator は埋め込みスキーマを読み込むmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のバージョンを返す。
// 最新の場合はApplied=falseで返る。dirtyな状態のスキーマには何も適用しない。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	before, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{}, fmt.Errorf("failed to apply schema from version %d: %w", before, err)
	}

	after, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}
	return MigrationResult{Version: after, Applied: after != before}, nil
}

// schemaVersion は現在のスキーマバージョンを返す。未適用なら0。
func schemaVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("version %d: %w", version, ErrDirtySchema)
	}
	return version, nil
}
