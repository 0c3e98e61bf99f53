// Package history はパイプライン実行の履歴を SQLite に記録します。
//
// スキーマは埋め込みの golang-migrate マイグレーションで管理します。
package history

import (
	"context"
	"database/sql"
	"embed"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/YuminosukeSato/regselect/pkg/errors"

	// cgo を使わない SQLite ドライバ。マイグレーションも同じドライバを使う。
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound は指定した ID の実行が存在しない場合のエラー
var ErrRunNotFound = errors.New("run not found")

// Status は実行結果
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// CandidateScore は候補アルゴリズム1つの評価結果
type CandidateScore struct {
	Algorithm string        `json:"algorithm"`
	Score     float64       `json:"score"`
	Duration  time.Duration `json:"duration"`
}

// Run は1回のパイプライン実行の記録。失敗した実行の Score は NaN。
type Run struct {
	ID              string           `json:"id"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Status          Status           `json:"status"`
	BestModel       string           `json:"best_model,omitempty"`
	Score           float64          `json:"score"`
	Threshold       float64          `json:"threshold"`
	TransformerPath string           `json:"transformer_path,omitempty"`
	ModelPath       string           `json:"model_path,omitempty"`
	TrainRows       int              `json:"train_rows"`
	TestRows        int              `json:"test_rows"`
	Features        int              `json:"features"`
	Error           string           `json:"error,omitempty"`
	Candidates      []CandidateScore `json:"candidates"`
}

// Store は SQLite に実行履歴を保存する
type Store struct {
	db   *sql.DB
	path string
}

// Open は path のデータベースを開き、マイグレーションを適用する。
// path に ":memory:" を指定するとプロセス内だけのデータベースになる。
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.NewValidationError("history.path", "database path is required", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	// SQLite は書き込みが直列なので接続は1本で十分。:memory: では必須。
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping history database")
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to create migration source")
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "failed to create migration instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to run migrations")
	}
	return nil
}

// Close はデータベースを閉じる
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path はデータベースのパスを返す
func (s *Store) Path() string { return s.path }

// RecordRun は実行と候補スコアを1トランザクションで保存する
func (s *Store) RecordRun(ctx context.Context, run Run) (err error) {
	if run.ID == "" {
		return errors.NewValidationError("run.id", "run id is required", run.ID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, best_model, score, threshold,
			transformer_path, model_path, train_rows, test_rows, features, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UnixNano(),
		run.FinishedAt.UnixNano(),
		string(run.Status),
		run.BestModel,
		nullable(run.Score),
		run.Threshold,
		run.TransformerPath,
		run.ModelPath,
		run.TrainRows,
		run.TestRows,
		run.Features,
		run.Error,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert run %s", run.ID)
	}

	for i, c := range run.Candidates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidate_scores (run_id, position, algorithm, score, duration_ns)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, i, c.Algorithm, nullable(c.Score), c.Duration.Nanoseconds())
		if err != nil {
			return errors.Wrapf(err, "failed to insert candidate %s", c.Algorithm)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit run")
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, best_model, score, threshold,
	transformer_path, model_path, train_rows, test_rows, features, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run               Run
		started, finished int64
		status            string
		score             sql.NullFloat64
	)
	err := row.Scan(
		&run.ID,
		&started,
		&finished,
		&status,
		&run.BestModel,
		&score,
		&run.Threshold,
		&run.TransformerPath,
		&run.ModelPath,
		&run.TrainRows,
		&run.TestRows,
		&run.Features,
		&run.Error,
	)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finished).UTC()
	run.Status = Status(status)
	run.Score = fromNullable(score)
	return run, nil
}

// GetRun は ID を指定して実行を取得する
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "id %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	if run.Candidates, err = s.candidates(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns は新しい順に最大 limit 件の実行を返す。limit <= 0 は全件。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	// 接続が1本なので候補の読み込み前に閉じる
	_ = rows.Close()

	for i := range runs {
		if runs[i].Candidates, err = s.candidates(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) candidates(ctx context.Context, runID string) ([]CandidateScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT algorithm, score, duration_ns FROM candidate_scores
		WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load candidate scores")
	}
	defer rows.Close()

	out := []CandidateScore{}
	for rows.Next() {
		var (
			c        CandidateScore
			score    sql.NullFloat64
			duration int64
		)
		if err := rows.Scan(&c.Algorithm, &score, &duration); err != nil {
			return nil, errors.Wrap(err, "failed to scan candidate score")
		}
		c.Score = fromNullable(score)
		c.Duration = time.Duration(duration)
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate candidate scores")
}

// nullable は NaN と ±Inf を NULL として保存する
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
