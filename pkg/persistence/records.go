package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outcome is the terminal state of a recorded build.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// BuildRecord is one row of the build-history journal: a single
// BuildDirect/BuildToFile/BuildToRemoteFile/BuildRemote run from start to
// terminal outcome.
type BuildRecord struct {
	ID             int64
	MachineName    string
	Target         string
	StartedAt      time.Time
	EndedAt        sql.NullTime
	LinesProcessed int
	LinesTotal     int
	Outcome        string
	FailureReason  string
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS build_records (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			machine_name    TEXT NOT NULL,
			target          TEXT NOT NULL,
			started_at      DATETIME NOT NULL,
			ended_at        DATETIME,
			lines_processed INTEGER NOT NULL DEFAULT 0,
			lines_total     INTEGER NOT NULL DEFAULT 0,
			outcome         TEXT NOT NULL DEFAULT 'running',
			failure_reason  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_build_records_machine ON build_records(machine_name);
		CREATE INDEX IF NOT EXISTS idx_build_records_started ON build_records(started_at);
	`)
	return err
}

// BeginBuild inserts a new in-progress record and returns its ID.
func BeginBuild(ctx context.Context, machineName, target string, linesTotal int) (int64, error) {
	res, err := GetDB().ExecContext(ctx, `
		INSERT INTO build_records (machine_name, target, started_at, lines_total, outcome)
		VALUES (?, ?, ?, ?, 'running')
	`, machineName, target, nowUTC(), linesTotal)
	if err != nil {
		return 0, fmt.Errorf("insert build record: %w", err)
	}
	return res.LastInsertId()
}

// FinishBuild closes out a build record with its terminal outcome.
func FinishBuild(ctx context.Context, id int64, linesProcessed int, outcome Outcome, failureReason string) error {
	_, err := GetDB().ExecContext(ctx, `
		UPDATE build_records
		SET ended_at = ?, lines_processed = ?, outcome = ?, failure_reason = ?
		WHERE id = ?
	`, nowUTC(), linesProcessed, string(outcome), failureReason, id)
	if err != nil {
		return fmt.Errorf("finish build record %d: %w", id, err)
	}
	return nil
}

// RecentBuilds returns the most recent limit build records for a machine,
// newest first.
func RecentBuilds(ctx context.Context, machineName string, limit int) ([]BuildRecord, error) {
	rows, err := GetDB().QueryContext(ctx, `
		SELECT id, machine_name, target, started_at, ended_at, lines_processed, lines_total, outcome, failure_reason
		FROM build_records
		WHERE machine_name = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, machineName, limit)
	if err != nil {
		return nil, fmt.Errorf("query build records: %w", err)
	}
	defer rows.Close()

	var records []BuildRecord
	for rows.Next() {
		var r BuildRecord
		if err := rows.Scan(&r.ID, &r.MachineName, &r.Target, &r.StartedAt, &r.EndedAt,
			&r.LinesProcessed, &r.LinesTotal, &r.Outcome, &r.FailureReason); err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
