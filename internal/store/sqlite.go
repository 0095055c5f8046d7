package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    type TEXT NOT NULL,
    target_metric TEXT NOT NULL,
    traffic_allocation REAL NOT NULL DEFAULT 100,
    min_sample_size INTEGER NOT NULL DEFAULT 0,
    confidence_threshold REAL NOT NULL DEFAULT 95,
    winner_variant_id TEXT,
    start_date INTEGER,
    end_date INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_tenant ON experiments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_experiments_tenant_status ON experiments(tenant_id, status);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    name TEXT NOT NULL,
    is_control INTEGER NOT NULL DEFAULT 0,
    traffic_percentage REAL NOT NULL,
    config TEXT,
    position INTEGER NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, position);

CREATE TABLE IF NOT EXISTS assignments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    assigned_at INTEGER NOT NULL DEFAULT (unixepoch()),
    converted INTEGER NOT NULL DEFAULT 0,
    conversion_value REAL,
    converted_at INTEGER,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_dedup ON assignments(tenant_id, experiment_id, visitor_id);
CREATE INDEX IF NOT EXISTS idx_assignments_variant ON assignments(experiment_id, variant_id);

CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    date TEXT NOT NULL,
    visitors INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0,
    bounce_rate REAL,
    avg_time_on_page REAL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_results_dedup ON results(experiment_id, variant_id, date);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Concurrent first exposures race on the assignments unique index;
	// wait out writer contention instead of surfacing SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, params CreateExperimentParams) (*Experiment, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	exp := &Experiment{
		ID:                  uuid.NewString(),
		TenantID:            params.TenantID,
		Name:                params.Name,
		Status:              StatusDraft,
		Type:                params.Type,
		TargetMetric:        params.TargetMetric,
		TrafficAllocation:   params.TrafficAllocation,
		MinSampleSize:       params.MinSampleSize,
		ConfidenceThreshold: params.ConfidenceThreshold,
		CreatedAt:           time.Unix(now, 0),
		UpdatedAt:           time.Unix(now, 0),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO experiments (id, tenant_id, name, status, type, target_metric, traffic_allocation,
		                          min_sample_size, confidence_threshold, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.TenantID, exp.Name, string(exp.Status), string(exp.Type), exp.TargetMetric,
		exp.TrafficAllocation, exp.MinSampleSize, exp.ConfidenceThreshold, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	// Control gets position 0 so the assignment walk order is stable.
	ordered := make([]CreateVariantParams, 0, len(params.Variants))
	for _, v := range params.Variants {
		if v.IsControl {
			ordered = append(ordered, v)
		}
	}
	for _, v := range params.Variants {
		if !v.IsControl {
			ordered = append(ordered, v)
		}
	}

	for pos, v := range ordered {
		variant := Variant{
			ID:                uuid.NewString(),
			ExperimentID:      exp.ID,
			Name:              v.Name,
			IsControl:         v.IsControl,
			TrafficPercentage: v.TrafficPercentage,
			Config:            v.Config,
			Position:          pos,
		}

		var configJSON sql.NullString
		if len(v.Config) > 0 {
			b, err := json.Marshal(v.Config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal variant config: %w", err)
			}
			configJSON = sql.NullString{String: string(b), Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO variants (id, experiment_id, name, is_control, traffic_percentage, config, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			variant.ID, variant.ExperimentID, variant.Name, boolToInt(variant.IsControl),
			variant.TrafficPercentage, configJSON, variant.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert variant: %w", err)
		}

		exp.Variants = append(exp.Variants, variant)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return exp, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, tenantID, experimentID string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, status, type, target_metric, traffic_allocation,
		        min_sample_size, confidence_threshold, winner_variant_id, start_date, end_date,
		        created_at, updated_at
		 FROM experiments WHERE id = ? AND tenant_id = ?`,
		experimentID, tenantID,
	)

	exp, err := scanExperiment(row)
	if err != nil {
		return nil, err
	}

	variants, err := s.ListVariants(ctx, tenantID, experimentID)
	if err != nil {
		return nil, err
	}
	exp.Variants = variants

	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, tenantID string) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, status, type, target_metric, traffic_allocation,
		        min_sample_size, confidence_threshold, winner_variant_id, start_date, end_date,
		        created_at, updated_at
		 FROM experiments WHERE tenant_id = ? ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}

	return experiments, rows.Err()
}

func (s *SQLiteStore) UpdateExperimentStatus(ctx context.Context, tenantID, experimentID string, status ExperimentStatus, winnerVariantID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	var startDate sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT status, start_date FROM experiments WHERE id = ? AND tenant_id = ?`,
		experimentID, tenantID,
	).Scan(&current, &startDate)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get experiment: %w", err)
	}

	if !CanTransition(ExperimentStatus(current), status) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrValidation, current, status)
	}

	now := time.Now().Unix()
	query := `UPDATE experiments SET status = ?, updated_at = ?`
	args := []any{string(status), now}

	// start_date is set only on the first transition into running.
	if status == StatusRunning && !startDate.Valid {
		query += `, start_date = ?`
		args = append(args, now)
	}
	if status == StatusCompleted {
		query += `, end_date = ?`
		args = append(args, now)
	}
	if winnerVariantID != nil {
		query += `, winner_variant_id = ?`
		args = append(args, *winnerVariantID)
	}

	query += ` WHERE id = ? AND tenant_id = ?`
	args = append(args, experimentID, tenantID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update experiment status: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListVariants(ctx context.Context, tenantID, experimentID string) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.experiment_id, v.name, v.is_control, v.traffic_percentage, v.config, v.position
		 FROM variants v
		 JOIN experiments e ON e.id = v.experiment_id
		 WHERE v.experiment_id = ? AND e.tenant_id = ?
		 ORDER BY v.position`,
		experimentID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		var isControl int
		var configJSON sql.NullString

		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Name, &isControl, &v.TrafficPercentage, &configJSON, &v.Position); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}

		v.IsControl = isControl != 0
		if configJSON.Valid && configJSON.String != "" {
			if err := json.Unmarshal([]byte(configJSON.String), &v.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal variant config: %w", err)
			}
		}

		variants = append(variants, v)
	}

	return variants, rows.Err()
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, tenantID, experimentID, visitorID string) (*Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, experiment_id, visitor_id, variant_id, assigned_at, converted, conversion_value, converted_at
		 FROM assignments WHERE tenant_id = ? AND experiment_id = ? AND visitor_id = ?`,
		tenantID, experimentID, visitorID,
	)
	return scanAssignment(row)
}

func (s *SQLiteStore) InsertAssignmentIfAbsent(ctx context.Context, tenantID, experimentID, visitorID, variantID string) (*Assignment, bool, error) {
	now := time.Now().Unix()

	// INSERT OR IGNORE against the unique index makes concurrent first
	// exposures converge on a single row; the re-read returns whichever
	// write won.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (tenant_id, experiment_id, visitor_id, variant_id, assigned_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tenantID, experimentID, visitorID, variantID, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert assignment: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	assignment, err := s.GetAssignment(ctx, tenantID, experimentID, visitorID)
	if err != nil {
		return nil, false, err
	}

	return assignment, inserted == 1, nil
}

func (s *SQLiteStore) UpdateAssignmentConversion(ctx context.Context, tenantID, experimentID, visitorID string, value *float64) (bool, error) {
	now := time.Now().Unix()

	var res sql.Result
	var err error

	if value != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE assignments SET converted = 1, conversion_value = ?, converted_at = COALESCE(converted_at, ?)
			 WHERE tenant_id = ? AND experiment_id = ? AND visitor_id = ?`,
			*value, now, tenantID, experimentID, visitorID,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE assignments SET converted = 1, converted_at = COALESCE(converted_at, ?)
			 WHERE tenant_id = ? AND experiment_id = ? AND visitor_id = ?`,
			now, tenantID, experimentID, visitorID,
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update conversion: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, tenantID string, result Result) error {
	if err := s.checkExperimentTenant(ctx, tenantID, result.ExperimentID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (experiment_id, variant_id, date, visitors, conversions, revenue, bounce_rate, avg_time_on_page)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(experiment_id, variant_id, date) DO UPDATE SET
		   visitors = excluded.visitors,
		   conversions = excluded.conversions,
		   revenue = excluded.revenue,
		   bounce_rate = excluded.bounce_rate,
		   avg_time_on_page = excluded.avg_time_on_page`,
		result.ExperimentID, result.VariantID, result.Date.Format("2006-01-02"),
		result.Visitors, result.Conversions, result.Revenue,
		nullableFloat(result.BounceRate), nullableFloat(result.AvgTimeOnPage),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert result: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, tenantID, experimentID string, from, to *time.Time) ([]Result, error) {
	if err := s.checkExperimentTenant(ctx, tenantID, experimentID); err != nil {
		return nil, err
	}

	query := `SELECT id, experiment_id, variant_id, date, visitors, conversions, revenue, bounce_rate, avg_time_on_page
	          FROM results WHERE experiment_id = ?`
	args := []any{experimentID}

	if from != nil {
		query += ` AND date >= ?`
		args = append(args, from.Format("2006-01-02"))
	}
	if to != nil {
		query += ` AND date <= ?`
		args = append(args, to.Format("2006-01-02"))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var date string
		var bounceRate, avgTime sql.NullFloat64

		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.VariantID, &date, &r.Visitors, &r.Conversions, &r.Revenue, &bounceRate, &avgTime); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		r.Date, err = time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse result date: %w", err)
		}
		if bounceRate.Valid {
			r.BounceRate = &bounceRate.Float64
		}
		if avgTime.Valid {
			r.AvgTimeOnPage = &avgTime.Float64
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) checkExperimentTenant(ctx context.Context, tenantID, experimentID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM experiments WHERE id = ? AND tenant_id = ?`,
		experimentID, tenantID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check experiment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var status, expType string
	var winner sql.NullString
	var startDate, endDate sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&exp.ID, &exp.TenantID, &exp.Name, &status, &expType, &exp.TargetMetric,
		&exp.TrafficAllocation, &exp.MinSampleSize, &exp.ConfidenceThreshold,
		&winner, &startDate, &endDate, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}

	exp.Status = ExperimentStatus(status)
	exp.Type = ExperimentType(expType)
	if winner.Valid {
		exp.WinnerVariantID = &winner.String
	}
	if startDate.Valid {
		t := time.Unix(startDate.Int64, 0)
		exp.StartDate = &t
	}
	if endDate.Valid {
		t := time.Unix(endDate.Int64, 0)
		exp.EndDate = &t
	}
	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)

	return &exp, nil
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	var a Assignment
	var assignedAt int64
	var converted int
	var value sql.NullFloat64
	var convertedAt sql.NullInt64

	err := row.Scan(&a.ID, &a.TenantID, &a.ExperimentID, &a.VisitorID, &a.VariantID,
		&assignedAt, &converted, &value, &convertedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	a.Converted = converted != 0
	if value.Valid {
		a.ConversionValue = &value.Float64
	}
	if convertedAt.Valid {
		t := time.Unix(convertedAt.Int64, 0)
		a.ConvertedAt = &t
	}

	return &a, nil
}

// SortVariantsStable orders variants for the assignment walk: control
// first, then creation order.
func SortVariantsStable(variants []Variant) {
	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].IsControl != variants[j].IsControl {
			return variants[i].IsControl
		}
		return variants[i].Position < variants[j].Position
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
