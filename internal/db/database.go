package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleet-trajectory-analytics/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a vehicle does not exist
var ErrNotFound = errors.New("not found")

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		license_plate TEXT NOT NULL DEFAULT '',
		vehicle_type TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		speed_kph REAL NOT NULL,
		heading REAL,
		ignition_on INTEGER,
		odometer_km REAL,
		engine_rpm REAL,
		is_live INTEGER,
		FOREIGN KEY (vehicle_id) REFERENCES vehicles(id)
	);

	CREATE INDEX IF NOT EXISTS idx_positions_vehicle_timestamp ON positions(vehicle_id, timestamp_ms);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// InsertVehicle adds a new vehicle
func (db *Database) InsertVehicle(ctx context.Context, v *models.Vehicle) error {
	query := `INSERT INTO vehicles (id, name, license_plate, vehicle_type) VALUES (?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, v.ID, v.Name, v.LicensePlate, v.VehicleType)
	return err
}

// GetVehicle retrieves a vehicle by ID
func (db *Database) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `SELECT id, name, license_plate, vehicle_type, created_at FROM vehicles WHERE id = ?`

	var v models.Vehicle
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.Name, &v.LicensePlate, &v.VehicleType, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVehicles returns all vehicles ordered by id
func (db *Database) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	query := `SELECT id, name, license_plate, vehicle_type, created_at FROM vehicles ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := []models.Vehicle{}
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.LicensePlate, &v.VehicleType, &v.CreatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// VehicleIDs returns the id of every known vehicle
func (db *Database) VehicleIDs(ctx context.Context) ([]string, error) {
	vehicles, err := db.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(vehicles))
	for i, v := range vehicles {
		ids[i] = v.ID
	}
	return ids, nil
}

// InsertSamples stores position samples in a single transaction. Unknown
// vehicles are registered on the fly. Samples with a zero timestamp are
// skipped and not counted.
func (db *Database) InsertSamples(ctx context.Context, samples []models.PositionSample) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	vehicleStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO vehicles (id) VALUES (?)`)
	if err != nil {
		return 0, err
	}
	defer vehicleStmt.Close()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions
		(vehicle_id, timestamp_ms, latitude, longitude, speed_kph, heading,
		 ignition_on, odometer_km, engine_rpm, is_live)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	seen := make(map[string]struct{})
	var count int64
	for _, s := range samples {
		if s.VehicleID == "" || s.Timestamp.IsZero() {
			continue
		}
		if _, ok := seen[s.VehicleID]; !ok {
			if _, err := vehicleStmt.ExecContext(ctx, s.VehicleID); err != nil {
				return 0, err
			}
			seen[s.VehicleID] = struct{}{}
		}

		_, err := stmt.ExecContext(ctx,
			s.VehicleID, s.Timestamp.UnixMilli(), s.Latitude, s.Longitude, s.SpeedKph,
			nullFloat(s.HeadingDegrees), nullBool(s.IgnitionOn), nullFloat(s.OdometerKm),
			nullFloat(s.RPM), nullBool(s.IsLiveTelemetry),
		)
		if err != nil {
			return 0, err
		}
		count++
	}

	return count, tx.Commit()
}

// History returns a vehicle's raw samples inside the inclusive range in
// ascending time order. Zero bounds are open. When MaxPoints is positive only
// the most recent MaxPoints samples are returned.
func (db *Database) History(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error) {
	conditions := []string{"vehicle_id = ?"}
	args := []interface{}{q.VehicleID}

	if !q.From.IsZero() {
		conditions = append(conditions, "timestamp_ms >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		conditions = append(conditions, "timestamp_ms <= ?")
		args = append(args, q.To.UnixMilli())
	}

	query := `
		SELECT vehicle_id, timestamp_ms, latitude, longitude, speed_kph, heading,
		       ignition_on, odometer_km, engine_rpm, is_live
		FROM positions
		WHERE ` + strings.Join(conditions, " AND ")

	if q.MaxPoints > 0 {
		query += " ORDER BY timestamp_ms DESC, id DESC LIMIT ?"
		args = append(args, q.MaxPoints)
	} else {
		query += " ORDER BY timestamp_ms ASC, id ASC"
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []models.PositionSample{}
	for rows.Next() {
		var (
			s                 models.PositionSample
			ms                int64
			heading, odo, rpm sql.NullFloat64
			ignition, live    sql.NullBool
		)
		if err := rows.Scan(&s.VehicleID, &ms, &s.Latitude, &s.Longitude, &s.SpeedKph,
			&heading, &ignition, &odo, &rpm, &live); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(ms).UTC()
		s.HeadingDegrees = floatPtr(heading)
		s.OdometerKm = floatPtr(odo)
		s.RPM = floatPtr(rpm)
		s.IgnitionOn = boolPtr(ignition)
		s.IsLiveTelemetry = boolPtr(live)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if q.MaxPoints > 0 {
		for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
			samples[i], samples[j] = samples[j], samples[i]
		}
	}
	return samples, nil
}

// GetStats returns database statistics
func (db *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalSamples, totalVehicles int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM positions").Scan(&totalSamples); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vehicles").Scan(&totalVehicles); err != nil {
		return nil, err
	}
	stats["total_position_samples"] = totalSamples
	stats["total_vehicles"] = totalVehicles

	var first, last sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, "SELECT MIN(timestamp_ms), MAX(timestamp_ms) FROM positions").Scan(&first, &last); err != nil {
		return nil, err
	}
	if first.Valid {
		stats["first_sample"] = time.UnixMilli(first.Int64).UTC()
		stats["last_sample"] = time.UnixMilli(last.Int64).UTC()
	}

	return stats, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}
