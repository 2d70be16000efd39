package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/signalsfoundry/airline-simulator/model"
)

// PostgresStore reads and writes simulator records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, verifies the connection and makes sure the
// tables exist.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS routes (
		id VARCHAR(64) PRIMARY KEY,
		departure_airport VARCHAR(8) NOT NULL,
		arrival_airport VARCHAR(8) NOT NULL,
		distance_nm DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS aircraft (
		id VARCHAR(64) PRIMARY KEY,
		type_id VARCHAR(64) NOT NULL,
		age_years DOUBLE PRECISION NOT NULL DEFAULT 0,
		purchase_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		financing VARCHAR(16) NOT NULL DEFAULT 'cash',
		monthly_payment DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS route_assignments (
		aircraft_id VARCHAR(64) NOT NULL,
		route_id VARCHAR(64) NOT NULL,
		departure_airport VARCHAR(8) NOT NULL,
		arrival_airport VARCHAR(8) NOT NULL,
		distance_nm DOUBLE PRECISION NOT NULL,
		frequency_per_week INTEGER NOT NULL,
		fare_economy DOUBLE PRECISION NOT NULL,
		fare_business DOUBLE PRECISION NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		last_departure TIMESTAMP WITH TIME ZONE,
		next_eligible TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (aircraft_id, route_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS route_assignments_one_active
		ON route_assignments (aircraft_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS finances (
		id INTEGER PRIMARY KEY DEFAULT 1,
		cash_balance DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) LoadRoutes(ctx context.Context) ([]model.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, departure_airport, arrival_airport, distance_nm FROM routes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var out []model.Route
	for rows.Next() {
		var r model.Route
		if err := rows.Scan(&r.ID, &r.DepartureAirport, &r.ArrivalAirport, &r.DistanceNM); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadAircraft(ctx context.Context) ([]model.Aircraft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type_id, age_years, purchase_price, financing, monthly_payment FROM aircraft ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query aircraft: %w", err)
	}
	defer rows.Close()

	var out []model.Aircraft
	for rows.Next() {
		var (
			a         model.Aircraft
			financing string
		)
		if err := rows.Scan(&a.ID, &a.TypeID, &a.AgeYears, &a.PurchasePrice, &financing, &a.MonthlyPayment); err != nil {
			return nil, fmt.Errorf("scan aircraft: %w", err)
		}
		a.Financing = model.FinancingType(financing)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadAssignments(ctx context.Context) ([]model.RouteAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aircraft_id, route_id, departure_airport, arrival_airport, distance_nm,
		       frequency_per_week, fare_economy, fare_business, active, last_departure, next_eligible
		FROM route_assignments ORDER BY aircraft_id, route_id`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []model.RouteAssignment
	for rows.Next() {
		var (
			a          model.RouteAssignment
			last, next sql.NullTime
		)
		if err := rows.Scan(&a.AircraftID, &a.RouteID, &a.DepartureAirport, &a.ArrivalAirport, &a.DistanceNM,
			&a.FrequencyPerWeek, &a.Fares.Economy, &a.Fares.Business, &a.Active, &last, &next); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if last.Valid {
			a.LastDeparture = last.Time.UTC()
		}
		if next.Valid {
			a.NextEligible = next.Time.UTC()
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadFinances(ctx context.Context) (model.Finances, error) {
	var f model.Finances
	err := s.db.QueryRowContext(ctx, `SELECT cash_balance FROM finances WHERE id = 1`).Scan(&f.CashBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Finances{}, nil
	}
	if err != nil {
		return model.Finances{}, fmt.Errorf("query finances: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) SaveAssignment(ctx context.Context, a model.RouteAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_assignments (aircraft_id, route_id, departure_airport, arrival_airport, distance_nm,
			frequency_per_week, fare_economy, fare_business, active, last_departure, next_eligible, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (aircraft_id, route_id) DO UPDATE SET
			departure_airport = EXCLUDED.departure_airport,
			arrival_airport = EXCLUDED.arrival_airport,
			distance_nm = EXCLUDED.distance_nm,
			frequency_per_week = EXCLUDED.frequency_per_week,
			fare_economy = EXCLUDED.fare_economy,
			fare_business = EXCLUDED.fare_business,
			active = EXCLUDED.active,
			last_departure = EXCLUDED.last_departure,
			next_eligible = EXCLUDED.next_eligible,
			updated_at = NOW()`,
		a.AircraftID, a.RouteID, a.DepartureAirport, a.ArrivalAirport, a.DistanceNM,
		a.FrequencyPerWeek, a.Fares.Economy, a.Fares.Business, a.Active,
		nullTime(a.LastDeparture), nullTime(a.NextEligible))
	if err != nil {
		return fmt.Errorf("save assignment %s/%s: %w", a.AircraftID, a.RouteID, err)
	}
	return nil
}

func (s *PostgresStore) SetAssignmentActive(ctx context.Context, aircraftID, routeID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE route_assignments SET active = $3, updated_at = NOW() WHERE aircraft_id = $1 AND route_id = $2`,
		aircraftID, routeID, active)
	return checkUpdated(res, err, aircraftID, routeID)
}

func (s *PostgresStore) SetNextDeparture(ctx context.Context, aircraftID, routeID string, last, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE route_assignments SET last_departure = $3, next_eligible = $4, updated_at = NOW()
		 WHERE aircraft_id = $1 AND route_id = $2`,
		aircraftID, routeID, nullTime(last), nullTime(next))
	return checkUpdated(res, err, aircraftID, routeID)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func checkUpdated(res sql.Result, err error, aircraftID, routeID string) error {
	if err != nil {
		return fmt.Errorf("update assignment %s/%s: %w", aircraftID, routeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: assignment %s/%s", ErrNotFound, aircraftID, routeID)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
