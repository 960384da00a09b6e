package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/Fullstackdeveloper4545/aws/model"
)

// ErrBundleNotFound is returned when no active bundle matches the lookup.
var ErrBundleNotFound = errors.New("certificate bundle not found or inactive")

const schema = `
CREATE TABLE IF NOT EXISTS waybills (
	id TEXT PRIMARY KEY,
	equipment_initial TEXT NOT NULL,
	equipment_number TEXT NOT NULL,
	payload TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_waybills_equipment ON waybills (equipment_initial, equipment_number);

CREATE TABLE IF NOT EXISTS certificate_bundles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	client_pfx BLOB NOT NULL,
	pfx_password TEXT NOT NULL DEFAULT '',
	server_cert BLOB,
	cars_url TEXT NOT NULL DEFAULT '',
	waybill_url TEXT NOT NULL DEFAULT '',
	skip_verify BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL
);
`

type waybillRow struct {
	bun.BaseModel `bun:"table:waybills"`

	ID               string    `bun:"id,pk"`
	EquipmentInitial string    `bun:"equipment_initial"`
	EquipmentNumber  string    `bun:"equipment_number"`
	Payload          string    `bun:"payload"`
	FetchedAt        time.Time `bun:"fetched_at"`
}

type bundleRow struct {
	bun.BaseModel `bun:"table:certificate_bundles"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Name        string    `bun:"name"`
	ClientPFX   []byte    `bun:"client_pfx"`
	PFXPassword string    `bun:"pfx_password"`
	ServerCert  []byte    `bun:"server_cert"`
	CarsURL     string    `bun:"cars_url"`
	WaybillURL  string    `bun:"waybill_url"`
	SkipVerify  bool      `bun:"skip_verify"`
	IsActive    bool      `bun:"is_active"`
	CreatedAt   time.Time `bun:"created_at"`
}

// Store is the relational persistence layer for waybill records and
// certificate bundles, backed by SQLite through Bun.
type Store struct {
	bun *bun.DB
}

// NewStore opens (or creates) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite tolerates a single writer; keep the pool at one connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{bun: bun.NewDB(sqlDB, sqlitedialect.New())}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.bun.Close() }

// SaveWaybill persists one fetched detail record and returns its id.
func (s *Store) SaveWaybill(ctx context.Context, pair model.EquipmentPair, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode waybill payload: %w", err)
	}

	row := &waybillRow{
		ID:               uuid.New().String(),
		EquipmentInitial: pair.Initial,
		EquipmentNumber:  pair.Number,
		Payload:          string(body),
		FetchedAt:        time.Now(),
	}
	if _, err := s.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save waybill: %w", err)
	}
	return row.ID, nil
}

// CountWaybills returns the total number of persisted records.
func (s *Store) CountWaybills(ctx context.Context) (int, error) {
	count, err := s.bun.NewSelect().Model((*waybillRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count waybills: %w", err)
	}
	return count, nil
}

// ListWaybills returns the most recent records, newest first, without
// their payloads.
func (s *Store) ListWaybills(ctx context.Context, limit int) ([]model.WaybillRecord, error) {
	var rows []waybillRow
	q := s.bun.NewSelect().Model(&rows).
		Column("id", "equipment_initial", "equipment_number", "fetched_at").
		Order("fetched_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list waybills: %w", err)
	}

	records := make([]model.WaybillRecord, len(rows))
	for i, row := range rows {
		records[i] = model.WaybillRecord{
			ID: row.ID,
			Equipment: model.EquipmentPair{
				Initial: row.EquipmentInitial,
				Number:  row.EquipmentNumber,
			},
			FetchedAt: row.FetchedAt,
		}
	}
	return records, nil
}

// GetActiveBundle returns the active bundle with the given id.
func (s *Store) GetActiveBundle(ctx context.Context, id int64) (*model.CertificateBundle, error) {
	var row bundleRow
	err := s.bun.NewSelect().Model(&row).
		Where("id = ?", id).
		Where("is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("failed to load bundle: %w", err)
	}
	return bundleRowToModel(row), nil
}

// GetBundleByName returns the bundle with the given name, active or not.
func (s *Store) GetBundleByName(ctx context.Context, name string) (*model.CertificateBundle, error) {
	var row bundleRow
	err := s.bun.NewSelect().Model(&row).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("failed to load bundle: %w", err)
	}
	return bundleRowToModel(row), nil
}

// UpsertBundle inserts the bundle or refreshes an existing one by name.
// Used to seed credentials from config at startup. The stored id is
// written back into the argument.
func (s *Store) UpsertBundle(ctx context.Context, b *model.CertificateBundle) error {
	row := &bundleRow{
		Name:        b.Name,
		ClientPFX:   b.ClientPFX,
		PFXPassword: b.PFXPassword,
		ServerCert:  b.ServerCert,
		CarsURL:     b.CarsURL,
		WaybillURL:  b.WaybillURL,
		SkipVerify:  b.SkipVerify,
		IsActive:    b.IsActive,
		CreatedAt:   time.Now(),
	}

	_, err := s.bun.NewInsert().Model(row).
		On("CONFLICT (name) DO UPDATE").
		Set("client_pfx = EXCLUDED.client_pfx").
		Set("pfx_password = EXCLUDED.pfx_password").
		Set("server_cert = EXCLUDED.server_cert").
		Set("cars_url = EXCLUDED.cars_url").
		Set("waybill_url = EXCLUDED.waybill_url").
		Set("skip_verify = EXCLUDED.skip_verify").
		Set("is_active = EXCLUDED.is_active").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert bundle: %w", err)
	}

	stored, err := s.GetBundleByName(ctx, b.Name)
	if err != nil {
		return err
	}
	b.ID = stored.ID
	b.CreatedAt = stored.CreatedAt
	return nil
}

// UpdateBundleEndpoints persists the endpoint and insecure-mode overrides
// supplied when a job starts, matching how the dashboard stores them.
func (s *Store) UpdateBundleEndpoints(ctx context.Context, id int64, carsURL, waybillURL string, skipVerify bool) error {
	_, err := s.bun.NewUpdate().Model((*bundleRow)(nil)).
		Set("cars_url = ?", carsURL).
		Set("waybill_url = ?", waybillURL).
		Set("skip_verify = ?", skipVerify).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update bundle endpoints: %w", err)
	}
	return nil
}

func bundleRowToModel(row bundleRow) *model.CertificateBundle {
	return &model.CertificateBundle{
		ID:          row.ID,
		Name:        row.Name,
		ClientPFX:   row.ClientPFX,
		PFXPassword: row.PFXPassword,
		ServerCert:  row.ServerCert,
		CarsURL:     row.CarsURL,
		WaybillURL:  row.WaybillURL,
		SkipVerify:  row.SkipVerify,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
	}
}
