package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tablebook/internal/models"
)

const tableColumns = `id, restaurant_id, name, capacity, type, status, created_at, updated_at`

func scanTable(row rowScanner) (*models.Table, error) {
	var (
		t            models.Table
		typ, status  string
		created, upd time.Time
	)
	if err := row.Scan(&t.ID, &t.RestaurantID, &t.Name, &t.Capacity, &typ, &status, &created, &upd); err != nil {
		return nil, err
	}
	t.Type = models.TableType(typ)
	t.Status = models.TableStatus(status)
	t.CreatedAt = created.UTC()
	t.UpdatedAt = upd.UTC()
	return &t, nil
}

func (db *DB) GetTable(ctx context.Context, id string) (*models.Table, error) {
	row := db.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM restaurant_tables WHERE id = ?`, id)
	t, err := scanTable(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrTableNotFound
		}
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	return t, nil
}

func (db *DB) ListTables(ctx context.Context, restaurantID string) ([]models.Table, error) {
	return db.queryTables(ctx,
		`SELECT `+tableColumns+` FROM restaurant_tables WHERE restaurant_id = ? ORDER BY restaurant_id, id`,
		restaurantID)
}

func (db *DB) ListAllTables(ctx context.Context) ([]models.Table, error) {
	return db.queryTables(ctx, `SELECT `+tableColumns+` FROM restaurant_tables ORDER BY restaurant_id, id`)
}

func (db *DB) queryTables(ctx context.Context, query string, args ...any) ([]models.Table, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpsertTable inserts the table or updates it in place, keeping its creation time.
func (db *DB) UpsertTable(ctx context.Context, t *models.Table) error {
	now := db.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO restaurant_tables (`+tableColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			restaurant_id = excluded.restaurant_id,
			name = excluded.name,
			capacity = excluded.capacity,
			type = excluded.type,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		t.ID, t.RestaurantID, t.Name, t.Capacity, string(t.Type), string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert table %s: %w", t.ID, err)
	}
	return nil
}

func (db *DB) UpdateTableStatus(ctx context.Context, id string, status models.TableStatus) (*models.Table, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE restaurant_tables SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), db.now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update table %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, models.ErrTableNotFound
	}
	return db.GetTable(ctx, id)
}
