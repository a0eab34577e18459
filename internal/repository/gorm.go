package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tablebook/internal/models"
)

// PoolConfig sizes the SQL connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type bookingRow struct {
	ID              string `gorm:"primaryKey;size:64"`
	RestaurantID    string `gorm:"size:64;not null;index:idx_bookings_restaurant_date,priority:1"`
	TableID         string `gorm:"size:64;not null"`
	ClientID        string `gorm:"size:128;not null"`
	Date            string `gorm:"size:10;not null;index:idx_bookings_restaurant_date,priority:2"`
	TimeSlot        string `gorm:"size:16;not null"`
	Guests          int    `gorm:"not null"`
	Status          string `gorm:"size:16;not null;index"`
	PaymentStatus   string `gorm:"size:16;not null"`
	TotalPrice      int64  `gorm:"not null"`
	SpecialRequests string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64 `gorm:"not null"`
}

func (bookingRow) TableName() string { return "bookings" }

type tableRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	RestaurantID string `gorm:"size:64;not null;index"`
	Name         string `gorm:"size:128;not null"`
	Capacity     int    `gorm:"not null"`
	Type         string `gorm:"size:16;not null"`
	Status       string `gorm:"size:16;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (tableRow) TableName() string { return "restaurant_tables" }

const activeSlotIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_slot
	ON bookings (table_id, date, time_slot)
	WHERE status IN ('pending', 'confirmed')`

var _ Store = (*GormStore)(nil)

// GormStore implements Store on top of gorm.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenPostgres initializes the database connection.
func OpenPostgres(dsn string, pool PoolConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

// NewGormStore creates a new GORM-backed store. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Migrate creates the schema and the active-slot uniqueness index. It is safe to run
// on every start: existing tables only get their missing columns added.
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	m := db.Migrator()
	for _, model := range []any{&tableRow{}, &bookingRow{}} {
		if !m.HasTable(model) {
			if err := m.CreateTable(model); err != nil {
				return fmt.Errorf("create table: %w", err)
			}
			continue
		}
		// AutoMigrate on sqlite re-parses the stored DDL and rejects the partial index.
		if err := addMissingColumns(db, model); err != nil {
			return err
		}
	}
	if err := db.Exec(activeSlotIndex).Error; err != nil {
		return fmt.Errorf("create active slot index: %w", err)
	}
	return nil
}

func addMissingColumns(db *gorm.DB, model any) error {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Errorf("parse %T: %w", model, err)
	}
	m := db.Migrator()
	for _, field := range stmt.Schema.Fields {
		if field.DBName == "" || m.HasColumn(model, field.DBName) {
			continue
		}
		if err := m.AddColumn(model, field.DBName); err != nil {
			return fmt.Errorf("add column %s.%s: %w", stmt.Schema.Table, field.DBName, err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// sqlite driver does not translate constraint errors
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (s *GormStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	row := toBookingRow(b)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *GormStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var row bookingRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return row.toModel()
}

func (s *GormStore) UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	res := s.db.WithContext(ctx).
		Model(&bookingRow{}).
		Where("id = ? AND version = ?", b.ID, expectedVersion).
		Updates(map[string]any{
			"status":           string(b.Status),
			"payment_status":   string(b.PaymentStatus),
			"guests":           b.Guests,
			"total_price":      b.TotalPrice,
			"special_requests": b.SpecialRequests,
			"updated_at":       b.UpdatedAt,
			"version":          expectedVersion + 1,
		})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return models.ErrConflict
		}
		return fmt.Errorf("update booking %s: %w", b.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&bookingRow{}).Where("id = ?", b.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("update booking %s: %w", b.ID, err)
		}
		if n == 0 {
			return models.ErrBookingNotFound
		}
		return models.ErrConcurrentModification
	}
	b.Version = expectedVersion + 1
	return nil
}

func (s *GormStore) ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error) {
	q := s.db.WithContext(ctx).Model(&bookingRow{})
	if filter.RestaurantID != "" {
		q = q.Where("restaurant_id = ?", filter.RestaurantID)
	}
	if filter.TableID != "" {
		q = q.Where("table_id = ?", filter.TableID)
	}
	if filter.ClientID != "" {
		q = q.Where("client_id = ?", filter.ClientID)
	}
	if !filter.From.IsZero() {
		q = q.Where("date >= ?", filter.From.String())
	}
	if !filter.To.IsZero() {
		q = q.Where("date <= ?", filter.To.String())
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []bookingRow
	if err := q.Order("date, time_slot, table_id, created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	out := make([]models.Booking, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s *GormStore) ListActiveBookings(ctx context.Context) ([]models.Booking, error) {
	return s.ListBookings(ctx, BookingFilter{Statuses: models.ActiveStatuses})
}

func (s *GormStore) GetTable(ctx context.Context, id string) (*models.Table, error) {
	var row tableRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrTableNotFound
		}
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	t := row.toModel()
	return &t, nil
}

func (s *GormStore) ListTables(ctx context.Context, restaurantID string) ([]models.Table, error) {
	return s.listTables(ctx, s.db.WithContext(ctx).Where("restaurant_id = ?", restaurantID))
}

func (s *GormStore) ListAllTables(ctx context.Context) ([]models.Table, error) {
	return s.listTables(ctx, s.db.WithContext(ctx))
}

func (s *GormStore) listTables(_ context.Context, q *gorm.DB) ([]models.Table, error) {
	var rows []tableRow
	if err := q.Order("restaurant_id, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make([]models.Table, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *GormStore) UpsertTable(ctx context.Context, t *models.Table) error {
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	row := tableRow{
		ID:           t.ID,
		RestaurantID: t.RestaurantID,
		Name:         t.Name,
		Capacity:     t.Capacity,
		Type:         string(t.Type),
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"restaurant_id", "name", "capacity", "type", "status", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert table %s: %w", t.ID, err)
	}
	return nil
}

func (s *GormStore) UpdateTableStatus(ctx context.Context, id string, status models.TableStatus) (*models.Table, error) {
	res := s.db.WithContext(ctx).
		Model(&tableRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": s.now().UTC()})
	if res.Error != nil {
		return nil, fmt.Errorf("update table %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.ErrTableNotFound
	}
	return s.GetTable(ctx, id)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toBookingRow(b *models.Booking) bookingRow {
	return bookingRow{
		ID:              b.ID,
		RestaurantID:    b.RestaurantID,
		TableID:         b.TableID,
		ClientID:        b.ClientID,
		Date:            b.Date.String(),
		TimeSlot:        string(b.TimeSlot),
		Guests:          b.Guests,
		Status:          string(b.Status),
		PaymentStatus:   string(b.PaymentStatus),
		TotalPrice:      b.TotalPrice,
		SpecialRequests: b.SpecialRequests,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		Version:         b.Version,
	}
}

func (r *bookingRow) toModel() (*models.Booking, error) {
	date, err := models.ParseDate(r.Date)
	if err != nil {
		return nil, fmt.Errorf("booking %s has corrupt date %q: %w", r.ID, r.Date, err)
	}
	return &models.Booking{
		ID:              r.ID,
		RestaurantID:    r.RestaurantID,
		TableID:         r.TableID,
		ClientID:        r.ClientID,
		Date:            date,
		TimeSlot:        models.TimeSlot(r.TimeSlot),
		Guests:          r.Guests,
		Status:          models.BookingStatus(r.Status),
		PaymentStatus:   models.PaymentStatus(r.PaymentStatus),
		TotalPrice:      r.TotalPrice,
		SpecialRequests: r.SpecialRequests,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}, nil
}

func (r *tableRow) toModel() models.Table {
	return models.Table{
		ID:           r.ID,
		RestaurantID: r.RestaurantID,
		Name:         r.Name,
		Capacity:     r.Capacity,
		Type:         models.TableType(r.Type),
		Status:       models.TableStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
