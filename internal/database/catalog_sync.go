package database

import (
	"context"
	"fmt"
	"strings"

	"fotoagenda/internal/config"
	"fotoagenda/internal/models"
)

// SyncCatalog applies catalog.yaml to the database in one transaction.
// Services, packages and exceptions are upserted by their natural keys, weekly
// ranges are rewritten, and rows that disappeared from the catalog are deactivated.
func (db *DB) SyncCatalog(ctx context.Context, cfg *config.CatalogConfig) error {
	if cfg == nil {
		return fmt.Errorf("catalog config is nil")
	}

	err := db.InTx(ctx, func(q *Queries) error {
		seen := make(map[int64]struct{})
		for i := range cfg.Services {
			sc := &cfg.Services[i]
			id, err := q.upsertService(ctx, sc)
			if err != nil {
				return fmt.Errorf("sync service %s: %w", sc.Code, err)
			}
			seen[id] = struct{}{}

			if err := q.replaceWeekly(ctx, id, sc.Weekly); err != nil {
				return fmt.Errorf("sync service %s weekly ranges: %w", sc.Code, err)
			}
			if err := q.syncPackages(ctx, id, sc.Packages); err != nil {
				return fmt.Errorf("sync service %s packages: %w", sc.Code, err)
			}
			if err := q.syncExceptions(ctx, id, sc.Exceptions, cfg.Holidays); err != nil {
				return fmt.Errorf("sync service %s exceptions: %w", sc.Code, err)
			}
		}
		return q.deactivateServices(ctx, seen)
	})
	if err != nil {
		return err
	}

	db.logger.Info().Int("services", len(cfg.Services)).Int("holidays", len(cfg.Holidays)).Msg("Catalog synced")
	return nil
}

func (q *Queries) upsertService(ctx context.Context, sc *config.ServiceConfig) (int64, error) {
	now := q.timestamp()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO services (code, name, category, description, quote_url, is_active, availability_mode,
			available_from, available_until, duration_minutes, interval_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			description = excluded.description,
			quote_url = excluded.quote_url,
			is_active = excluded.is_active,
			availability_mode = excluded.availability_mode,
			available_from = excluded.available_from,
			available_until = excluded.available_until,
			duration_minutes = excluded.duration_minutes,
			interval_minutes = excluded.interval_minutes,
			updated_at = excluded.updated_at`,
		sc.Code, sc.Name, sc.Category, sc.Description, sc.QuoteURL, sc.IsActive(), sc.AvailabilityMode,
		emptyAsNull(sc.AvailableFrom), emptyAsNull(sc.AvailableUntil), sc.DurationMinutes, sc.IntervalMinutes, now, now,
	)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.q.QueryRowContext(ctx, `SELECT id FROM services WHERE code = ?`, sc.Code).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (q *Queries) replaceWeekly(ctx context.Context, serviceID int64, weekly []config.WeeklyConfig) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM weekly_ranges WHERE service_id = ?`, serviceID); err != nil {
		return err
	}

	order := make(map[int]int)
	for _, w := range weekly {
		for _, day := range w.Weekdays {
			for _, r := range w.Ranges {
				_, err := q.q.ExecContext(ctx, `
					INSERT INTO weekly_ranges (service_id, weekday, label, start_time, end_time, order_index)
					VALUES (?, ?, ?, ?, ?, ?)`,
					serviceID, day, r.Label, r.Start, r.End, order[day],
				)
				if err != nil {
					return err
				}
				order[day]++
			}
		}
	}
	return nil
}

func (q *Queries) syncPackages(ctx context.Context, serviceID int64, pkgs []config.PackageConfig) error {
	now := q.timestamp()
	names := make([]any, 0, len(pkgs))
	for j, p := range pkgs {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO packages (service_id, name, description, price, deposit, duration_minutes, available_from,
				available_until, max_bookings, is_default, is_active, order_index, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(service_id, name) DO UPDATE SET
				description = excluded.description,
				price = excluded.price,
				deposit = excluded.deposit,
				duration_minutes = excluded.duration_minutes,
				available_from = excluded.available_from,
				available_until = excluded.available_until,
				max_bookings = excluded.max_bookings,
				is_default = excluded.is_default,
				is_active = excluded.is_active,
				order_index = excluded.order_index,
				updated_at = excluded.updated_at`,
			serviceID, p.Name, p.Description, config.Amount(p.Price), config.Amount(p.Deposit), nullInt(p.DurationMinutes),
			emptyAsNull(p.AvailableFrom), emptyAsNull(p.AvailableUntil), nullInt(p.MaxBookings), p.IsDefault, p.IsActive(), j, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert package %s: %w", p.Name, err)
		}
		names = append(names, p.Name)
	}

	query := `UPDATE packages SET is_active = 0, updated_at = ? WHERE service_id = ?`
	args := []any{now, serviceID}
	if len(names) > 0 {
		query += ` AND name NOT IN (` + placeholders(len(names)) + `)`
		args = append(args, names...)
	}
	_, err := q.q.ExecContext(ctx, query, args...)
	return err
}

func (q *Queries) syncExceptions(ctx context.Context, serviceID int64, exceptions []config.ExceptionConfig, holidays []config.HolidayConfig) error {
	ids := make([]any, 0, len(exceptions)+len(holidays))

	for _, ec := range exceptions {
		date, err := models.ParseDate(ec.Date)
		if err != nil {
			return err
		}
		ex := &models.Exception{
			ServiceID:   serviceID,
			Date:        date,
			Type:        models.ExceptionType(ec.Type),
			MaxBookings: ec.MaxBookings,
			Note:        ec.Note,
			IsActive:    ec.IsActive(),
		}
		if ex.Type == models.ExceptionSpecialRange {
			ex.RangeMode = models.RangeMode(ec.RangeMode)
			ex.StartTime = ec.Start
			ex.EndTime = ec.End
		}
		id, err := q.UpsertException(ctx, ex)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	for _, h := range holidays {
		date, err := models.ParseDate(h.Date)
		if err != nil {
			return fmt.Errorf("parse holiday %s: %w", h.Date, err)
		}
		id, err := q.UpsertException(ctx, &models.Exception{
			ServiceID: serviceID,
			Date:      date,
			Type:      models.ExceptionClosed,
			Note:      h.Name,
			IsActive:  true,
		})
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	query := `UPDATE service_exceptions SET is_active = 0, updated_at = ? WHERE service_id = ?`
	args := []any{q.timestamp(), serviceID}
	if len(ids) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(ids)) + `)`
		args = append(args, ids...)
	}
	_, err := q.q.ExecContext(ctx, query, args...)
	return err
}

func (q *Queries) deactivateServices(ctx context.Context, seen map[int64]struct{}) error {
	rows, err := q.q.QueryContext(ctx, `SELECT id FROM services WHERE is_active = 1`)
	if err != nil {
		return err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := q.q.ExecContext(ctx, `UPDATE services SET is_active = 0, updated_at = ? WHERE id = ?`, q.timestamp(), id); err != nil {
			return fmt.Errorf("deactivate service %d: %w", id, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func emptyAsNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
