package database

import (
	"database/sql"
	"time"

	"fotoagenda/internal/models"
)

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func datePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	d, err := models.ParseDate(v.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(models.DateLayout)
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func dateKey(t time.Time) string {
	return t.Format(models.DateLayout)
}
