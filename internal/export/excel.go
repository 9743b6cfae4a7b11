// Package export renders booking listings as spreadsheets.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"fotoagenda/internal/models"
)

// sheetWriter fills sheets row by row.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel limit.
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	start, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
	end, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
	return w.file.SetCellStyle(w.currentSheet, start, end, style)
}

func (w *sheetWriter) writeRow(values []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &values); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

var bookingColumns = []string{
	"ID", "Fecha", "Hora", "Duración (min)", "Servicio", "Paquete", "Estado",
	"Cliente", "Teléfono", "Notas", "Anticipo", "Origen", "Creada",
}

// WriteBookings writes a workbook with one row per booking and a per-service
// summary sheet.
func WriteBookings(out io.Writer, bookings []models.Booking) error {
	w := newSheetWriter()
	defer func() { _ = w.file.Close() }()

	if err := w.addSheet("Reservas"); err != nil {
		return err
	}
	if err := w.writeHeader(bookingColumns); err != nil {
		return err
	}
	for i := range bookings {
		if err := w.writeRow(bookingRow(&bookings[i])); err != nil {
			return fmt.Errorf("write booking %d: %w", bookings[i].ID, err)
		}
	}
	_ = w.file.SetColWidth("Reservas", "E", "H", 22)

	if err := w.addSheet("Resumen"); err != nil {
		return err
	}
	if err := w.writeHeader([]string{"Servicio", "Pendiente", "Confirmada", "Dudas", "Cancelada", "Anticipos"}); err != nil {
		return err
	}
	for _, s := range summarize(bookings) {
		row := []any{s.service, s.counts[models.StatusPending], s.counts[models.StatusConfirmed],
			s.counts[models.StatusDoubts], s.counts[models.StatusCancelled], s.deposits}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}

	return w.file.Write(out)
}

func bookingRow(b *models.Booking) []any {
	deposit, _ := b.DepositAmount.Float64()
	return []any{
		b.ID,
		b.Date.Format(models.DateLayout),
		b.Time,
		b.DurationMinutes,
		b.ServiceName,
		b.PackageName,
		b.Status.Label(),
		b.CustomerName,
		b.CustomerPhone,
		b.CustomerNotes,
		deposit,
		string(b.Source),
		b.CreatedAt.Format("2006-01-02 15:04"),
	}
}

type serviceSummary struct {
	service  string
	counts   map[models.BookingStatus]int
	deposits float64
}

func summarize(bookings []models.Booking) []serviceSummary {
	byService := map[string]*serviceSummary{}
	for i := range bookings {
		b := &bookings[i]
		s, ok := byService[b.ServiceName]
		if !ok {
			s = &serviceSummary{service: b.ServiceName, counts: map[models.BookingStatus]int{}}
			byService[b.ServiceName] = s
		}
		s.counts[b.Status]++
		if b.Blocks() {
			d, _ := b.DepositAmount.Float64()
			s.deposits += d
		}
	}

	out := make([]serviceSummary, 0, len(byService))
	for _, s := range byService {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].service < out[j].service })
	return out
}
