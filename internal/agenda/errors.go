package agenda

import (
	"errors"

	"fotoagenda/internal/booking"
)

// Error carries a Spanish message that is safe to show to customers and staff.
type Error struct {
	Err     error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

const msgUnexpected = "Ocurrió un error inesperado. Intenta de nuevo más tarde."

// messages are checked in order; specific kinds come before their parents.
var messages = []struct {
	err error
	msg string
}{
	{booking.ErrPastDate, "No es posible reservar en una fecha pasada."},
	{booking.ErrDepositTooHigh, "El anticipo no puede ser mayor al precio del paquete."},
	{booking.ErrInvalidTransition, "La reserva no puede cambiar a ese estado."},
	{booking.ErrNoOpenIntent, "Este enlace de reserva ya no está activo. Solicita uno nuevo por WhatsApp."},
	{booking.ErrPackageMismatch, "El paquete seleccionado no pertenece a este servicio."},
	{booking.ErrInvalidInput, "Los datos enviados no son válidos. Revisa la fecha, la hora y tus datos de contacto."},
	{booking.ErrOutOfRange, "El servicio no está disponible en la fecha seleccionada."},
	{booking.ErrSlotUnavailable, "Ese horario ya no está disponible. Elige otro."},
	{booking.ErrCapacityExceeded, "Ya no hay lugares disponibles para esa fecha."},
	{booking.ErrNotFound, "No encontramos la información solicitada."},
}

// translate wraps known booking failures in an *Error. Unexpected errors are
// returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return &Error{Err: err, Message: m.msg}
		}
	}
	return err
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return msgUnexpected
}
