package booking

import (
	"context"
	"strings"
	"time"

	"fotoagenda/internal/database"
	"fotoagenda/internal/metrics"
	"fotoagenda/internal/models"
	"fotoagenda/internal/slots"
)

// IntentContext is what the calendar page needs to render a booking link.
type IntentContext struct {
	Intent   *models.BookingIntent `json:"intent"`
	User     *models.User          `json:"user"`
	Service  *models.Service       `json:"service"`
	Packages []models.Package      `json:"packages"`
	Selected *models.Package       `json:"selected_package,omitempty"`
}

// Context loads the open intent behind a token with its service and packages.
// The selected package is the intent's, else the default, else the first one.
func (s *Service) Context(ctx context.Context, token string) (*IntentContext, error) {
	intent, err := s.openIntent(ctx, token)
	if err != nil {
		return nil, err
	}
	svc, err := activeService(ctx, s.db.Queries, intent.ServiceID)
	if err != nil {
		return nil, err
	}
	user, err := s.db.GetUser(ctx, intent.UserID)
	if err != nil {
		return nil, notFound(err, "customer")
	}
	pkgs, err := s.db.ListPackages(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	out := &IntentContext{Intent: intent, User: user, Service: svc, Packages: pkgs}
	if intent.PackageID != nil {
		for i := range pkgs {
			if pkgs[i].ID == *intent.PackageID {
				out.Selected = &pkgs[i]
			}
		}
	}
	if out.Selected == nil {
		def, err := s.db.DefaultPackage(ctx, svc.ID)
		switch {
		case err == nil:
			out.Selected = def
		case len(pkgs) > 0:
			out.Selected = &pkgs[0]
		}
	}
	return out, nil
}

// IntentTimes lists free start times for the intent behind token. packageID
// overrides the intent's package.
func (s *Service) IntentTimes(ctx context.Context, token, dateStr string, packageID *int64) ([]string, error) {
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, err
	}
	intent, err := s.openIntent(ctx, token)
	if err != nil {
		return nil, err
	}
	svc, err := activeService(ctx, s.db.Queries, intent.ServiceID)
	if err != nil {
		return nil, err
	}
	if packageID == nil {
		packageID = intent.PackageID
	}
	pkg, err := resolvePackage(ctx, s.db.Queries, svc, packageID)
	if err != nil {
		return nil, err
	}
	metrics.IncSlotQuery("calendar")
	return s.times(ctx, svc, pkg, date, false)
}

// ManualTimes lists free start times for a staff booking.
func (s *Service) ManualTimes(ctx context.Context, serviceID int64, packageID *int64, dateStr string) ([]string, error) {
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, err
	}
	svc, err := activeService(ctx, s.db.Queries, serviceID)
	if err != nil {
		return nil, err
	}
	pkg, err := resolvePackage(ctx, s.db.Queries, svc, packageID)
	if err != nil {
		return nil, err
	}
	metrics.IncSlotQuery("dashboard")
	return s.times(ctx, svc, pkg, date, s.allowPast)
}

// times returns an empty list for dates outside the service or package window
// and, unless allowPast, for past dates and start times that already passed.
func (s *Service) times(ctx context.Context, svc *models.Service, pkg *models.Package, date time.Time, allowPast bool) ([]string, error) {
	if !svc.InWindow(date) || (pkg != nil && !pkg.InWindow(date)) {
		return []string{}, nil
	}
	today := s.Today()
	if !allowPast && date.Before(today) {
		return []string{}, nil
	}

	free, err := slots.NewGenerator(s.db.Queries).AvailableSlots(ctx, slots.Query{Service: svc, Package: pkg, Date: date})
	if err != nil {
		return nil, err
	}
	clocks := slots.Clocks(free)
	if allowPast || !date.Equal(today) {
		return clocks, nil
	}

	now := s.now().In(s.loc).Format(models.TimeLayout)
	upcoming := clocks[:0]
	for _, c := range clocks {
		if c > now {
			upcoming = append(upcoming, c)
		}
	}
	return upcoming, nil
}

// OpenIntent returns the open intent of a user, or ErrNotFound.
func (s *Service) OpenIntent(ctx context.Context, userID int64) (*models.BookingIntent, error) {
	intent, err := s.db.OpenIntentForUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "open intent")
	}
	return intent, nil
}

func (s *Service) openIntent(ctx context.Context, token string) (*models.BookingIntent, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalid("booking token is required")
	}
	intent, err := s.db.GetIntentByToken(ctx, token)
	if err != nil {
		return nil, notFound(err, "booking link")
	}
	if intent.Status != models.IntentOpen {
		return nil, ErrNoOpenIntent
	}
	return intent, nil
}

func parseDate(s string) (time.Time, error) {
	date, err := models.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, invalid("date %q must be YYYY-MM-DD", s)
	}
	return date, nil
}

var _ slots.Store = (*database.Queries)(nil)
