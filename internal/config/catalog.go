package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// RangeConfig is an HH:MM open interval.
type RangeConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Label string `yaml:"label,omitempty"`
}

// WeeklyConfig applies the same ranges to several weekdays (0=Mon, 6=Sun).
type WeeklyConfig struct {
	Weekdays []int         `yaml:"weekdays"`
	Ranges   []RangeConfig `yaml:"ranges"`
}

// PackageConfig describes one priced variant of a service.
type PackageConfig struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	Price           string `yaml:"price"`
	Deposit         string `yaml:"deposit"`
	DurationMinutes *int   `yaml:"duration_minutes,omitempty"`
	AvailableFrom   string `yaml:"available_from,omitempty"`
	AvailableUntil  string `yaml:"available_until,omitempty"`
	MaxBookings     *int   `yaml:"max_bookings,omitempty"`
	IsDefault       bool   `yaml:"is_default"`
	Active          *bool  `yaml:"active,omitempty"`
}

// ExceptionConfig overrides the weekly schedule of a service on one date.
type ExceptionConfig struct {
	Date        string `yaml:"date"`
	Type        string `yaml:"type"`
	RangeMode   string `yaml:"range_mode,omitempty"`
	Start       string `yaml:"start,omitempty"`
	End         string `yaml:"end,omitempty"`
	MaxBookings *int   `yaml:"max_bookings,omitempty"`
	Note        string `yaml:"note,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
}

// ServiceConfig represents a single service entry.
type ServiceConfig struct {
	Code             string            `yaml:"code"`
	Name             string            `yaml:"name"`
	Category         string            `yaml:"category"`
	Description      string            `yaml:"description"`
	QuoteURL         string            `yaml:"quote_url"`
	Active           *bool             `yaml:"active,omitempty"`
	AvailabilityMode string            `yaml:"availability_mode"`
	AvailableFrom    string            `yaml:"available_from,omitempty"`
	AvailableUntil   string            `yaml:"available_until,omitempty"`
	DurationMinutes  int               `yaml:"duration_minutes"`
	IntervalMinutes  int               `yaml:"interval_minutes"`
	Weekly           []WeeklyConfig    `yaml:"weekly,omitempty"`
	Packages         []PackageConfig   `yaml:"packages,omitempty"`
	Exceptions       []ExceptionConfig `yaml:"exceptions,omitempty"`
}

// IsActive defaults to true when the flag is omitted.
func (s *ServiceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// IsActive defaults to true when the flag is omitted.
func (p *PackageConfig) IsActive() bool {
	return p.Active == nil || *p.Active
}

// IsActive defaults to true when the flag is omitted.
func (e *ExceptionConfig) IsActive() bool {
	return e.Active == nil || *e.Active
}

// HolidayConfig closes every service on a date.
type HolidayConfig struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

// CatalogDefaults fill in services that leave fields empty.
type CatalogDefaults struct {
	DurationMinutes int             `yaml:"duration_minutes"`
	IntervalMinutes int             `yaml:"interval_minutes"`
	Weekly          []WeeklyConfig  `yaml:"weekly"`
	Packages        []PackageConfig `yaml:"packages"`
}

// CatalogConfig is the root of catalog.yaml.
type CatalogConfig struct {
	Services []ServiceConfig `yaml:"services"`
	Defaults CatalogDefaults `yaml:"defaults"`
	Holidays []HolidayConfig `yaml:"holidays"`
}

// LoadCatalog loads and validates the service catalog from a YAML file.
func LoadCatalog(path string) (*CatalogConfig, error) {
	if path == "" {
		path = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes, defaults and validates catalog YAML.
func ParseCatalog(data []byte) (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &cfg, nil
}

func (c *CatalogConfig) applyDefaults() {
	if c.Defaults.DurationMinutes <= 0 {
		c.Defaults.DurationMinutes = 60
	}
	if c.Defaults.IntervalMinutes <= 0 {
		c.Defaults.IntervalMinutes = 20
	}
	if len(c.Defaults.Weekly) == 0 {
		c.Defaults.Weekly = []WeeklyConfig{{
			Weekdays: []int{0, 1, 2, 3, 4, 5},
			Ranges:   []RangeConfig{{Start: "09:00", End: "13:20"}, {Start: "16:00", End: "22:00"}},
		}}
	}
	if len(c.Defaults.Packages) == 0 {
		base, full := 60, 120
		c.Defaults.Packages = []PackageConfig{
			{Name: "Paquete Base", Description: "Cobertura esencial del servicio.", Price: "1500", Deposit: "500", DurationMinutes: &base, IsDefault: true},
			{Name: "Paquete Completo", Description: "Cobertura extendida con entregables premium.", Price: "3000", Deposit: "1000", DurationMinutes: &full},
		}
	}

	for i := range c.Services {
		s := &c.Services[i]
		if s.AvailabilityMode == "" {
			s.AvailabilityMode = "permanent"
		}
		if s.DurationMinutes <= 0 {
			s.DurationMinutes = c.Defaults.DurationMinutes
		}
		if s.IntervalMinutes <= 0 {
			s.IntervalMinutes = c.Defaults.IntervalMinutes
		}
		if len(s.Weekly) == 0 {
			s.Weekly = c.Defaults.Weekly
		}
		if len(s.Packages) == 0 {
			s.Packages = c.Defaults.Packages
		}
	}
}

// Validate checks the catalog for errors.
func (c *CatalogConfig) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("no services defined")
	}

	codes := make(map[string]bool)
	for i := range c.Services {
		s := &c.Services[i]
		prefix := fmt.Sprintf("service[%d]", i)

		if s.Code == "" {
			return fmt.Errorf("%s: code is required", prefix)
		}
		if codes[s.Code] {
			return fmt.Errorf("%s: duplicate code '%s'", prefix, s.Code)
		}
		codes[s.Code] = true

		if s.Name == "" {
			return fmt.Errorf("%s: name is required", prefix)
		}
		if err := validateWindow(s.AvailabilityMode, s.AvailableFrom, s.AvailableUntil, prefix); err != nil {
			return err
		}
		for j, w := range s.Weekly {
			if err := validateWeekly(w, fmt.Sprintf("%s.weekly[%d]", prefix, j)); err != nil {
				return err
			}
		}
		if err := validatePackages(s.Packages, prefix); err != nil {
			return err
		}
		for j, e := range s.Exceptions {
			if err := validateException(e, fmt.Sprintf("%s.exceptions[%d]", prefix, j)); err != nil {
				return err
			}
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	return nil
}

func validateWindow(mode, from, until, prefix string) error {
	switch mode {
	case "permanent":
		return nil
	case "temporary":
	default:
		return fmt.Errorf("%s: availability_mode must be permanent or temporary, got '%s'", prefix, mode)
	}

	if from == "" || until == "" {
		return fmt.Errorf("%s: temporary services need available_from and available_until", prefix)
	}
	return validateDateRange(from, until, prefix)
}

func validateDateRange(from, until, prefix string) error {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse("2006-01-02", from); err != nil {
			return fmt.Errorf("%s.available_from: invalid format '%s', expected YYYY-MM-DD", prefix, from)
		}
	}
	if until != "" {
		if end, err = time.Parse("2006-01-02", until); err != nil {
			return fmt.Errorf("%s.available_until: invalid format '%s', expected YYYY-MM-DD", prefix, until)
		}
	}
	if from != "" && until != "" && end.Before(start) {
		return fmt.Errorf("%s: available_from must not be after available_until", prefix)
	}
	return nil
}

func validateWeekly(w WeeklyConfig, prefix string) error {
	if len(w.Weekdays) == 0 {
		return fmt.Errorf("%s.weekdays is required", prefix)
	}
	for _, d := range w.Weekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%s.weekdays: invalid day %d, must be 0-6 (0=Mon, 6=Sun)", prefix, d)
		}
	}
	for k, r := range w.Ranges {
		if err := validateRange(r.Start, r.End, fmt.Sprintf("%s.ranges[%d]", prefix, k)); err != nil {
			return err
		}
	}
	return nil
}

func validateRange(start, end, prefix string) error {
	startTime, err := time.Parse("15:04", start)
	if err != nil {
		return fmt.Errorf("%s.start: invalid format '%s', expected HH:MM", prefix, start)
	}
	endTime, err := time.Parse("15:04", end)
	if err != nil {
		return fmt.Errorf("%s.end: invalid format '%s', expected HH:MM", prefix, end)
	}
	if !endTime.After(startTime) {
		return fmt.Errorf("%s: end must be after start", prefix)
	}
	return nil
}

func validatePackages(pkgs []PackageConfig, prefix string) error {
	names := make(map[string]bool)
	for j, p := range pkgs {
		pp := fmt.Sprintf("%s.packages[%d]", prefix, j)
		if p.Name == "" {
			return fmt.Errorf("%s: name is required", pp)
		}
		if names[p.Name] {
			return fmt.Errorf("%s: duplicate name '%s'", pp, p.Name)
		}
		names[p.Name] = true

		price, err := parseAmount(p.Price)
		if err != nil {
			return fmt.Errorf("%s.price: %w", pp, err)
		}
		deposit, err := parseAmount(p.Deposit)
		if err != nil {
			return fmt.Errorf("%s.deposit: %w", pp, err)
		}
		if deposit.GreaterThan(price) {
			return fmt.Errorf("%s: deposit cannot exceed price", pp)
		}
		if p.DurationMinutes != nil && *p.DurationMinutes <= 0 {
			return fmt.Errorf("%s.duration_minutes must be positive", pp)
		}
		if p.MaxBookings != nil && *p.MaxBookings <= 0 {
			return fmt.Errorf("%s.max_bookings must be positive", pp)
		}
		if err := validateDateRange(p.AvailableFrom, p.AvailableUntil, pp); err != nil {
			return err
		}
	}
	return nil
}

func validateException(e ExceptionConfig, prefix string) error {
	if _, err := time.Parse("2006-01-02", e.Date); err != nil {
		return fmt.Errorf("%s.date: invalid format '%s', expected YYYY-MM-DD", prefix, e.Date)
	}
	switch e.Type {
	case "closed":
	case "special_range":
		if e.RangeMode != "replace" && e.RangeMode != "add" {
			return fmt.Errorf("%s.range_mode must be replace or add, got '%s'", prefix, e.RangeMode)
		}
		if err := validateRange(e.Start, e.End, prefix); err != nil {
			return err
		}
	case "max_bookings":
		if e.MaxBookings == nil || *e.MaxBookings <= 0 {
			return fmt.Errorf("%s.max_bookings must be positive", prefix)
		}
	default:
		return fmt.Errorf("%s.type: unknown exception type '%s'", prefix, e.Type)
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s'", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative")
	}
	return d, nil
}

// Amount parses a validated price or deposit string.
func Amount(s string) decimal.Decimal {
	d, _ := parseAmount(s)
	return d
}

// ServiceByCode returns the service entry with the given code.
func (c *CatalogConfig) ServiceByCode(code string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Code == code {
			return &c.Services[i]
		}
	}
	return nil
}
