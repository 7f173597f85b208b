package core

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

const (
	Expense CategoryType = "expense"
	Income  CategoryType = "income"
)

const (
	WeeklyReport  ReportType = "weekly"
	MonthlyReport ReportType = "monthly"
	AnnualReport  ReportType = "annual"
	CustomReport  ReportType = "custom"
)

const (
	DefaultCategoryColor = "#3498db"
	DefaultCategoryIcon  = "fa-tag"
	DefaultTimezone      = "UTC"
	DefaultCurrency      = "BRL"
)

// Currencies lists the currencies a profile can be kept in.
var Currencies = []string{"EUR", "USD", "GBP", "MXN", "BRL", "CUP"}

type (
	CategoryType string

	ReportType string

	// Date is a calendar day stored at UTC midnight.
	Date struct {
		time.Time
	}

	User struct {
		ID        int64     `json:"id"`
		Username  string    `json:"username"`
		Email     string    `json:"email"`
		FirstName string    `json:"first_name"`
		LastName  string    `json:"last_name"`
		JoinedAt  time.Time `json:"joined_at"`
	}

	Profile struct {
		UserID        int64               `json:"user_id"`
		Timezone      string              `json:"timezone"`
		MonthlyBudget decimal.NullDecimal `json:"monthly_budget"`
		Currency      string              `json:"currency"`
		UpdatedAt     time.Time           `json:"updated_at"`
	}

	Category struct {
		ID          int64        `json:"id"`
		UserID      int64        `json:"user_id"`
		Name        string       `json:"name"`
		Description string       `json:"description"`
		Type        CategoryType `json:"type"`
		Color       string       `json:"color"`
		Icon        string       `json:"icon"`
		CreatedAt   time.Time    `json:"created_at"`
		UpdatedAt   time.Time    `json:"updated_at"`
	}

	Operation struct {
		ID          int64           `json:"id"`
		UserID      int64           `json:"user_id"`
		CategoryID  *int64          `json:"category_id"`
		Category    *Category       `json:"category,omitempty"`
		Amount      decimal.Decimal `json:"amount"`
		Date        Date            `json:"date"`
		Description string          `json:"description"`
		CreatedAt   time.Time       `json:"created_at"`
		UpdatedAt   time.Time       `json:"updated_at"`
	}

	SavedReport struct {
		ID         int64          `json:"id"`
		UserID     int64          `json:"user_id"`
		Name       string         `json:"name"`
		ReportType ReportType     `json:"report_type"`
		StartDate  Date           `json:"start_date"`
		EndDate    Date           `json:"end_date"`
		Filters    map[string]any `json:"filters"`
		CreatedAt  time.Time      `json:"created_at"`
	}
)

var (
	hexColor     = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	usernameRule = regexp.MustCompile(`^[\w.@+-]+$`)
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as seen in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func (d Date) Day() int { return d.Time.Day() }

func (d Date) Month() int { return int(d.Time.Month()) }

func (d Date) Year() int { return d.Time.Year() }

// AddDays returns the date n days later (earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is a later day than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Between reports whether start <= d <= end.
func (d Date) Between(start, end Date) bool {
	return !d.Before(start) && !d.After(end)
}

// DaysUntil returns the number of days from d to o.
func (d Date) DaysUntil(o Date) int {
	return int(math.Round(o.Time.Sub(d.Time).Hours() / 24))
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ErrInvalidDate
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t CategoryType) IsValid() bool {
	return t == Expense || t == Income
}

// ParseCategoryType accepts the canonical names and the legacy Spanish ones.
func ParseCategoryType(s string) (CategoryType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expense", "gasto":
		return Expense, nil
	case "income", "ingreso":
		return Income, nil
	default:
		return "", ErrInvalidCategoryType
	}
}

func (t ReportType) IsValid() bool {
	switch t {
	case WeeklyReport, MonthlyReport, AnnualReport, CustomReport:
		return true
	}
	return false
}

// DisplayName is the full name when present, the username otherwise.
func (u User) DisplayName() string {
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Username
}

func (u User) Validate() error {
	v := NewValidationError()
	name := strings.TrimSpace(u.Username)
	switch {
	case name == "":
		v.Add("username", "username is required")
	case len(name) > 150:
		v.Add("username", "username too long (max 150 characters)")
	case !usernameRule.MatchString(name):
		v.Add("username", "username may contain only letters, digits and @/./+/-/_")
	}
	if email := strings.TrimSpace(u.Email); email == "" || !strings.Contains(email, "@") {
		v.Add("email", "a valid email address is required")
	}
	if len(u.FirstName) > 150 {
		v.Add("first_name", "first name too long (max 150 characters)")
	}
	if len(u.LastName) > 150 {
		v.Add("last_name", "last name too long (max 150 characters)")
	}
	return v.OrNil()
}

// DefaultProfile is the profile created together with a new user.
func DefaultProfile(userID int64) Profile {
	return Profile{
		UserID:   userID,
		Timezone: DefaultTimezone,
		Currency: DefaultCurrency,
	}
}

// Location resolves the profile timezone, falling back to UTC.
func (p Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (p Profile) Validate() error {
	v := NewValidationError()
	if _, err := time.LoadLocation(p.Timezone); err != nil || p.Timezone == "" {
		v.Add("timezone", fmt.Sprintf("unknown timezone %q", p.Timezone))
	}
	if !isCurrency(p.Currency) {
		v.Add("currency", fmt.Sprintf("currency must be one of %v", Currencies))
	}
	if p.MonthlyBudget.Valid {
		if p.MonthlyBudget.Decimal.IsNegative() {
			v.Add("monthly_budget", "monthly budget cannot be negative")
		} else if p.MonthlyBudget.Decimal.GreaterThan(MaxAmount) {
			v.Add("monthly_budget", "monthly budget too large")
		}
	}
	return v.OrNil()
}

func isCurrency(c string) bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}

// ApplyDefaults fills color and icon when left empty.
func (c *Category) ApplyDefaults() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Color == "" {
		c.Color = DefaultCategoryColor
	}
	if c.Icon == "" {
		c.Icon = DefaultCategoryIcon
	}
}

func (c Category) Validate() error {
	v := NewValidationError()
	name := strings.TrimSpace(c.Name)
	if name == "" {
		v.Add("name", "name is required")
	} else if len(name) > 100 {
		v.Add("name", "name too long (max 100 characters)")
	}
	if !c.Type.IsValid() {
		v.Add("type", ErrInvalidCategoryType.Error())
	}
	if !hexColor.MatchString(c.Color) {
		v.Add("color", "color must be a #rrggbb hex value")
	}
	if c.Icon == "" || len(c.Icon) > 50 {
		v.Add("icon", "icon must be 1-50 characters")
	}
	return v.OrNil()
}

// Type returns the category type, empty for uncategorized operations.
func (o Operation) Type() CategoryType {
	if o.Category == nil {
		return ""
	}
	return o.Category.Type
}

func (o Operation) Validate() error {
	v := NewValidationError()
	if err := o.Date.Validate(); err != nil {
		v.Add("date", "date is required (YYYY-MM-DD)")
	}
	if err := ValidateAmount(o.Amount); err != nil {
		v.Add("amount", err.Error())
	}
	if len(o.Description) > 500 {
		v.Add("description", "description too long (max 500 characters)")
	}
	return v.OrNil()
}

func (r SavedReport) Validate() error {
	v := NewValidationError()
	name := strings.TrimSpace(r.Name)
	if name == "" {
		v.Add("name", "name is required")
	} else if len(name) > 100 {
		v.Add("name", "name too long (max 100 characters)")
	}
	if !r.ReportType.IsValid() {
		v.Add("report_type", "report type must be weekly, monthly, annual or custom")
	}
	if r.StartDate.IsZero() {
		v.Add("start_date", "start date is required")
	}
	if r.EndDate.IsZero() {
		v.Add("end_date", "end date is required")
	}
	if !r.StartDate.IsZero() && !r.EndDate.IsZero() && r.StartDate.After(r.EndDate) {
		v.Add("end_date", "start date cannot be after end date")
	}
	return v.OrNil()
}

// CategoryIDs reads the "categories" filter. Values may have been stored as
// numbers or numeric strings; anything else is skipped.
func (r SavedReport) CategoryIDs() []int64 {
	raw, ok := r.Filters["categories"]
	if !ok {
		return nil
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []int64:
		return append([]int64(nil), v...)
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	default:
		return nil
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			ids = append(ids, int64(v))
		case int64:
			ids = append(ids, v)
		case int:
			ids = append(ids, int64(v))
		case json.Number:
			if id, err := v.Int64(); err == nil {
				ids = append(ids, id)
			}
		case string:
			if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// CategoryFilter builds the filters document stored with a saved report.
func CategoryFilter(ids []int64) map[string]any {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	return map[string]any{"categories": list}
}
