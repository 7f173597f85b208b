package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/storage"
)

// PageSize is the number of operations per listing page.
const PageSize = 10

// EventPublisher announces ledger changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, e *amqp.LedgerEvent) error
}

// ReportInvalidator drops a user's cached reports. *reports.Service implements it.
type ReportInvalidator interface {
	Invalidate(userID int64) int
}

// LedgerService validates and persists users, categories, operations and
// saved reports. Every write drops the user's cached reports and, when a
// publisher is configured, announces the change on the message bus.
type LedgerService struct {
	repo    storage.Repository
	events  EventPublisher
	reports ReportInvalidator
	logger  *log.Logger
}

type Option func(*LedgerService)

// WithEvents publishes ledger events through p. Pass only non-nil publishers.
func WithEvents(p EventPublisher) Option {
	return func(s *LedgerService) { s.events = p }
}

func WithInvalidator(r ReportInvalidator) Option {
	return func(s *LedgerService) { s.reports = r }
}

func WithLogger(l *log.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

func NewLedgerService(repo storage.Repository, opts ...Option) *LedgerService {
	s := &LedgerService{
		repo:   repo,
		logger: log.New(log.Config{Component: log.ComponentLedger}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// changed runs after every successful write that affects reports.
func (s *LedgerService) changed(ctx context.Context, userID int64, entity string, entityID int64, action string) {
	if s.reports != nil {
		if n := s.reports.Invalidate(userID); n > 0 {
			s.logger.DebugContext(ctx, "Invalidated cached reports",
				log.FieldUserID, userID,
				"entries", n)
		}
	}
	s.publish(ctx, userID, entity, entityID, action)
}

func (s *LedgerService) publish(ctx context.Context, userID int64, entity string, entityID int64, action string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(userID, entity, entityID, action)); err != nil {
		// the write already succeeded
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldUserID, userID,
			"entity", entity,
			"action", action,
			log.FieldError, err)
	}
}

// Users and profiles

// CreateUser registers u together with a default profile.
func (s *LedgerService) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(u.Email)
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	created, err := s.repo.CreateUser(ctx, u, core.DefaultProfile(0))
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "User created",
		log.FieldUserID, created.ID,
		"username", created.Username)
	return created, nil
}

func (s *LedgerService) GetUser(ctx context.Context, id int64) (core.User, error) {
	return s.repo.GetUser(ctx, id)
}

func (s *LedgerService) ListUsers(ctx context.Context) ([]core.User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateUser changes the name and email of an existing user. The username
// and join date are kept.
func (s *LedgerService) UpdateUser(ctx context.Context, u core.User) (core.User, error) {
	existing, err := s.repo.GetUser(ctx, u.ID)
	if err != nil {
		return core.User{}, err
	}
	existing.Email = strings.TrimSpace(u.Email)
	existing.FirstName = strings.TrimSpace(u.FirstName)
	existing.LastName = strings.TrimSpace(u.LastName)
	if err := existing.Validate(); err != nil {
		return core.User{}, err
	}
	updated, err := s.repo.UpdateUser(ctx, existing)
	if err != nil {
		return core.User{}, fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return updated, nil
}

func (s *LedgerService) GetProfile(ctx context.Context, userID int64) (core.Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// UpdateProfile stores timezone, currency and budget. Reports depend on all
// three, so the user's cache is dropped.
func (s *LedgerService) UpdateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	p.Timezone = strings.TrimSpace(p.Timezone)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.MonthlyBudget.Valid {
		p.MonthlyBudget.Decimal = core.RoundMoney(p.MonthlyBudget.Decimal)
	}
	if err := p.Validate(); err != nil {
		return core.Profile{}, err
	}
	updated, err := s.repo.UpdateProfile(ctx, p)
	if err != nil {
		return core.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	s.changed(ctx, p.UserID, amqp.EntityProfile, p.UserID, amqp.ActionUpdated)
	return updated, nil
}

// Categories

// CategoryGroups is a user's categories split by type.
type CategoryGroups struct {
	Expense []core.Category `json:"expense"`
	Income  []core.Category `json:"income"`
}

// ListCategories lists the user's categories by name, optionally of one type.
func (s *LedgerService) ListCategories(ctx context.Context, userID int64, t core.CategoryType) ([]core.Category, error) {
	cats, err := s.repo.ListCategories(ctx, userID, t)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// GroupedCategories returns expense and income categories separately.
func (s *LedgerService) GroupedCategories(ctx context.Context, userID int64) (CategoryGroups, error) {
	cats, err := s.ListCategories(ctx, userID, "")
	if err != nil {
		return CategoryGroups{}, err
	}
	groups := CategoryGroups{Expense: []core.Category{}, Income: []core.Category{}}
	for _, c := range cats {
		if c.Type == core.Income {
			groups.Income = append(groups.Income, c)
		} else {
			groups.Expense = append(groups.Expense, c)
		}
	}
	return groups, nil
}

func (s *LedgerService) GetCategory(ctx context.Context, userID, id int64) (core.Category, error) {
	return s.repo.GetCategory(ctx, userID, id)
}

func (s *LedgerService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c.ID = 0
	c.Description = strings.TrimSpace(c.Description)
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	created, err := s.repo.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.changed(ctx, c.UserID, amqp.EntityCategory, created.ID, amqp.ActionCreated)
	return created, nil
}

func (s *LedgerService) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if _, err := s.repo.GetCategory(ctx, c.UserID, c.ID); err != nil {
		return core.Category{}, err
	}
	c.Description = strings.TrimSpace(c.Description)
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	updated, err := s.repo.UpdateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category %d: %w", c.ID, err)
	}
	s.changed(ctx, c.UserID, amqp.EntityCategory, c.ID, amqp.ActionUpdated)
	return updated, nil
}

// DeleteCategory removes the category; its operations become uncategorized.
func (s *LedgerService) DeleteCategory(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteCategory(ctx, userID, id); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	s.changed(ctx, userID, amqp.EntityCategory, id, amqp.ActionDeleted)
	return nil
}

// Operations

// OperationFilter holds the listing filters. Page is 1-based.
type OperationFilter struct {
	CategoryID int64
	Start      core.Date
	End        core.Date
	Page       int
}

func (f OperationFilter) query() core.OperationQuery {
	q := core.OperationQuery{Start: f.Start, End: f.End}
	if f.CategoryID > 0 {
		q.CategoryIDs = []int64{f.CategoryID}
	}
	return q
}

// OperationList is one page of operations with totals over every
// operation matching the filter.
type OperationList struct {
	core.Page[core.Operation]
	Pages  int         `json:"pages"`
	Totals core.Totals `json:"totals"`
}

// ListOperations pages through the user's operations, newest first. Pages
// past the end return the last page.
func (s *LedgerService) ListOperations(ctx context.Context, userID int64, f OperationFilter) (OperationList, error) {
	q := f.query()
	totals, count, err := s.repo.OperationStats(ctx, userID, q)
	if err != nil {
		return OperationList{}, fmt.Errorf("operation totals: %w", err)
	}

	list := OperationList{
		Page:   core.Page[core.Operation]{PageSize: PageSize, Total: count},
		Totals: totals,
	}
	list.Pages = list.Page.Pages()

	page := f.Page
	if page < 1 {
		page = 1
	}
	if list.Pages > 0 && page > list.Pages {
		page = list.Pages
	}
	list.Page.Page = page

	q.Limit = PageSize
	q.Offset = (page - 1) * PageSize
	ops, err := s.repo.ListOperations(ctx, userID, q)
	if err != nil {
		return OperationList{}, fmt.Errorf("list operations: %w", err)
	}
	if ops == nil {
		ops = []core.Operation{}
	}
	list.Items = ops
	return list, nil
}

func (s *LedgerService) GetOperation(ctx context.Context, userID, id int64) (core.Operation, error) {
	return s.repo.GetOperation(ctx, userID, id)
}

func (s *LedgerService) CreateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	o.ID = 0
	if err := s.prepareOperation(ctx, &o); err != nil {
		return core.Operation{}, err
	}
	created, err := s.repo.CreateOperation(ctx, o)
	if err != nil {
		return core.Operation{}, fmt.Errorf("create operation: %w", err)
	}
	s.logger.DebugContext(ctx, "Operation created", log.NewFields().
		WithUser(o.UserID).
		WithOperation(log.OpCreate).
		ToSlice()...)
	s.changed(ctx, o.UserID, amqp.EntityOperation, created.ID, amqp.ActionCreated)
	return created, nil
}

func (s *LedgerService) UpdateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	if _, err := s.repo.GetOperation(ctx, o.UserID, o.ID); err != nil {
		return core.Operation{}, err
	}
	if err := s.prepareOperation(ctx, &o); err != nil {
		return core.Operation{}, err
	}
	updated, err := s.repo.UpdateOperation(ctx, o)
	if err != nil {
		return core.Operation{}, fmt.Errorf("update operation %d: %w", o.ID, err)
	}
	s.changed(ctx, o.UserID, amqp.EntityOperation, o.ID, amqp.ActionUpdated)
	return updated, nil
}

func (s *LedgerService) DeleteOperation(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteOperation(ctx, userID, id); err != nil {
		return fmt.Errorf("delete operation %d: %w", id, err)
	}
	s.changed(ctx, userID, amqp.EntityOperation, id, amqp.ActionDeleted)
	return nil
}

func (s *LedgerService) prepareOperation(ctx context.Context, o *core.Operation) error {
	o.Amount = core.RoundMoney(o.Amount)
	o.Description = strings.TrimSpace(o.Description)
	o.Category = nil
	if err := o.Validate(); err != nil {
		return err
	}
	if o.CategoryID != nil {
		if err := s.ownCategory(ctx, o.UserID, *o.CategoryID); err != nil {
			return err
		}
	}
	return nil
}

// ownCategory reports ErrForeignCategory for ids the user does not own.
func (s *LedgerService) ownCategory(ctx context.Context, userID, id int64) error {
	_, err := s.repo.GetCategory(ctx, userID, id)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("category %d: %w", id, core.ErrForeignCategory)
	}
	if err != nil {
		return fmt.Errorf("check category %d: %w", id, err)
	}
	return nil
}

// Saved reports

func (s *LedgerService) ListSavedReports(ctx context.Context, userID int64) ([]core.SavedReport, error) {
	saved, err := s.repo.ListSavedReports(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved reports: %w", err)
	}
	return saved, nil
}

func (s *LedgerService) GetSavedReport(ctx context.Context, userID, id int64) (core.SavedReport, error) {
	return s.repo.GetSavedReport(ctx, userID, id)
}

// SaveReport stores a report definition. The category filter is normalized
// to the ids the user owns; unknown ids are rejected.
func (s *LedgerService) SaveReport(ctx context.Context, r core.SavedReport) (core.SavedReport, error) {
	r.ID = 0
	r.Name = strings.TrimSpace(r.Name)
	if err := r.Validate(); err != nil {
		return core.SavedReport{}, err
	}
	ids := r.CategoryIDs()
	for _, id := range ids {
		if err := s.ownCategory(ctx, r.UserID, id); err != nil {
			return core.SavedReport{}, err
		}
	}
	r.Filters = core.CategoryFilter(ids)

	created, err := s.repo.CreateSavedReport(ctx, r)
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("save report: %w", err)
	}
	s.publish(ctx, r.UserID, amqp.EntitySavedReport, created.ID, amqp.ActionCreated)
	return created, nil
}

func (s *LedgerService) DeleteSavedReport(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteSavedReport(ctx, userID, id); err != nil {
		return fmt.Errorf("delete saved report %d: %w", id, err)
	}
	s.publish(ctx, userID, amqp.EntitySavedReport, id, amqp.ActionDeleted)
	return nil
}

// Close closes storage.
func (s *LedgerService) Close() error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Close(); err != nil {
		return fmt.Errorf("close ledger service: %w", err)
	}
	return nil
}
