// Package memory is a process-local storage backend for development and tests.
package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"finanzas/internal/core"
	"finanzas/internal/storage"
)

// SeedCategory is created for every new user.
type SeedCategory struct {
	Name string
	Type core.CategoryType
}

type Store struct {
	mu         sync.Mutex
	nextID     int64
	seeds      []SeedCategory
	users      map[int64]core.User
	profiles   map[int64]core.Profile
	categories map[int64]core.Category
	operations map[int64]core.Operation
	saved      map[int64]core.SavedReport
	now        func() time.Time
}

var _ storage.Repository = (*Store)(nil)

func New(seeds ...SeedCategory) *Store {
	return &Store{
		seeds:      seeds,
		users:      make(map[int64]core.User),
		profiles:   make(map[int64]core.Profile),
		categories: make(map[int64]core.Category),
		operations: make(map[int64]core.Operation),
		saved:      make(map[int64]core.SavedReport),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewFromFiles reads seed categories from base/seed_categories.txt, one
// "type:name" per line ("expense:Food"). Lines without a type are expenses.
func NewFromFiles(base string) *Store {
	var seeds []SeedCategory
	names := map[string]bool{}
	for _, line := range readLines(filepath.Join(base, "seed_categories.txt")) {
		seed := SeedCategory{Name: line, Type: core.Expense}
		if kind, name, ok := strings.Cut(line, ":"); ok {
			t, err := core.ParseCategoryType(kind)
			if err != nil {
				continue
			}
			seed = SeedCategory{Name: strings.TrimSpace(name), Type: t}
		}
		if seed.Name != "" && !names[seed.Name] {
			names[seed.Name] = true
			seeds = append(seeds, seed)
		}
	}
	return New(seeds...)
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, u core.User, p core.Profile) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return core.User{}, core.ErrDuplicateUsername
		}
	}
	now := s.now()
	u.ID = s.id()
	u.JoinedAt = now
	s.users[u.ID] = u

	p.UserID = u.ID
	p.UpdatedAt = now
	s.profiles[u.ID] = p

	for _, seed := range s.seeds {
		c := core.Category{UserID: u.ID, Name: seed.Name, Type: seed.Type, CreatedAt: now, UpdatedAt: now}
		c.ApplyDefaults()
		c.ID = s.id()
		s.categories[c.ID] = c
	}
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsers(context.Context) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	existing.Email = u.Email
	existing.FirstName = u.FirstName
	existing.LastName = u.LastName
	s.users[u.ID] = existing
	return existing, nil
}

func (s *Store) GetProfile(_ context.Context, userID int64) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return core.Profile{}, core.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdateProfile(_ context.Context, p core.Profile) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; !ok {
		return core.Profile{}, core.ErrNotFound
	}
	p.UpdatedAt = s.now()
	s.profiles[p.UserID] = p
	return p, nil
}

func (s *Store) nameTaken(userID, exceptID int64, name string) bool {
	for _, c := range s.categories {
		if c.UserID == userID && c.ID != exceptID && c.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) ListCategories(_ context.Context, userID int64, t core.CategoryType) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if c.UserID == userID && (t == "" || c.Type == t) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, userID, id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok || c.UserID != userID {
		return core.Category{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(c.UserID, 0, c.Name) {
		return core.Category{}, core.ErrDuplicateCategory
	}
	c.ID = s.id()
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.categories[c.ID]
	if !ok || existing.UserID != c.UserID {
		return core.Category{}, core.ErrNotFound
	}
	if s.nameTaken(c.UserID, c.ID, c.Name) {
		return core.Category{}, core.ErrDuplicateCategory
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()
	s.categories[c.ID] = c
	return c, nil
}

// DeleteCategory removes the category; its operations become uncategorized.
func (s *Store) DeleteCategory(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok || c.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.categories, id)
	for opID, o := range s.operations {
		if o.CategoryID != nil && *o.CategoryID == id {
			o.CategoryID = nil
			s.operations[opID] = o
		}
	}
	return nil
}

// withCategory returns a copy of o with Category attached. Callers hold mu.
func (s *Store) withCategory(o core.Operation) core.Operation {
	o.Category = nil
	if o.CategoryID != nil {
		if c, ok := s.categories[*o.CategoryID]; ok {
			o.Category = &c
		}
	}
	return o
}

func (s *Store) matching(userID int64, q core.OperationQuery) []core.Operation {
	var out []core.Operation
	for _, o := range s.operations {
		if o.UserID != userID {
			continue
		}
		o = s.withCategory(o)
		if q.Matches(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out
}

func (s *Store) ListOperations(_ context.Context, userID int64, q core.OperationQuery) ([]core.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.matching(userID, q)
	if q.Limit > 0 {
		start := min(max(q.Offset, 0), len(out))
		end := min(start+q.Limit, len(out))
		out = out[start:end]
	}
	return out, nil
}

func (s *Store) OperationStats(_ context.Context, userID int64, q core.OperationQuery) (core.Totals, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.matching(userID, q)
	return core.SumTotals(ops), len(ops), nil
}

func (s *Store) GetOperation(_ context.Context, userID, id int64) (core.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.operations[id]
	if !ok || o.UserID != userID {
		return core.Operation{}, core.ErrNotFound
	}
	return s.withCategory(o), nil
}

func (s *Store) CreateOperation(_ context.Context, o core.Operation) (core.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.id()
	o.Amount = core.RoundMoney(o.Amount)
	o.CreatedAt = s.now()
	o.UpdatedAt = o.CreatedAt
	o.Category = nil
	s.operations[o.ID] = o
	return s.withCategory(o), nil
}

func (s *Store) UpdateOperation(_ context.Context, o core.Operation) (core.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.operations[o.ID]
	if !ok || existing.UserID != o.UserID {
		return core.Operation{}, core.ErrNotFound
	}
	o.Amount = core.RoundMoney(o.Amount)
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = s.now()
	o.Category = nil
	s.operations[o.ID] = o
	return s.withCategory(o), nil
}

func (s *Store) DeleteOperation(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.operations[id]
	if !ok || o.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.operations, id)
	return nil
}

func (s *Store) ListSavedReports(_ context.Context, userID int64) ([]core.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.SavedReport
	for _, r := range s.saved {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) GetSavedReport(_ context.Context, userID, id int64) (core.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.saved[id]
	if !ok || r.UserID != userID {
		return core.SavedReport{}, core.ErrNotFound
	}
	return r, nil
}

func (s *Store) CreateSavedReport(_ context.Context, r core.SavedReport) (core.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Filters == nil {
		r.Filters = map[string]any{}
	}
	r.ID = s.id()
	r.CreatedAt = s.now()
	s.saved[r.ID] = r
	return r, nil
}

func (s *Store) DeleteSavedReport(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.saved[id]
	if !ok || r.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.saved, id)
	return nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

// dedupe keeps the first occurrence of each line, preserving order.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
