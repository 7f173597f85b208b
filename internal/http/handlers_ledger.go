package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
	"finanzas/internal/services"
)

// parseBody parses the request body, writing a 400 on failure.
func parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return nil, false
	}
	return p, true
}

// Users

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	u, err := s.ledger.CreateUser(ctx, core.User{
		Username:  body.Get("username"),
		Email:     body.Get("email"),
		FirstName: body.Get("first_name"),
		LastName:  body.Get("last_name"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	u, err := s.ledger.GetUser(ctx, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleUpdateMe changes email and names. Fields not sent keep their value.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	u, err := s.ledger.GetUser(ctx, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	overlay(body, "email", &u.Email)
	overlay(body, "first_name", &u.FirstName)
	overlay(body, "last_name", &u.LastName)

	u, err = s.ledger.UpdateUser(ctx, u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// overlay copies key from body into dst when it was sent.
func overlay(body *RequestBodyParser, key string, dst *string) {
	if body.Has(key) {
		*dst = body.Get(key)
	}
}

// Profile

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	p, err := s.ledger.GetProfile(ctx, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProfile sets timezone, currency and monthly budget. An empty
// monthly_budget clears the budget.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	p, err := s.ledger.GetProfile(ctx, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	overlay(body, "timezone", &p.Timezone)
	overlay(body, "currency", &p.Currency)
	if body.Has("monthly_budget") {
		budget, err := parseBudget(body.Get("monthly_budget"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.MonthlyBudget = budget
	}

	p, err = s.ledger.UpdateProfile(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func parseBudget(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := core.ParseAmount(s)
	if err != nil {
		v := core.NewValidationError()
		v.Add("monthly_budget", "monthly budget must be a positive amount")
		return decimal.NullDecimal{}, v
	}
	return decimal.NewNullDecimal(d), nil
}

// Categories

// handleListCategories returns the categories grouped by type. With ?type=
// only that group is filled.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	raw := strings.TrimSpace(r.URL.Query().Get("type"))
	if raw == "" {
		groups, err := s.ledger.GroupedCategories(ctx, userID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
		return
	}

	t, err := core.ParseCategoryType(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cats, err := s.ledger.ListCategories(ctx, userID(r), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cats == nil {
		cats = []core.Category{}
	}
	groups := services.CategoryGroups{Expense: []core.Category{}, Income: []core.Category{}}
	if t == core.Income {
		groups.Income = cats
	} else {
		groups.Expense = cats
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	c, err := s.ledger.GetCategory(ctx, userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	c := core.Category{UserID: userID(r)}
	applyCategory(body, &c)
	c, err := s.ledger.CreateCategory(ctx, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	c, err := s.ledger.GetCategory(ctx, userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applyCategory(body, &c)
	c, err = s.ledger.UpdateCategory(ctx, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// applyCategory copies the sent category fields. Type names are accepted in
// either language; unknown ones are left for validation to reject.
func applyCategory(body *RequestBodyParser, c *core.Category) {
	overlay(body, "name", &c.Name)
	overlay(body, "description", &c.Description)
	overlay(body, "color", &c.Color)
	overlay(body, "icon", &c.Icon)
	if body.Has("type") {
		raw := body.Get("type")
		if t, err := core.ParseCategoryType(raw); err == nil {
			c.Type = t
		} else {
			c.Type = core.CategoryType(raw)
		}
	}
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	if err := s.ledger.DeleteCategory(ctx, userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Operations

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.OperationFilter{
		Start: ParseDateParam(q, "start_date"),
		End:   ParseDateParam(q, "end_date"),
		Page:  ParsePage(q),
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(q.Get("category")), 10, 64); err == nil && id > 0 {
		f.CategoryID = id
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	list, err := s.ledger.ListOperations(ctx, userID(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	o, err := s.ledger.GetOperation(ctx, userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCreateOperation(w http.ResponseWriter, r *http.Request) {
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	o := core.Operation{UserID: userID(r)}
	if err := applyOperation(body, &o); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	o, err := s.ledger.CreateOperation(ctx, o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleUpdateOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	o, err := s.ledger.GetOperation(ctx, userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := applyOperation(body, &o); err != nil {
		writeError(w, r, err)
		return
	}
	o, err = s.ledger.UpdateOperation(ctx, o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// applyOperation copies the sent operation fields. A missing or empty
// category_id leaves the operation uncategorized. Unparsable amount, date
// or category are reported together as a validation error.
func applyOperation(body *RequestBodyParser, o *core.Operation) error {
	v := core.NewValidationError()

	if body.Has("amount") || o.ID == 0 {
		amount, err := core.ParseAmount(body.Get("amount"))
		if err != nil {
			v.Add("amount", "amount must be a positive number with at most two decimals")
		}
		o.Amount = amount
	}
	if body.Has("date") || o.ID == 0 {
		d, err := core.ParseDate(body.Get("date"))
		if err != nil {
			v.Add("date", "date is required (YYYY-MM-DD)")
		}
		o.Date = d
	}
	if body.Has("category_id") {
		o.CategoryID = nil
		if raw := body.Get("category_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				v.Add("category_id", "category_id must be a category id")
			} else {
				o.CategoryID = &id
			}
		}
	}
	overlay(body, "description", &o.Description)
	return v.OrNil()
}

func (s *Server) handleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	if err := s.ledger.DeleteOperation(ctx, userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
