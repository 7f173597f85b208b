package core

// OperationQuery selects a user's operations. Zero values mean "no bound".
type OperationQuery struct {
	Start       Date
	End         Date
	CategoryIDs []int64
	Type        CategoryType
	Limit       int
	Offset      int
}

// Matches applies the query to a single operation in memory.
func (q OperationQuery) Matches(op Operation) bool {
	if !q.Start.IsZero() && op.Date.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && op.Date.After(q.End) {
		return false
	}
	if q.Type != "" && op.Type() != q.Type {
		return false
	}
	if len(q.CategoryIDs) > 0 {
		if op.CategoryID == nil {
			return false
		}
		found := false
		for _, id := range q.CategoryIDs {
			if id == *op.CategoryID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// Pages returns the number of pages needed for Total items.
func (p Page[T]) Pages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
