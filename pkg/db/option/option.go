package option

import (
	"fmt"
	"regexp"

	"github.com/smallbiznis/paylink/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption transforms a gorm statement before execution.
type QueryOption interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type optionFunc func(stmt *gorm.DB) *gorm.DB

func (f optionFunc) Apply(stmt *gorm.DB) *gorm.DB { return f(stmt) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ApplyOperator adds a single comparison to the WHERE clause. Fields that
// are not plain lowercase identifiers are ignored.
func ApplyOperator(cond Condition) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		if !identRe.MatchString(cond.Field) {
			return stmt
		}
		switch cond.Operator {
		case EQ, GT, GTE, LT, LTE:
		default:
			return stmt
		}
		return stmt.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	})
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithQuerySortBy builds a QuerySortBy from request fields.
func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

// WithSortBy orders the result set. Fields outside the allow list fall back
// to created_at desc.
func WithSortBy(sort QuerySortBy) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		field := sort.SortBy
		if field == "" || !sort.Allow[field] || !identRe.MatchString(field) {
			field = "created_at"
		}
		direction := "desc"
		if sort.OrderBy == "asc" {
			direction = "asc"
		}
		return stmt.Order(fmt.Sprintf("%s %s, id %s", field, direction, direction))
	})
}

// ApplyPagination applies cursor pagination. Queries are expected to order
// by (created_at desc, id desc); one extra row is fetched so callers can
// detect whether more pages remain.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		limit := page.PageSize
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if page.PageToken != "" {
			cursor, err := pagination.DecodeCursor(page.PageToken)
			if err == nil && cursor != nil && cursor.CreatedAt != "" && cursor.ID != "" {
				stmt = stmt.Where(
					"(created_at < ?) OR (created_at = ? AND id < ?)",
					cursor.CreatedAt,
					cursor.CreatedAt,
					cursor.ID,
				)
			}
		}

		return stmt.Limit(limit + 1)
	})
}
