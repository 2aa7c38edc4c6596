package option

import (
	"fmt"
	"strings"

	"cleanops/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed by a repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	GTE Operator = ">="
	LT  Operator = "<"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator ANDs each condition onto the query. Field is a trusted
// column name, never user input.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			db = db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		}
		return db
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" {
			column = "created_at"
		}
		if s.Allow != nil && !s.Allow[column] {
			return db
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

// LockingUpdate is a scope adding SELECT ... FOR UPDATE. Dialects without row
// locks (sqlite) drop the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// ApplyPagination orders by id descending and fetches one extra row so callers
// can tell whether another page exists. A cursor that does not decode is
// pagination.ErrInvalidCursor.
func ApplyPagination(p pagination.Pagination) (QueryOption, error) {
	after, err := p.After()
	if err != nil {
		return nil, err
	}

	return func(db *gorm.DB) *gorm.DB {
		// ids are decimal snowflakes stored as text, a shorter id is older
		if after != "" {
			db = db.Where("(LENGTH(id) < ? OR (LENGTH(id) = ? AND id < ?))", len(after), len(after), after)
		}

		return db.Order("LENGTH(id) DESC").Order("id DESC").Limit(p.Size() + 1)
	}, nil
}
