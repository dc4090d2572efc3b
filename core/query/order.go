package query

import "fmt"

// SortDirection defines the direction of sorting.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// NullsOrder places NULL values within an order key.
type NullsOrder string

const (
	// NullsDefault is replaced at assembly by NullsLast for ascending keys and
	// NullsFirst for descending keys.
	NullsDefault NullsOrder = ""
	NullsFirst   NullsOrder = "first"
	NullsLast    NullsOrder = "last"
)

// OrderKey is one entry of an ORDER BY clause.
type OrderKey struct {
	expr      Expr
	direction SortDirection
	nulls     NullsOrder
}

// Asc orders by e ascending.
func Asc(e Expr) OrderKey { return OrderKey{expr: e, direction: SortDirectionAsc} }

// Desc orders by e descending.
func Desc(e Expr) OrderKey { return OrderKey{expr: e, direction: SortDirectionDesc} }

// NullsFirst returns a copy of k that sorts NULL before any value.
func (k OrderKey) NullsFirst() OrderKey {
	k.nulls = NullsFirst
	return k
}

// NullsLast returns a copy of k that sorts NULL after any value.
func (k OrderKey) NullsLast() OrderKey {
	k.nulls = NullsLast
	return k
}

func (k OrderKey) Expr() Expr               { return k.expr }
func (k OrderKey) Direction() SortDirection { return k.direction }
func (k OrderKey) Nulls() NullsOrder        { return k.nulls }

func (k OrderKey) String() string {
	if k.nulls == NullsDefault {
		return fmt.Sprintf("%s %s", k.expr, k.direction)
	}
	return fmt.Sprintf("%s %s nulls %s", k.expr, k.direction, k.nulls)
}

// resolved fills in the null placement.
func (k OrderKey) resolved() OrderKey {
	if k.direction == "" {
		k.direction = SortDirectionAsc
	}
	if k.nulls == NullsDefault {
		if k.direction == SortDirectionDesc {
			k.nulls = NullsFirst
		} else {
			k.nulls = NullsLast
		}
	}
	return k
}
