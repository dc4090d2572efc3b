package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core/schema"
)

// ErrNotEvaluable is returned by Match for filters that only the store can
// evaluate, such as subqueries or references to other aliases.
var ErrNotEvaluable = errors.New("filter cannot be evaluated in memory")

var (
	errNilOperand     = errors.New("comparison value cannot be null, use IsNull or NotNull")
	errEmptyList      = errors.New("list operand cannot be empty")
	errUnexpectedList = errors.New("expected a single value, got a list")
	errTextOperand    = errors.New("pattern operand must be a string")
)

// Match evaluates a bound filter against a record in memory, the way the
// store would. A nil filter matches every record. Columns must belong to the
// record's entity (alias equal to the entity name, or no alias).
func Match(f Filter, r *Record) (bool, error) {
	if IsEmpty(f) {
		return true, nil
	}
	switch x := f.(type) {
	case *Predicate:
		return matchPredicate(x, r)
	case *FilterGroup:
		switch x.op {
		case schema.LogicalAnd:
			for _, c := range x.children {
				passes, err := Match(c, r)
				if err != nil || !passes {
					return false, err
				}
			}
			return true, nil
		case schema.LogicalOr:
			for _, c := range x.children {
				passes, err := Match(c, r)
				if err != nil {
					return false, err
				}
				if passes {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("unsupported logical operator for in-memory evaluation: %s", x.op)
		}
	case *Negation:
		passes, err := Match(x.inner, r)
		return !passes, err
	}
	return false, fmt.Errorf("%w: %T", ErrNotEvaluable, f)
}

func matchPredicate(p *Predicate, r *Record) (bool, error) {
	fieldValue, err := operandValue(p.target, r)
	if err != nil {
		return false, err
	}

	switch p.op {
	case OpIsNull:
		return fieldValue == nil, nil
	case OpNotNull:
		return fieldValue != nil, nil
	}

	if p.op.IsList() {
		l, ok := p.operand.(*Literal)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrNotEvaluable, p.operand)
		}
		values, _ := l.value.([]any)
		if fieldValue == nil {
			return false, nil
		}
		found := false
		for _, v := range values {
			if equalValues(fieldValue, v) {
				found = true
				break
			}
		}
		return found == (p.op == OpIn), nil
	}

	condValue, err := operandValue(p.operand, r)
	if err != nil {
		return false, err
	}
	if fieldValue == nil || condValue == nil {
		// Comparisons with NULL are never true.
		return false, nil
	}

	switch p.op {
	case OpEq:
		return equalValues(fieldValue, condValue), nil
	case OpNeq:
		return !equalValues(fieldValue, condValue), nil
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareValues(fieldValue, condValue)
		if !ok {
			return false, fmt.Errorf("unsupported type for %s comparison between %T and %T", p.op, fieldValue, condValue)
		}
		switch p.op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpContains, OpStartsWith:
		fvStr, okF := fieldValue.(string)
		condStr, okC := condValue.(string)
		if !okF || !okC {
			return false, fmt.Errorf("unsupported type for %s comparison between %T and %T", p.op, fieldValue, condValue)
		}
		// LIKE is case-insensitive for ASCII in SQLite.
		fvStr, condStr = strings.ToLower(fvStr), strings.ToLower(condStr)
		if p.op == OpContains {
			return strings.Contains(fvStr, condStr), nil
		}
		return strings.HasPrefix(fvStr, condStr), nil
	}
	return false, fmt.Errorf("unsupported operator for in-memory evaluation: %s", p.op)
}

func operandValue(e Expr, r *Record) (any, error) {
	switch x := e.(type) {
	case *Literal:
		return x.value, nil
	case *Column:
		if x.alias != "" && x.alias != r.entity {
			return nil, fmt.Errorf("%w: alias %s", ErrNotEvaluable, x.alias)
		}
		return r.values[x.field], nil
	case *AliasedExpr:
		return operandValue(x.inner, r)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, e)
}

func equalValues(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return a == b
}
