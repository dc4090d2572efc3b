package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/schema"
)

// ProjectionKind identifies the strategy a projection maps rows with.
type ProjectionKind string

const (
	ProjectionConstructor ProjectionKind = "constructor"
	ProjectionFields      ProjectionKind = "fields"
	ProjectionTuple       ProjectionKind = "tuple"
	ProjectionScalar      ProjectionKind = "scalar"
	ProjectionEntity      ProjectionKind = "entity"
)

// Projection declares the shape of one output record and the expressions
// that fill it. The strategy is fixed when the projection is created and
// its shape is checked once, at assembly.
type Projection interface {
	Kind() ProjectionKind
	bind(s *scope) (*binding, error)
}

// binding is a projection checked against a scope: the select list and the
// row mapper for it.
type binding struct {
	kind       ProjectionKind
	exprs      []Expr
	resultType reflect.Type
	mapRow     func(Row) (any, error)
}

// Constructor projects each row by calling fn with the selected values in
// order. fn must take exactly len(exprs) parameters whose types accept the
// expression types and must return T, or T and an error.
func Constructor[T any](fn any, exprs ...Expr) Projection {
	return &constructorProjection{fn: fn, exprs: exprs, target: reflect.TypeFor[T]()}
}

type constructorProjection struct {
	fn     any
	exprs  []Expr
	target reflect.Type
}

func (p *constructorProjection) Kind() ProjectionKind { return ProjectionConstructor }

func (p *constructorProjection) bind(s *scope) (*binding, error) {
	name := p.target.String()
	fv := reflect.ValueOf(p.fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, core.NewProjectionMismatch(name, "constructor must be a function, got %T", p.fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, core.NewProjectionMismatch(name, "variadic constructors are not supported")
	}
	if ft.NumIn() != len(p.exprs) {
		return nil, core.NewProjectionMismatch(name, "constructor takes %d arguments, %d expressions supplied", ft.NumIn(), len(p.exprs))
	}
	returnsErr := false
	switch {
	case ft.NumOut() == 1 && ft.Out(0).AssignableTo(p.target):
	case ft.NumOut() == 2 && ft.Out(0).AssignableTo(p.target) && ft.Out(1) == errorType:
		returnsErr = true
	default:
		return nil, core.NewProjectionMismatch(name, "constructor must return %s or (%s, error)", name, name)
	}

	bound, err := s.resolveAll(p.exprs)
	if err != nil {
		return nil, err
	}
	params := make([]reflect.Type, len(bound))
	for i, e := range bound {
		params[i] = ft.In(i)
		if !typeAccepts(params[i], ExprType(e)) {
			return nil, core.NewProjectionMismatch(name, "argument %d is %s but %s has type %s", i, params[i], e, ExprType(e))
		}
	}

	return &binding{
		kind:       ProjectionConstructor,
		exprs:      bound,
		resultType: p.target,
		mapRow: func(row Row) (any, error) {
			args := make([]reflect.Value, len(params))
			for i, pt := range params {
				v, err := convertValue(row[i], pt)
				if err != nil {
					return nil, fmt.Errorf("argument %d: %w", i, err)
				}
				args[i] = v
			}
			out := fv.Call(args)
			if returnsErr && !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			return resultValue(out[0], p.target), nil
		},
	}, nil
}

// Fields projects each row into a struct T (or *T) by assigning every
// selected value to the field of the same name. A field is matched by its
// `query:"name"` tag, else by its Go name ignoring case. Expressions other
// than columns need a name given with As. Expressions that match no field are
// dropped from the select list; fields no expression matches keep their zero
// value.
func Fields[T any](exprs ...Expr) Projection {
	return &fieldsProjection{exprs: exprs, target: reflect.TypeFor[T]()}
}

type fieldsProjection struct {
	exprs  []Expr
	target reflect.Type
}

func (p *fieldsProjection) Kind() ProjectionKind { return ProjectionFields }

func (p *fieldsProjection) bind(s *scope) (*binding, error) {
	name := p.target.String()
	structType := p.target
	isPtr := structType.Kind() == reflect.Pointer
	if isPtr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return nil, core.NewProjectionMismatch(name, "field projection needs a struct target")
	}

	index := fieldIndex(structType)
	var (
		kept    []Expr
		targets [][]int
		types   []reflect.Type
	)
	for _, e := range p.exprs {
		exprName := ExprName(e)
		if exprName == "" {
			return nil, core.NewProjectionMismatch(name, "expression %s has no name, wrap it with As", e)
		}
		sf, ok := index.lookup(exprName)
		if !ok {
			continue
		}
		bound, err := s.resolve(e)
		if err != nil {
			return nil, err
		}
		if !typeAccepts(sf.Type, ExprType(bound)) {
			return nil, core.NewProjectionMismatch(name, "field %s is %s but %s has type %s", sf.Name, sf.Type, e, ExprType(bound))
		}
		kept = append(kept, bound)
		targets = append(targets, sf.Index)
		types = append(types, sf.Type)
	}
	if len(kept) == 0 {
		return nil, core.NewProjectionMismatch(name, "no expression matches a field")
	}

	return &binding{
		kind:       ProjectionFields,
		exprs:      kept,
		resultType: p.target,
		mapRow: func(row Row) (any, error) {
			out := reflect.New(structType).Elem()
			for i, idx := range targets {
				v, err := convertValue(row[i], types[i])
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", structType.FieldByIndex(idx).Name, err)
				}
				out.FieldByIndex(idx).Set(v)
			}
			if isPtr {
				return out.Addr().Interface(), nil
			}
			return out.Interface(), nil
		},
	}, nil
}

type structIndex struct {
	tagged map[string]reflect.StructField
	named  map[string]reflect.StructField
}

func fieldIndex(t reflect.Type) structIndex {
	idx := structIndex{tagged: map[string]reflect.StructField{}, named: map[string]reflect.StructField{}}
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		if tag, ok := sf.Tag.Lookup("query"); ok {
			tag = strings.Split(tag, ",")[0]
			if tag == "-" {
				continue
			}
			if tag != "" {
				idx.tagged[tag] = sf
				continue
			}
		}
		idx.named[strings.ToLower(sf.Name)] = sf
	}
	return idx
}

func (i structIndex) lookup(name string) (reflect.StructField, bool) {
	if sf, ok := i.tagged[name]; ok {
		return sf, true
	}
	sf, ok := i.named[strings.ToLower(name)]
	return sf, ok
}

// TupleOf projects each row into a *Tuple of the selected values.
func TupleOf(exprs ...Expr) Projection { return &tupleProjection{exprs: exprs} }

type tupleProjection struct {
	exprs []Expr
}

func (p *tupleProjection) Kind() ProjectionKind { return ProjectionTuple }

func (p *tupleProjection) bind(s *scope) (*binding, error) {
	if len(p.exprs) == 0 {
		return nil, core.NewProjectionMismatch("Tuple", "at least one expression is required")
	}
	bound, err := s.resolveAll(p.exprs)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(bound))
	names := make([]string, len(bound))
	for i, e := range bound {
		paths[i] = e.String()
		names[i] = ExprName(e)
	}
	return &binding{
		kind:       ProjectionTuple,
		exprs:      bound,
		resultType: tupleType,
		mapRow: func(row Row) (any, error) {
			return &Tuple{paths: paths, names: names, values: append([]any(nil), row...)}, nil
		},
	}, nil
}

// Scalar projects each row into the single selected value, converted to T.
func Scalar[T any](e Expr) Projection {
	return &scalarProjection{expr: e, target: reflect.TypeFor[T]()}
}

type scalarProjection struct {
	expr   Expr
	target reflect.Type
}

func (p *scalarProjection) Kind() ProjectionKind { return ProjectionScalar }

func (p *scalarProjection) bind(s *scope) (*binding, error) {
	bound, err := s.resolve(p.expr)
	if err != nil {
		return nil, err
	}
	if !typeAccepts(p.target, ExprType(bound)) {
		return nil, core.NewProjectionMismatch(p.target.String(), "%s has type %s", p.expr, ExprType(bound))
	}
	return &binding{
		kind:       ProjectionScalar,
		exprs:      []Expr{bound},
		resultType: p.target,
		mapRow: func(row Row) (any, error) {
			v, err := convertValue(row[0], p.target)
			if err != nil {
				return nil, err
			}
			return resultValue(v, p.target), nil
		},
	}, nil
}

// Entity projects each row into a *Record of the source entity. Every field
// of the source is selected, plus every field of each fetch-joined alias,
// which becomes available through Record.Related.
func Entity() Projection { return entityProjection{} }

type entityProjection struct{}

func (entityProjection) Kind() ProjectionKind { return ProjectionEntity }

func (entityProjection) bind(s *scope) (*binding, error) {
	type segment struct {
		alias  string
		entity *schema.EntityDefinition
		start  int
	}
	var (
		exprs    []Expr
		segments []segment
	)
	for _, alias := range append([]string{s.source}, s.fetch...) {
		entity := s.aliases[alias]
		segments = append(segments, segment{alias: alias, entity: entity, start: len(exprs)})
		for _, f := range entity.Fields {
			bound, err := s.resolve(&Column{alias: alias, field: f.Name})
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, bound)
		}
	}

	return &binding{
		kind:       ProjectionEntity,
		exprs:      exprs,
		resultType: recordType,
		mapRow: func(row Row) (any, error) {
			var root *Record
			for i, seg := range segments {
				values := make(map[string]any, len(seg.entity.Fields))
				empty := true
				for j, f := range seg.entity.Fields {
					v := row[seg.start+j]
					values[f.Name] = v
					if v != nil {
						empty = false
					}
				}
				if i == 0 {
					root = NewRecord(seg.entity.Name, values)
					continue
				}
				if empty {
					root.attach(seg.alias, nil)
					continue
				}
				root.attach(seg.alias, NewRecord(seg.entity.Name, values))
			}
			return root, nil
		},
	}, nil
}

var (
	errorType  = reflect.TypeFor[error]()
	tupleType  = reflect.TypeFor[*Tuple]()
	recordType = reflect.TypeFor[*Record]()
)

// typeAccepts reports whether a Go value of type t can hold values of the
// field type ft.
func typeAccepts(t reflect.Type, ft schema.FieldType) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Interface {
		return t.NumMethod() == 0
	}
	switch ft {
	case "":
		return true
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return t.Kind() == reflect.String
	case schema.FieldTypeBoolean:
		return t.Kind() == reflect.Bool
	case schema.FieldTypeInteger:
		return isIntKind(t.Kind()) || isFloatKind(t.Kind())
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return isFloatKind(t.Kind())
	}
	return false
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloatKind(k reflect.Kind) bool { return k == reflect.Float32 || k == reflect.Float64 }

// convertValue converts a normalized row value to t. NULL becomes the zero
// value of t, which is nil for pointer targets.
func convertValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := convertValue(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	from, to := rv.Kind(), t.Kind()
	numeric := (isIntKind(from) || isFloatKind(from)) && (isIntKind(to) || isFloatKind(to))
	if (numeric || from == to) && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
}

func resultValue(v reflect.Value, target reflect.Type) any {
	if target.Kind() == reflect.Interface {
		out := reflect.New(target).Elem()
		out.Set(v)
		return out.Interface()
	}
	return v.Interface()
}
