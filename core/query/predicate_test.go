package query

import (
	"testing"

	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_AbsentOperands(t *testing.T) {
	var missing *int
	tests := []struct {
		name   string
		filter Filter
	}{
		{"nil value", Eq("member.age", nil)},
		{"nil pointer", Gte("member.age", missing)},
		{"literal of nil pointer", Eq("member.age", Val(missing))},
		{"literal of nil", Compare(Col("member.age"), OpLt, Val(nil))},
		{"empty list", In("member.id", []int{})},
		{"nil target", Compare(nil, OpEq, 1)},
		{"between without bounds", Between("member.age", nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, tt.filter)
		})
	}
}

func TestCompare_Operands(t *testing.T) {
	age := 30
	assert.Equal(t, "member.age gte 30", Gte("member.age", &age).String())
	assert.Equal(t, "member.age null", IsNull("member.age").String())
	assert.Equal(t, "member.age notnull", NotNull("member.age").String())
	assert.Equal(t, "member.id in [2]", In("member.id", 2).String())
	assert.Equal(t, "member.teamId eq team.id", EqCol("member.teamId", "team.id").String())
	assert.Equal(t, "member.age gte 20", Between("member.age", 20, nil).String())

	p, ok := Lt("member.age", 28).(*Predicate)
	require.True(t, ok)
	assert.Equal(t, OpLt, p.Operator())
	assert.Equal(t, 28, p.Value())
	assert.Equal(t, "member.age", p.Target().String())
}

func TestCompose(t *testing.T) {
	a, b, c := Eq("x", 1), Eq("y", 2), Eq("z", 3)

	assert.Nil(t, And())
	assert.Nil(t, And(nil, nil))
	assert.Same(t, a, And(nil, a))

	flat := And(And(a, b), c)
	g, ok := flat.(*FilterGroup)
	require.True(t, ok)
	assert.Equal(t, schema.LogicalAnd, g.Operator())
	assert.Len(t, g.Filters(), 3)

	mixed := And(Or(a, b), c)
	g = mixed.(*FilterGroup)
	assert.Len(t, g.Filters(), 2)
	assert.Equal(t, "((x eq 1 or y eq 2) and z eq 3)", mixed.String())
}

func TestNot(t *testing.T) {
	a := Eq("x", 1)
	assert.Nil(t, Not(nil))
	assert.Equal(t, "not x eq 1", Not(a).String())
	assert.Same(t, a, Not(Not(a)))
}

func TestIsEmpty(t *testing.T) {
	var p *Predicate
	var g *FilterGroup
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(p))
	assert.True(t, IsEmpty(g))
	assert.True(t, IsEmpty(&FilterGroup{op: schema.LogicalAnd}))
	assert.False(t, IsEmpty(Eq("x", 1)))
}

func TestFilterHasAggregate(t *testing.T) {
	assert.False(t, filterHasAggregate(Gt("member.age", 3)))
	assert.True(t, filterHasAggregate(Compare(Avg(Col("member.age")), OpGt, 3)))
	assert.True(t, filterHasAggregate(Not(Or(Eq("x", 1), Compare(CountAll(), OpGt, 1)))))
}
