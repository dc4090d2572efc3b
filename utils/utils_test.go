package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paging struct {
	Offset int `search:"offset"`
}

type memberSearch struct {
	paging
	Username *string `search:"username"`
	TeamName *string `search:"teamName"`
	AgeGoe   *int    `search:"ageGoe"`
	AgeLoe   *int    `search:"ageLoe"`
	Ignored  string  `search:"-"`
	Plain    bool
	hidden   int
}

func TestStructToMap(t *testing.T) {
	age := 35
	team := "teamB"

	m, err := StructToMap(memberSearch{AgeGoe: &age, TeamName: &team, Ignored: "x", hidden: 1}, "search")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"offset":   0,
		"teamName": "teamB",
		"ageGoe":   35,
		"Plain":    false,
	}, m)
}

func TestStructToMap_Pointer(t *testing.T) {
	name := "member1"
	m, err := StructToMap(&memberSearch{Username: &name}, "search")
	require.NoError(t, err)
	assert.Equal(t, "member1", m["username"])
	assert.NotContains(t, m, "ageGoe")
}

func TestStructToMap_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"nil_pointer", (*memberSearch)(nil)},
		{"not_a_struct", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StructToMap(tt.input, "search")
			assert.Error(t, err)
		})
	}
}

type memberDto struct {
	Username string `json:"username"`
	Age      int    `json:"age"`
}

func TestMapToStruct(t *testing.T) {
	dto, err := MapToStruct[memberDto](map[string]any{"username": "member1", "age": int64(10), "team_id": 1})
	require.NoError(t, err)
	assert.Equal(t, memberDto{Username: "member1", Age: 10}, dto)

	ptr, err := MapToStruct[*memberDto](map[string]any{"username": "member2"})
	require.NoError(t, err)
	assert.Equal(t, "member2", ptr.Username)

	_, err = MapToStruct[memberDto](nil)
	assert.Error(t, err)

	_, err = MapToStruct[int](map[string]any{})
	assert.Error(t, err)
}
