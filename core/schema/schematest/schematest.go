// Package schematest provides the member/team descriptor shared by tests and
// the demo.
package schematest

import "github.com/asaidimu/go-querykit/core/schema"

// TeamEntity returns the team entity: id, name and a one-to-many relation to
// its members.
func TeamEntity() *schema.EntityDefinition {
	return &schema.EntityDefinition{
		Name:       "team",
		PrimaryKey: "id",
		Fields: []*schema.FieldDefinition{
			{Name: "id", Type: schema.FieldTypeInteger},
			{Name: "name", Type: schema.FieldTypeString},
		},
		Relations: []*schema.RelationDefinition{
			{Name: "members", Target: "member", LocalField: "id", TargetField: "teamId"},
		},
		Search: []*schema.SearchFieldDefinition{
			{Name: "name", Path: "name", Operator: schema.SearchEq},
		},
	}
}

// MemberEntity returns the member entity. Age and team are optional.
func MemberEntity() *schema.EntityDefinition {
	return &schema.EntityDefinition{
		Name:       "member",
		PrimaryKey: "id",
		Fields: []*schema.FieldDefinition{
			{Name: "id", Type: schema.FieldTypeInteger},
			{Name: "username", Type: schema.FieldTypeString},
			{Name: "age", Type: schema.FieldTypeInteger, Nullable: true},
			{Name: "teamId", Column: "team_id", Type: schema.FieldTypeInteger, Nullable: true},
		},
		Relations: []*schema.RelationDefinition{
			{Name: "team", Target: "team", LocalField: "teamId", TargetField: "id"},
		},
		Search: []*schema.SearchFieldDefinition{
			{Name: "username", Path: "username", Operator: schema.SearchEq},
			{Name: "teamName", Path: "team.name", Operator: schema.SearchEq},
			{Name: "ageGoe", Path: "age", Operator: schema.SearchGte},
			{Name: "ageLoe", Path: "age", Operator: schema.SearchLte},
			{Name: "usernamePrefix", Path: "username", Operator: schema.SearchStartsWith},
			{Name: "ids", Path: "id", Operator: schema.SearchIn},
		},
	}
}

// Descriptor returns a descriptor holding team and member. It panics if the
// definitions are invalid.
func Descriptor() *schema.Descriptor {
	d, err := schema.NewDescriptor(TeamEntity(), MemberEntity())
	if err != nil {
		panic(err)
	}
	return d
}

// MemberSearch is a typed search condition over member.
type MemberSearch struct {
	Username *string `search:"username"`
	TeamName *string `search:"teamName"`
	AgeGoe   *int    `search:"ageGoe"`
	AgeLoe   *int    `search:"ageLoe"`
}
