package query

import (
	"github.com/google/uuid"

	"strata-backend/internal/accountability"
	"strata-backend/internal/policy"
	"strata-backend/internal/schema"
	"strata-backend/internal/store"
)

// testRegistry builds the catalog shared by the compiler tests: articles
// with an author chain (author -> profile -> avatar), tags through a pivot
// table, and attachments through a polymorphic pivot.
func testRegistry() *schema.Registry {
	reg := schema.NewRegistry()

	collections := []*schema.Collection{
		{
			Name:       "Article",
			Table:      "articles",
			PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []schema.Field{
				{Name: "id", Type: "uuid"},
				{Name: "title", Type: "string"},
				{Name: "body", Type: "text"},
				{Name: "status", Type: "string"},
				{Name: "author_id", Type: "uuid"},
				{Name: "views", Type: "int"},
				{Name: "published_at", Type: "timestamp"},
				{Name: "location", Type: "point"},
				{Name: "tenant_id", Type: "uuid"},
				{Name: "created_at", Type: "timestamp", Auto: "create"},
				{Name: "updated_at", Type: "timestamp", Auto: "update"},
			},
		},
		{
			Name:       "User",
			Table:      "users",
			PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []schema.Field{
				{Name: "id", Type: "uuid"},
				{Name: "email", Type: "string"},
				{Name: "name", Type: "string"},
			},
		},
		{
			Name:       "Profile",
			Table:      "profiles",
			PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []schema.Field{
				{Name: "id", Type: "uuid"},
				{Name: "user_id", Type: "uuid"},
				{Name: "bio", Type: "text"},
				{Name: "avatar_id", Type: "uuid"},
			},
		},
		{
			Name:       "Avatar",
			Table:      "avatars",
			PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []schema.Field{
				{Name: "id", Type: "uuid"},
				{Name: "url", Type: "string"},
			},
		},
		{
			Name:       "Tag",
			Table:      "tags",
			PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []schema.Field{
				{Name: "id", Type: "uuid"},
				{Name: "name", Type: "string"},
			},
		},
		{
			Name:       "Attachment",
			Table:      "attachments",
			PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []schema.Field{
				{Name: "id", Type: "uuid"},
				{Name: "filename", Type: "string"},
			},
		},
	}

	relations := []*schema.Relation{
		{Name: "author", Type: "belongs_to", Source: "Article", Target: "User", SourceKey: "author_id"},
		{Name: "profile", Type: "has_many", Source: "User", Target: "Profile", TargetKey: "user_id"},
		{Name: "avatar", Type: "belongs_to", Source: "Profile", Target: "Avatar", SourceKey: "avatar_id"},
		{Name: "tags", Type: "many_to_many", Source: "Article", Target: "Tag",
			JoinTable: "article_tags", SourceJoinKey: "article_id", TargetJoinKey: "tag_id"},
		{Name: "attachments", Type: "polymorphic", Source: "Article", Target: "Attachment",
			JoinTable: "attachables", SourceJoinKey: "item_id", TargetJoinKey: "attachment_id", TypeField: "item_type"},
	}

	reg.Load(collections, relations)
	return reg
}

func testCompiler() *Compiler {
	return NewCompiler(testRegistry(), store.NewDialect("postgres"))
}

// accWithGrants builds an authenticated accountability holding the given
// grants under a non-admin role.
func accWithGrants(grants map[string]policy.Grant) *accountability.Accountability {
	userID := uuid.MustParse("3d2a0a46-97a8-4f2e-8f12-6f8c1d9e0a11")
	roleID := uuid.MustParse("91b7c2fe-5b71-41d4-9d55-2c4f3a8e7b02")
	return &accountability.Accountability{
		UserID: &userID,
		Role:   &policy.Role{ID: roleID, Name: "editor"},
		Policy: &policy.ResolvedPolicy{
			RoleID:   roleID,
			RoleName: "editor",
			Grants:   grants,
		},
	}
}

func adminAcc() *accountability.Accountability {
	userID := uuid.MustParse("a6f0d9c8-1234-4cde-9f00-aaaaaaaaaaaa")
	roleID := uuid.MustParse("b7e1eada-5678-4f00-8100-bbbbbbbbbbbb")
	return &accountability.Accountability{
		UserID: &userID,
		Role:   &policy.Role{ID: roleID, Name: "admin"},
		Policy: &policy.ResolvedPolicy{RoleID: roleID, RoleName: "admin"},
	}
}
