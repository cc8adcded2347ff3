package query

import (
	"strings"
	"testing"

	"strata-backend/internal/store"
)

func TestParseSortString_RoundTrip(t *testing.T) {
	parsed := ParseSortString("-name,createdAt")
	explicit := []SortField{{Field: "name", Desc: true}, {Field: "createdAt"}}

	if len(parsed) != len(explicit) {
		t.Fatalf("expected %d terms, got %d", len(explicit), len(parsed))
	}
	for i := range parsed {
		if parsed[i] != explicit[i] {
			t.Fatalf("term %d: got %+v want %+v", i, parsed[i], explicit[i])
		}
	}
}

func TestParseSortString_IgnoresEmptyTerms(t *testing.T) {
	parsed := ParseSortString(" , -title ,, ")
	if len(parsed) != 1 || parsed[0].Field != "title" || !parsed[0].Desc {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestCompileSort_DottedPathSharesJoinPlan(t *testing.T) {
	c := testCompiler()
	jc := newJoinContext(c.reg, c.reg.GetCollection("Article"))
	pb := store.NewDialect("postgres").NewParamBuilder()

	terms, err := c.compileSort([]SortField{{Field: "author.profile.avatar.url", Desc: true}}, jc, pb, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 1 || terms[0].render(false) != "author_profile_avatar.url DESC" {
		t.Fatalf("unexpected sort terms: %+v", terms)
	}
	if !terms[0].joined {
		t.Fatal("dotted path must be marked as joined")
	}
	if jc.joinCount() != 3 {
		t.Fatalf("sort must register its joins, got %d", jc.joinCount())
	}
}

func TestCompileSort_UnknownFieldFallsBack(t *testing.T) {
	c := testCompiler()
	jc := newJoinContext(c.reg, c.reg.GetCollection("Article"))
	pb := store.NewDialect("postgres").NewParamBuilder()

	terms, err := c.compileSort([]SortField{{Field: "computed_rank"}}, jc, pb, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 1 || terms[0].render(false) != "articles.computed_rank ASC" {
		t.Fatalf("unknown field should fall back to a qualified reference: %+v", terms)
	}
}

func TestCompileSort_FallbackSanitizesIdentifier(t *testing.T) {
	c := testCompiler()
	jc := newJoinContext(c.reg, c.reg.GetCollection("Article"))
	pb := store.NewDialect("postgres").NewParamBuilder()

	terms, err := c.compileSort([]SortField{{Field: "rank; DROP TABLE articles"}}, jc, pb, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 0 {
		t.Fatalf("non-identifier fallback must be dropped: %+v", terms)
	}
}

func TestCompileSort_DistanceRequiresReferencePoint(t *testing.T) {
	c := testCompiler()
	jc := newJoinContext(c.reg, c.reg.GetCollection("Article"))
	pb := store.NewDialect("postgres").NewParamBuilder()

	_, err := c.compileSort([]SortField{{Field: "_distance"}}, jc, pb, &ReadOptions{})
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "INVALID_SORT" {
		t.Fatalf("expected INVALID_SORT without near point, got %v", err)
	}
}

func TestCompileSort_DistanceCompilesGeodesicExpr(t *testing.T) {
	c := testCompiler()
	jc := newJoinContext(c.reg, c.reg.GetCollection("Article"))
	pb := store.NewDialect("postgres").NewParamBuilder()

	terms, err := c.compileSort(
		[]SortField{{Field: "_distance"}}, jc, pb,
		&ReadOptions{Near: &GeoPoint{Lat: 12.97, Lng: 77.59}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 1 || !strings.Contains(terms[0].expr, "ST_Distance(articles.location::geography") {
		t.Fatalf("unexpected distance expr: %+v", terms)
	}
	if pb.Count() != 2 {
		t.Fatalf("expected lng and lat bound as params, got %d", pb.Count())
	}
}

func TestCompileSort_RelevanceNeedsSearchTerm(t *testing.T) {
	c := testCompiler()
	jc := newJoinContext(c.reg, c.reg.GetCollection("Article"))
	pb := store.NewDialect("postgres").NewParamBuilder()

	terms, err := c.compileSort([]SortField{{Field: "_relevance", Desc: true}}, jc, pb, &ReadOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 0 {
		t.Fatalf("relevance without a search term must be skipped: %+v", terms)
	}

	terms, err = c.compileSort(
		[]SortField{{Field: "_relevance", Desc: true}}, jc, pb,
		&ReadOptions{Search: "compiler", SearchFields: []string{"title", "body"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 1 || !strings.Contains(terms[0].expr, "ts_rank(") {
		t.Fatalf("unexpected relevance expr: %+v", terms)
	}
}

func TestCompileSort_SqliteSkipsPostgresOnlyTerms(t *testing.T) {
	reg := testRegistry()
	c := NewCompiler(reg, store.NewDialect("sqlite"))
	jc := newJoinContext(reg, reg.GetCollection("Article"))
	pb := store.NewDialect("sqlite").NewParamBuilder()

	terms, err := c.compileSort(
		[]SortField{{Field: "_distance"}, {Field: "title"}}, jc, pb,
		&ReadOptions{Near: &GeoPoint{Lat: 1, Lng: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 1 || terms[0].render(false) != "articles.title ASC" {
		t.Fatalf("distance must be skipped on sqlite: %+v", terms)
	}
}

func TestOrderTermRender_GroupedFoldsJoinedColumns(t *testing.T) {
	asc := orderTerm{expr: "tags.name", joined: true}
	desc := orderTerm{expr: "tags.name", desc: true, joined: true}
	base := orderTerm{expr: "articles.title", desc: true}

	if got := asc.render(true); got != "MIN(tags.name) ASC" {
		t.Fatalf("ascending joined term: %s", got)
	}
	if got := desc.render(true); got != "MAX(tags.name) DESC" {
		t.Fatalf("descending joined term: %s", got)
	}
	if got := base.render(true); got != "articles.title DESC" {
		t.Fatalf("base term must stay bare under grouping: %s", got)
	}
	if got := asc.render(false); got != "tags.name ASC" {
		t.Fatalf("ungrouped joined term must stay bare: %s", got)
	}
}
