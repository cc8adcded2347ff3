package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestQueryRows_MapsColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, title FROM articles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
			AddRow("a1", "First").
			AddRow("a2", "Second"))

	rows, err := QueryRows(context.Background(), db, "SELECT id, title FROM articles")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a1", rows[0]["id"])
	require.Equal(t, "Second", rows[1]["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRows_NormalizesByteTimestamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT created_at FROM articles").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).
			AddRow([]byte("2026-08-30T10:00:00Z")))

	rows, err := QueryRows(context.Background(), db, "SELECT created_at FROM articles")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	ts, ok := rows[0]["created_at"].(time.Time)
	require.True(t, ok, "byte timestamps should surface as time.Time, got %T", rows[0]["created_at"])
	require.Equal(t, 2026, ts.Year())
}

func TestQueryRow_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM articles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = QueryRow(context.Background(), db, "SELECT id FROM articles WHERE id = $1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExec_ReportsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM _sessions").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := Exec(context.Background(), db, "DELETE FROM _sessions WHERE expires_at <= $1", "2026-01-01")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParamBuilders(t *testing.T) {
	pg := NewDialect("postgres").NewParamBuilder()
	require.Equal(t, "$1", pg.Add("a"))
	require.Equal(t, "$2", pg.Add("b"))
	require.Equal(t, []any{"a", "b"}, pg.Params())

	sq := NewDialect("sqlite").NewParamBuilder()
	require.Equal(t, "?1", sq.Add("a"))
	require.Equal(t, "?2", sq.Add("b"))
}

func TestSQLiteInExprExpandsList(t *testing.T) {
	d := NewDialect("sqlite")
	pb := d.NewParamBuilder()
	expr := d.InExpr("status", pb, []any{"a", "b", "c"})
	require.Equal(t, "status IN (?1, ?2, ?3)", expr)
	require.Len(t, pb.Params(), 3)
}

func TestSQLiteRegexUnsupported(t *testing.T) {
	d := NewDialect("sqlite")
	require.Empty(t, d.RegexExpr("title", "?1"))
}
