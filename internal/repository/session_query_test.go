package repository

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/speechcoach/internal/model"
)

func TestBuildSessionWhere_OwnerOnly(t *testing.T) {
	where, args := buildSessionWhere(model.SessionFilter{UserID: "user-1"})

	if where != " WHERE s.user_id = $1" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 1 || args[0] != "user-1" {
		t.Errorf("args = %v, want [user-1]", args)
	}
}

func TestBuildSessionWhere_AllFilters(t *testing.T) {
	from := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	where, args := buildSessionWhere(model.SessionFilter{
		UserID:   "user-1",
		Status:   model.SessionStatusAnalyzed,
		DateFrom: &from,
		DateTo:   &to,
		Search:   "  pace  ",
	})

	want := " WHERE s.user_id = $1 AND s.status = $2 AND s.date >= $3 AND s.date < $4" +
		" AND (s.transcription ILIKE $5 OR s.pacing_analysis ILIKE $5)"
	if where != want {
		t.Errorf("where =\n%q\nwant\n%q", where, want)
	}
	if len(args) != 5 {
		t.Fatalf("len(args) = %d, want 5", len(args))
	}
	if args[1] != "analyzed" {
		t.Errorf("status arg = %v, want analyzed", args[1])
	}
	// date_from は日の始まりに切り詰められる
	if got := args[2].(time.Time); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date_from arg = %v", got)
	}
	// date_to は翌日0時未満として両端を含む
	if got := args[3].(time.Time); !got.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date_to arg = %v", got)
	}
	if args[4] != "%pace%" {
		t.Errorf("search arg = %v, want %%pace%%", args[4])
	}
}

func TestBuildSessionWhere_EscapesLikeWildcards(t *testing.T) {
	_, args := buildSessionWhere(model.SessionFilter{UserID: "u", Search: `50%_off\`})

	want := `%50\%\_off\\%`
	if args[1] != want {
		t.Errorf("search arg = %q, want %q", args[1], want)
	}
}

func TestBuildSessionWhere_BlankSearchIgnored(t *testing.T) {
	where, args := buildSessionWhere(model.SessionFilter{UserID: "u", Search: "   "})
	if strings.Contains(where, "ILIKE") || len(args) != 1 {
		t.Errorf("blank search should add no clause: where=%q args=%v", where, args)
	}
}

func TestBuildSessionOrderBy(t *testing.T) {
	tests := []struct {
		ordering model.SessionOrdering
		want     string
	}{
		{model.DefaultSessionOrdering, " ORDER BY s.date DESC, s.id DESC"},
		{model.SessionOrdering{Field: model.OrderByDuration}, " ORDER BY s.duration ASC, s.id ASC"},
		{model.SessionOrdering{Field: model.OrderByFillerCount, Desc: true}, " ORDER BY s.filler_count DESC, s.id DESC"},
		{model.SessionOrdering{Field: model.OrderByConfidenceScore}, " ORDER BY s.confidence_score ASC, s.id ASC"},
		{model.SessionOrdering{Field: "id; DROP TABLE users"}, " ORDER BY s.date ASC, s.id ASC"},
	}

	for _, tt := range tests {
		if got := buildSessionOrderBy(tt.ordering); got != tt.want {
			t.Errorf("buildSessionOrderBy(%+v) = %q, want %q", tt.ordering, got, tt.want)
		}
	}
}

func TestBuildPatchSet_OnlyProvidedFields(t *testing.T) {
	status := model.SessionStatusArchived
	filler := 3
	set, args := buildPatchSet(model.SessionPatch{Status: &status, FillerCount: &filler}, 2)

	want := "filler_count = $3, status = $4, updated_at = now()"
	if set != want {
		t.Errorf("set = %q, want %q", set, want)
	}
	if len(args) != 2 || args[0] != 3 || args[1] != "archived" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildPatchSet_ConfidenceNull(t *testing.T) {
	set, args := buildPatchSet(model.SessionPatch{ConfidenceSet: true}, 0)

	if set != "confidence_score = $1, updated_at = now()" {
		t.Errorf("set = %q", set)
	}
	if v, ok := args[0].(sql.NullFloat64); !ok || v.Valid {
		t.Errorf("confidence arg = %#v, want NULL", args[0])
	}
}

func TestBuildPatchSet_EmptyPatchStillTouchesUpdatedAt(t *testing.T) {
	set, args := buildPatchSet(model.SessionPatch{}, 2)
	if set != "updated_at = now()" || len(args) != 0 {
		t.Errorf("set = %q args = %v", set, args)
	}
}
