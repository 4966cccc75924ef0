package infra

import (
	"errors"
	"strings"
	"testing"

	"refiner/internal/sqlinline"
)

func TestExtractMarker(t *testing.T) {
	marker, stmt, err := ExtractMarker(sqlinline.QPing)
	if err != nil {
		t.Fatalf("ExtractMarker: %v", err)
	}
	if marker != "52b8f0e7-1c3d-4a96-b7e2-8d4f6a0c1b35" {
		t.Fatalf("marker = %q", marker)
	}
	if strings.TrimSpace(stmt) != "select 1;" {
		t.Fatalf("statement = %q", stmt)
	}
}

func TestExtractMarkerRejectsUntaggedQuery(t *testing.T) {
	tests := []string{
		"select 1;",
		"--sql not-a-uuid\nselect 1;",
		"   ",
	}
	for _, q := range tests {
		if _, _, err := ExtractMarker(q); err == nil {
			t.Fatalf("ExtractMarker(%q) succeeded, want error", q)
		}
	}
	if _, _, err := ExtractMarker("select 1;"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
}

func TestAllProjectQueriesCarryMarkers(t *testing.T) {
	queries := map[string]string{
		"QInsertProject":        sqlinline.QInsertProject,
		"QSelectProjectByID":    sqlinline.QSelectProjectByID,
		"QSelectProjectForUser": sqlinline.QSelectProjectForUser,
		"QMergeProjectData":     sqlinline.QMergeProjectData,
		"QTransitionProject":    sqlinline.QTransitionProject,
		"QSelectStaleProjects":  sqlinline.QSelectStaleProjects,
		"QPing":                 sqlinline.QPing,
	}
	seen := map[string]string{}
	for name, q := range queries {
		marker, _, err := ExtractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if prev, ok := seen[marker]; ok {
			t.Fatalf("%s reuses marker of %s", name, prev)
		}
		seen[marker] = name
	}
}
