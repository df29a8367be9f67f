package domain

import (
	"testing"
	"time"
)

func record(title, start, end string) CurriculumRecord {
	return CurriculumRecord{
		Curriculum:     title,
		CurriculumType: "理论课",
		CourseCount:    2,
		Classroom:      "东一&nbsp;201",
		Start:          start,
		End:            end,
	}
}

func TestParseCourses(t *testing.T) {
	records := []CurriculumRecord{
		record("药理学", "2026-03-02 08:00:00", "2026-03-02 09:40:00"),
		record("skipped: no end", "2026-03-02 08:00:00", ""),
		record("skipped: bad start", "yesterday", "2026-03-02 09:40:00"),
	}

	courses := ParseCourses(records)
	if len(courses) != 1 {
		t.Fatalf("expected 1 course, got %d", len(courses))
	}

	c := courses[0]
	if c.Title != "药理学" {
		t.Errorf("title = %q", c.Title)
	}
	if c.Location != "东一201" {
		t.Errorf("expected &nbsp; stripped, got %q", c.Location)
	}
	if c.SlotCount != 2 {
		t.Errorf("slot count = %d", c.SlotCount)
	}
	want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if !c.Start.Equal(want) {
		t.Errorf("start = %v, want %v", c.Start, want)
	}
	if c.Color == "" {
		t.Error("expected a palette colour")
	}
}

func TestColorForIsStableAndInPalette(t *testing.T) {
	a := ColorFor("药理学")
	b := ColorFor("药理学")
	if a != b {
		t.Errorf("colour not stable: %q vs %q", a, b)
	}
	found := false
	for _, p := range ColorPalette {
		if p == a {
			found = true
		}
	}
	if !found {
		t.Errorf("colour %q not in palette", a)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	courses := ParseCourses([]CurriculumRecord{
		record("内科学", "2026-03-02 10:00:00", "2026-03-02 11:40:00"),
		record("药理学", "2026-03-02 08:00:00", "2026-03-02 09:40:00"),
	})

	payload, err := EncodeCourses(courses)
	if err != nil {
		t.Fatalf("EncodeCourses: %v", err)
	}

	decoded := DecodeCourses(payload)
	if len(decoded) != len(courses) {
		t.Fatalf("expected %d courses, got %d", len(courses), len(decoded))
	}
	for i := range courses {
		if decoded[i].Key() != courses[i].Key() {
			t.Errorf("course %d key mismatch: %q vs %q", i, decoded[i].Key(), courses[i].Key())
		}
	}
}

func TestDecodeCoursesToleratesGarbage(t *testing.T) {
	if got := DecodeCourses("[1,2,3]"); got != nil {
		t.Errorf("top-level array should decode to nil, got %v", got)
	}
	if got := DecodeCourses("{not json"); got != nil {
		t.Errorf("malformed json should decode to nil, got %v", got)
	}
}

func TestScoreItemIrregular(t *testing.T) {
	if (ScoreItem{ExamSituation: ExamNormal}).Irregular() {
		t.Error("normal exam flagged irregular")
	}
	if (ScoreItem{ExamSituation: ""}).Irregular() {
		t.Error("empty status flagged irregular")
	}
	if !(ScoreItem{ExamSituation: "缓考"}).Irregular() {
		t.Error("deferred exam not flagged")
	}
}
