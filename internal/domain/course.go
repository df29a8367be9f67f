// Package domain holds the canonical entities of the client. The portal's
// quirky wire shapes are decoded at the HTTP boundary; everything past that
// point works on these types.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// TimeLayout is the provider's timestamp format ("2026-03-02 08:00:00").
	TimeLayout = "2006-01-02 15:04:05"

	// DateLayout is the provider's and the cache's date format.
	DateLayout = "2006-01-02"
)

// ColorPalette is the fixed set of card colours; a course's colour is
// derived from its title so it stays stable across fetches.
var ColorPalette = [...]string{
	"#FFCDD2", "#C8E6C9", "#BBDEFB",
	"#E1BEE7", "#FFF9C4", "#FFE0B2",
	"#D1C4E9", "#B2DFDB", "#F8BBD0",
}

// CourseIDs are the provider identifiers needed to fetch a course's detail.
type CourseIDs struct {
	MCSID        string
	CSID         int
	CurriculumID int
	XXKMID       string
}

// Course is one calendar entry of the curriculum.
type Course struct {
	Title     string
	Type      string // course category tag
	Location  string
	Start     time.Time
	End       time.Time
	SlotCount int // standard 40-minute teaching slots spanned
	Color     string
	IDs       CourseIDs
}

// Key is the natural key used to deduplicate entries across fetches: two
// records with the same title and start instant are the same calendar entry.
func (c Course) Key() string {
	return c.Title + "_" + c.Start.Format(TimeLayout)
}

// ColorFor hashes a title into the palette (31-based rolling hash, two's
// complement wrap, so existing caches keep their colours).
func ColorFor(title string) string {
	var h int32
	for _, r := range title {
		h = 31*h + r
	}
	if h < 0 {
		h = -h
	}
	return ColorPalette[int(h)%len(ColorPalette)]
}

// CurriculumRecord mirrors one provider row; the local cache reuses the
// same shape so old cache files stay readable.
type CurriculumRecord struct {
	Curriculum     string `json:"Curriculum"`
	CurriculumType string `json:"CurriculumType"`
	CourseCount    int    `json:"CourseCount"`
	Classroom      string `json:"Classroom"`
	Start          string `json:"Start"`
	End            string `json:"End"`
	MCSID          string `json:"MCSID,omitempty"`
	CSID           int    `json:"CSID,omitempty"`
	CurriculumID   int    `json:"CurriculumID,omitempty"`
	XXKMID         string `json:"XXKMID,omitempty"`
}

// CurriculumTable is the provider's curriculum payload and the cache's
// on-disk shape.
type CurriculumTable struct {
	List []CurriculumRecord `json:"List"`
}

// ParseCourses turns provider rows into Courses. Rows missing either
// timestamp are skipped; bad timestamps drop the row rather than failing
// the whole batch.
func ParseCourses(records []CurriculumRecord) []Course {
	out := make([]Course, 0, len(records))
	for _, rec := range records {
		if rec.Start == "" || rec.End == "" {
			continue
		}
		start, err := time.Parse(TimeLayout, rec.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(TimeLayout, rec.End)
		if err != nil {
			continue
		}

		title := rec.Curriculum
		if title == "" {
			title = "Unknown"
		}
		typ := rec.CurriculumType
		if typ == "" {
			typ = "Unknown"
		}
		location := strings.ReplaceAll(rec.Classroom, "&nbsp;", "")
		if location == "" {
			location = "Unknown"
		}

		out = append(out, Course{
			Title:     title,
			Type:      typ,
			Location:  location,
			Start:     start,
			End:       end,
			SlotCount: rec.CourseCount,
			Color:     ColorFor(title),
			IDs: CourseIDs{
				MCSID:        rec.MCSID,
				CSID:         rec.CSID,
				CurriculumID: rec.CurriculumID,
				XXKMID:       rec.XXKMID,
			},
		})
	}
	return out
}

// Record converts a Course back to the cache row shape.
func (c Course) Record() CurriculumRecord {
	return CurriculumRecord{
		Curriculum:     c.Title,
		CurriculumType: c.Type,
		CourseCount:    c.SlotCount,
		Classroom:      c.Location,
		Start:          c.Start.Format(TimeLayout),
		End:            c.End.Format(TimeLayout),
		MCSID:          c.IDs.MCSID,
		CSID:           c.IDs.CSID,
		CurriculumID:   c.IDs.CurriculumID,
		XXKMID:         c.IDs.XXKMID,
	}
}

// EncodeCourses serializes the course list as the cache record
// `{"List":[...]}`.
func EncodeCourses(courses []Course) (string, error) {
	table := CurriculumTable{List: make([]CurriculumRecord, 0, len(courses))}
	for _, c := range courses {
		table.List = append(table.List, c.Record())
	}
	payload, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DecodeCourses parses a cache record back into courses. A top-level JSON
// array (an old provider error shape) decodes to an empty list; malformed
// JSON is treated the same, best effort like the rest of the cache path.
func DecodeCourses(payload string) []Course {
	if strings.HasPrefix(strings.TrimSpace(payload), "[") {
		return nil
	}
	var table CurriculumTable
	if err := json.Unmarshal([]byte(payload), &table); err != nil {
		return nil
	}
	return ParseCourses(table.List)
}
