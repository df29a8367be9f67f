package domain

// ExamNormal is the provider's sentinel for an unremarkable exam status;
// anything else flags the row for attention.
const ExamNormal = "正常"

// ScoreItem is one row of the semester score sheet. Rebuilt in full on
// every fetch for the selected (year, semester); never cached.
type ScoreItem struct {
	CourseName    string
	Score         float64
	MakeupScore   float64 // 0 when no makeup exam was taken
	LetterGrade   string
	Credit        float64
	ExamSituation string
	Semester      int // 1 or 2
}

// Irregular reports whether the exam status needs attention.
func (s ScoreItem) Irregular() bool {
	return s.ExamSituation != "" && s.ExamSituation != ExamNormal
}
