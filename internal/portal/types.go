package portal

// ScoreTable is the provider's positional score payload. The keys really
// are "1", "2" and "4" on the wire; decoding them here keeps the rest of
// the code on typed entities.
type ScoreTable struct {
	// Years lists the academic years the provider has data for.
	Years []string `json:"1"`

	// Rows is an array per academic term, each holding score rows.
	Rows [][]ScoreRow `json:"2"`

	// GPA is the provider's preformatted GPA summary string.
	GPA string `json:"4"`
}

// ScoreRow is one wire-format score record.
type ScoreRow struct {
	CurriculumName          string  `json:"CurriculumName"`
	Score                   float64 `json:"Score"`
	FScore                  float64 `json:"FScore"`
	AchievementGrade        string  `json:"AchievementGrade"`
	Credit                  float64 `json:"Credit"`
	ExaminationSituationStr string  `json:"ExaminationSituationStr"`
	Semester                int     `json:"Semester"`
}
