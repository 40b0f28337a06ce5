package academics

import (
	"math"
	"strconv"
	"strings"
)

var gradePoints = map[string]int{
	"O":  10,
	"A+": 9,
	"A":  8,
	"B+": 7,
	"B":  6,
	"C":  5,
}

// GradePoint maps a letter grade to its grade point. Anything outside the
// passing table (RA, U, W, SA, unknown) is worth 0.
func GradePoint(letter string) int {
	return gradePoints[strings.ToUpper(strings.TrimSpace(letter))]
}

// IsBacklog reports whether the grade marks an uncleared arrear.
func IsBacklog(letter string) bool {
	switch strings.ToUpper(strings.TrimSpace(letter)) {
	case "RA", "U":
		return true
	}
	return false
}

// CourseGrade is a single graded course.
type CourseGrade struct {
	CourseCode string `json:"courseCode"`
	CourseName string `json:"courseName"`
	Credits    int    `json:"credits"`
	Grade      string `json:"grade"`
	GradePoint int    `json:"gradePoint"`
	Semester   int    `json:"semester"`
}

// SemesterGPA is one row of the semester-wise roll-up.
type SemesterGPA struct {
	Semester  int     `json:"semester"`
	GPA       float64 `json:"gpa"`
	CGPA      float64 `json:"cgpa"`
	Credits   int     `json:"credits"`
	IsPending bool    `json:"isPending"`
}

// GPA returns the credit-weighted grade point average of courses.
func GPA(courses []CourseGrade) float64 {
	var credits int
	var points float64
	for _, c := range courses {
		credits += c.Credits
		points += float64(GradePoint(c.Grade) * c.Credits)
	}
	if credits == 0 {
		return 0
	}
	return round2(points / float64(credits))
}

// CumulativeCGPA returns the credit-weighted average of the GPAs of all
// non-pending semesters.
func CumulativeCGPA(semesters []SemesterGPA) float64 {
	var credits int
	var points float64
	for _, s := range semesters {
		if s.IsPending {
			continue
		}
		credits += s.Credits
		points += float64(s.GPA * float64(s.Credits))
	}
	if credits == 0 {
		return 0
	}
	return round2(points / float64(credits))
}

// ResultRow is one row of the portal's published results table. Semester is
// blank on continuation rows.
type ResultRow struct {
	Semester string
	Status   string
}

// BacklogCheckStart scans the results table in order and returns the first
// semester from which backlog grades must be checked: one past the last
// semester number seen before the first RA row.
func BacklogCheckStart(rows []ResultRow) int {
	last := 0
	for _, r := range rows {
		if strings.EqualFold(strings.TrimSpace(r.Status), "RA") {
			break
		}
		if s := strings.TrimSpace(r.Semester); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				last = n
			}
		}
	}
	return last + 1
}

// RollUp is the outcome of folding graded courses semester by semester.
type RollUp struct {
	Semesters          []SemesterGPA
	CGPA               float64
	CompletedSemesters int
	TotalCredits       int
	TotalPoints        int
}

type rollupState struct {
	credits int
	points  int
	product float64 // sum of rounded semester GPA * credits
	locked  bool
}

func (s rollupState) cgpa() float64 {
	if s.credits == 0 {
		return 0
	}
	return round2(s.product / float64(s.credits))
}

// RollUpSemesters groups courses by semester and folds semesters 1 through
// the latest graded one in order. The running CGPA weights each rounded
// semester GPA by its credits, so it always equals CumulativeCGPA over the
// rows reported so far. A semester with no graded courses is reported with
// zero GPA and credits and the CGPA carried over. From backlogFrom onwards
// a semester holding an RA or U grade locks the fold: it and every later
// semester are reported pending with zero GPA, CGPA and credits.
func RollUpSemesters(courses []CourseGrade, backlogFrom int) RollUp {
	bySem := make(map[int][]CourseGrade)
	for _, c := range courses {
		if c.Semester < 1 || c.Credits <= 0 {
			continue
		}
		bySem[c.Semester] = append(bySem[c.Semester], c)
	}
	latest := 0
	for s := range bySem {
		latest = max(latest, s)
	}

	var (
		out   RollUp
		state rollupState
	)
	for sem := 1; sem <= latest; sem++ {
		group := bySem[sem]
		if !state.locked && sem >= backlogFrom && hasBacklog(group) {
			state.locked = true
		}
		if state.locked {
			out.Semesters = append(out.Semesters, SemesterGPA{Semester: sem, IsPending: true})
			continue
		}

		var credits, points int
		for _, c := range group {
			credits += c.Credits
			points += GradePoint(c.Grade) * c.Credits
		}
		gpa := GPA(group)
		state.credits += credits
		state.points += points
		// Explicit conversion keeps the product from being fused into an FMA.
		state.product += float64(gpa * float64(credits))

		out.Semesters = append(out.Semesters, SemesterGPA{
			Semester: sem,
			GPA:      gpa,
			CGPA:     state.cgpa(),
			Credits:  credits,
		})
		if credits > 0 {
			out.CompletedSemesters++
		}
	}

	out.TotalCredits = state.credits
	out.TotalPoints = state.points
	out.CGPA = state.cgpa()
	return out
}

func hasBacklog(courses []CourseGrade) bool {
	for _, c := range courses {
		if IsBacklog(c.Grade) {
			return true
		}
	}
	return false
}

// RequiredEndsem returns the minimum end-semester score, out of endsemMax,
// needed to reach targetTotal when internals count for 40 and the end
// semester exam for 60. A nil result means the target cannot be reached.
func RequiredEndsem(internalMarks, maxInternal, targetTotal, endsemMax float64) *int {
	var normalized float64
	if maxInternal > 0 {
		normalized = internalMarks / maxInternal * 40
	}
	if normalized+60 < targetTotal {
		return nil
	}
	required := targetTotal - normalized
	if required <= 0 {
		zero := 0
		return &zero
	}
	// Float noise just above an integer must not round up.
	n := int(math.Ceil(required/60*endsemMax - 1e-9))
	return &n
}
