package ecampus

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nimora/nimora/pkg/academics"
)

const cgpaPath = "/studzone2/AttWfStudCourseSelection.aspx"

type CGPASnapshot struct {
	StudentName        string                  `json:"studentName"`
	RollNo             string                  `json:"rollNo"`
	CurrentCGPA        float64                 `json:"currentCGPA"`
	CompletedSemesters int                     `json:"completedSemesters"`
	TotalCredits       int                     `json:"totalCredits"`
	TotalPoints        int                     `json:"totalPoints"`
	SemesterWise       []academics.SemesterGPA `json:"semesterWise"`
	Courses            []academics.CourseGrade `json:"courses"`
	LastUpdated        time.Time               `json:"lastUpdated"`
}

// ParseCourseGrades reads table#PDGCourse: semester, course code, title,
// credits and grade, in that order. Courses without a grade yet, without
// a code or with no credits are skipped.
func ParseCourseGrades(doc *goquery.Document, log Logger) ([]academics.CourseGrade, error) {
	if log == nil {
		log = nopLogger{}
	}
	table := doc.Find("table#PDGCourse")
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: course table#PDGCourse not found", ErrExtractionMismatch)
	}

	courses := []academics.CourseGrade{}
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return // header
		}
		if cells.Length() < 5 {
			log.Debugf("Skipping course row %d: %d cells", i, cells.Length())
			return
		}
		c := academics.CourseGrade{
			Semester:   cellInt(cellText(cells, 0)),
			CourseCode: cellText(cells, 1),
			CourseName: cellText(cells, 2),
			Credits:    cellInt(cellText(cells, 3)),
			Grade:      cellText(cells, 4),
		}
		if c.CourseCode == "" || c.Credits <= 0 || c.Semester < 1 || c.Grade == "" {
			return
		}
		c.GradePoint = academics.GradePoint(c.Grade)
		courses = append(courses, c)
	})
	return courses, nil
}

// ParseResultRows reads table#Prettydatagrid3: the semester in the first
// cell and the result status in the last. A missing table yields no rows,
// so every semester is checked for arrears.
func ParseResultRows(doc *goquery.Document) []academics.ResultRow {
	var rows []academics.ResultRow
	doc.Find("table#Prettydatagrid3 tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		rows = append(rows, academics.ResultRow{
			Semester: cellText(cells, 0),
			Status:   cellText(cells, cells.Length()-1),
		})
	})
	return rows
}

// BuildCGPASnapshot rolls the parsed courses up semester by semester.
func BuildCGPASnapshot(rollNo, name string, courses []academics.CourseGrade, results []academics.ResultRow) *CGPASnapshot {
	r := academics.RollUpSemesters(courses, academics.BacklogCheckStart(results))
	return &CGPASnapshot{
		StudentName:        name,
		RollNo:             rollNo,
		CurrentCGPA:        r.CGPA,
		CompletedSemesters: r.CompletedSemesters,
		TotalCredits:       r.TotalCredits,
		TotalPoints:        r.TotalPoints,
		SemesterWise:       r.Semesters,
		Courses:            courses,
		LastUpdated:        time.Now().UTC(),
	}
}

// CGPA scrapes the course selection page. It needs a Studzone2 session.
func (s *Session) CGPA(ctx context.Context) (*CGPASnapshot, error) {
	if s.Variant != Studzone2 {
		return nil, fmt.Errorf("%w: CGPA needs a %s session, have %s", ErrUnknownVariant, Studzone2, s.Variant)
	}
	doc, err := s.document(ctx, cgpaPath)
	if err != nil {
		return nil, err
	}
	courses, err := ParseCourseGrades(doc, s.provider.log)
	if err != nil {
		return nil, err
	}
	snap := BuildCGPASnapshot(s.RollNo, studentName(doc), courses, ParseResultRows(doc))
	s.provider.log.Debugf("Rolled up %d courses over %d semesters for %s", len(courses), len(snap.SemesterWise), s.RollNo)
	return snap, nil
}
