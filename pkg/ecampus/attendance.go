package ecampus

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nimora/nimora/pkg/academics"
)

const attendancePath = "/studzone/Attendance/StudentPercentage"

type CourseAttendance struct {
	CourseCode      string  `json:"courseCode"`
	CourseName      string  `json:"courseName"`
	TotalClasses    int     `json:"totalClasses"`
	AttendedClasses int     `json:"attendedClasses"`
	Percentage      float64 `json:"percentage"`
	CanBunk         int     `json:"canBunk"`
	MustAttend      int     `json:"mustAttend"`
	// ThresholdUnreachable is set when no number of attended classes can
	// reach the threshold (a 100% threshold after any absence).
	ThresholdUnreachable bool `json:"thresholdUnreachable,omitempty"`
}

// NewCourseAttendance derives the percentage and bunk/need counts.
func NewCourseAttendance(code, name string, attended, total int, threshold float64) CourseAttendance {
	c := CourseAttendance{
		CourseCode:      code,
		CourseName:      name,
		TotalClasses:    total,
		AttendedClasses: attended,
	}
	c.applyThreshold(threshold)
	return c
}

func (c *CourseAttendance) applyThreshold(threshold float64) {
	c.Percentage = academics.AttendancePercentage(c.AttendedClasses, c.TotalClasses)
	c.CanBunk = academics.BunkableClasses(c.AttendedClasses, c.TotalClasses, threshold)
	need := academics.ClassesNeeded(c.AttendedClasses, c.TotalClasses, threshold)
	c.ThresholdUnreachable = need == academics.Unreachable
	if need < 0 {
		need = 0
	}
	c.MustAttend = need
}

type AttendanceSnapshot struct {
	StudentName       string             `json:"studentName"`
	RollNo            string             `json:"rollNo"`
	OverallPercentage float64            `json:"overallPercentage"`
	Threshold         float64            `json:"threshold"`
	Courses           []CourseAttendance `json:"courses"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

// ApplyThreshold recomputes every course's bunk/need counts for threshold.
// Raw counts and percentages are unchanged.
func (a *AttendanceSnapshot) ApplyThreshold(threshold float64) {
	a.Threshold = threshold
	for i := range a.Courses {
		a.Courses[i].applyThreshold(threshold)
	}
}

// OverallPercentage weights by classes, not by course.
func OverallPercentage(courses []CourseAttendance) float64 {
	var attended, total int
	for _, c := range courses {
		attended += c.AttendedClasses
		total += c.TotalClasses
	}
	return academics.AttendancePercentage(attended, total)
}

// ParseAttendance reads table#example: code in the first cell, total
// classes in the second and attended classes in the fifth. Rows without a
// code, with no classes or with impossible counts are skipped.
func ParseAttendance(doc *goquery.Document, names CourseNames, threshold float64, log Logger) ([]CourseAttendance, error) {
	if log == nil {
		log = nopLogger{}
	}
	table := doc.Find("table#example")
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: attendance table#example not found", ErrExtractionMismatch)
	}

	courses := []CourseAttendance{}
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			log.Debugf("Skipping attendance row %d: %d cells", i, cells.Length())
			return
		}
		code := cellText(cells, 0)
		total := cellInt(cellText(cells, 1))
		attended := cellInt(cellText(cells, 4))
		if code == "" || total <= 0 {
			return
		}
		if attended > total {
			log.Debugf("Skipping attendance row %s: attended %d of %d", code, attended, total)
			return
		}
		courses = append(courses, NewCourseAttendance(code, names.Label(code), attended, total, threshold))
	})
	return courses, nil
}

// Attendance scrapes the percentage page. The course plan is loaded first
// for display names; if it fails the codes are used as names.
func (s *Session) Attendance(ctx context.Context, threshold float64) (*AttendanceSnapshot, error) {
	names, err := s.CoursePlan(ctx)
	if err != nil {
		s.provider.log.Warnf("Could not load course plan for %s: %v", s.RollNo, err)
		names = CourseNames{}
	}

	doc, err := s.document(ctx, attendancePath)
	if err != nil {
		return nil, err
	}
	courses, err := ParseAttendance(doc, names, threshold, s.provider.log)
	if err != nil {
		return nil, err
	}

	return &AttendanceSnapshot{
		StudentName:       studentName(doc),
		RollNo:            s.RollNo,
		OverallPercentage: OverallPercentage(courses),
		Threshold:         threshold,
		Courses:           courses,
		LastUpdated:       time.Now().UTC(),
	}, nil
}
