package ecampus

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nimora/nimora/pkg/academics"
)

const (
	internalsPath = "/studzone/ContinuousAssessment/CAMarksView"

	DefaultTargetTotal = 50.0
	DefaultEndsemMax   = 60.0
)

var markPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*(\d+)`)

type InternalMark struct {
	TestName      string  `json:"testName"`
	ObtainedMarks float64 `json:"obtainedMarks"`
	MaxMarks      float64 `json:"maxMarks"`
	Percentage    float64 `json:"percentage"`
}

type CourseInternal struct {
	CourseCode    string         `json:"courseCode"`
	CourseName    string         `json:"courseName"`
	Marks         []InternalMark `json:"marks"`
	TotalObtained float64        `json:"totalObtained"`
	TotalMax      float64        `json:"totalMax"`
	// RequiredEndsem is nil when the target total cannot be reached.
	RequiredEndsem *int `json:"requiredEndsem"`
}

type InternalsSnapshot struct {
	RollNo      string           `json:"rollNo"`
	TargetTotal float64          `json:"targetTotal"`
	EndsemMax   float64          `json:"endsemMax"`
	Courses     []CourseInternal `json:"courses"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// ApplyTarget recomputes the required end-semester score of every course.
func (s *InternalsSnapshot) ApplyTarget(targetTotal, endsemMax float64) {
	if targetTotal <= 0 {
		targetTotal = DefaultTargetTotal
	}
	if endsemMax <= 0 {
		endsemMax = DefaultEndsemMax
	}
	s.TargetTotal = targetTotal
	s.EndsemMax = endsemMax
	for i := range s.Courses {
		c := &s.Courses[i]
		c.RequiredEndsem = academics.RequiredEndsem(c.TotalObtained, c.TotalMax, targetTotal, endsemMax)
	}
}

// parseMark reads "obtained / outOf". A zero denominator is rejected.
func parseMark(text string) (obtained, outOf float64, ok bool) {
	m := markPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	obtained, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	outOf, err = strconv.ParseFloat(m[2], 64)
	if err != nil || outOf <= 0 {
		return 0, 0, false
	}
	return obtained, outOf, true
}

// ParseInternals reads the continuous assessment page. Each course is a
// card (or, on older markup, a table row) with the code in h5 or the first
// cell and the title in h6 or the second cell; every "x / y" mark cell in it
// is one test. Courses without any readable mark are skipped.
func ParseInternals(doc *goquery.Document, log Logger) ([]CourseInternal, error) {
	if log == nil {
		log = nopLogger{}
	}
	containers := doc.Find("div.card, div.course-card")
	if containers.Length() == 0 {
		containers = doc.Find("table tbody tr")
	}
	if containers.Length() == 0 {
		return nil, fmt.Errorf("%w: no internal marks cards or rows found", ErrExtractionMismatch)
	}

	courses := []CourseInternal{}
	containers.Each(func(_ int, el *goquery.Selection) {
		code := strings.TrimSpace(el.Find(".course-code, h5, td:first-child").First().Text())
		if code == "" {
			return
		}
		name := strings.TrimSpace(el.Find(".course-name, h6, td:nth-child(2)").First().Text())

		c := CourseInternal{CourseCode: code, CourseName: name, Marks: []InternalMark{}}
		el.Find(".test-mark, .internal-mark, td.mark").Each(func(i int, m *goquery.Selection) {
			obtained, outOf, ok := parseMark(m.Text())
			if !ok {
				log.Debugf("Skipping unreadable mark %q for %s", strings.TrimSpace(m.Text()), code)
				return
			}
			test := strings.TrimSpace(m.AttrOr("data-test", ""))
			if test == "" {
				test = fmt.Sprintf("Internal %d", len(c.Marks)+1)
			}
			c.Marks = append(c.Marks, InternalMark{
				TestName:      test,
				ObtainedMarks: obtained,
				MaxMarks:      outOf,
				Percentage:    math.Round(obtained/outOf*10000) / 100,
			})
			c.TotalObtained += obtained
			c.TotalMax += outOf
		})
		if len(c.Marks) == 0 {
			return
		}
		courses = append(courses, c)
	})
	return courses, nil
}

// Internals scrapes the continuous assessment marks and works out the
// end-semester score each course needs for targetTotal.
func (s *Session) Internals(ctx context.Context, targetTotal, endsemMax float64) (*InternalsSnapshot, error) {
	doc, err := s.document(ctx, internalsPath)
	if err != nil {
		return nil, err
	}
	courses, err := ParseInternals(doc, s.provider.log)
	if err != nil {
		return nil, err
	}
	snap := &InternalsSnapshot{
		RollNo:      s.RollNo,
		Courses:     courses,
		LastUpdated: time.Now().UTC(),
	}
	snap.ApplyTarget(targetTotal, endsemMax)
	return snap, nil
}
