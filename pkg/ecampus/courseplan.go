package ecampus

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const coursePlanPath = "/studzone/Attendance/courseplan"

var leadingNumber = regexp.MustCompile(`^\s*(\d+)`)

// CourseNames maps a course code to the initials of its title.
type CourseNames map[string]string

// Label renders "CODE - INITIALS", or just the code when unknown.
func (n CourseNames) Label(code string) string {
	if ini := n[code]; ini != "" {
		return code + " - " + ini
	}
	return code
}

// ParseCoursePlan reads the code/title heading pairs of the course plan page.
func ParseCoursePlan(doc *goquery.Document) CourseNames {
	names := CourseNames{}
	doc.Find("div.col-md-8").Each(func(_ int, div *goquery.Selection) {
		code := strings.TrimSpace(div.Find("h5").Text())
		title := strings.TrimSpace(div.Find("h6").Text())
		if code == "" || title == "" {
			return
		}
		names[code] = Initials(title)
	})
	return names
}

// Initials takes the first letter of every word that starts with an
// upper-case ASCII letter, so "Design and Analysis of Algorithms" is "DAA".
func Initials(title string) string {
	var b strings.Builder
	for _, w := range strings.Fields(title) {
		r := rune(w[0])
		if r < unicode.MaxASCII && unicode.IsUpper(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CoursePlan loads the course-code lookup. A failure here is not fatal for
// callers that only use it for display names.
func (s *Session) CoursePlan(ctx context.Context) (CourseNames, error) {
	doc, err := s.document(ctx, coursePlanPath)
	if err != nil {
		return nil, err
	}
	names := ParseCoursePlan(doc)
	s.provider.log.Debugf("Found %d courses in course plan for %s", len(names), s.RollNo)
	return names, nil
}

// cellInt reads the leading integer of a cell, 0 if there is none.
func cellInt(s string) int {
	m := leadingNumber.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}

// studentName tries the places the portal has shown the student's name.
func studentName(doc *goquery.Document) string {
	if name := strings.TrimSpace(doc.Find("span.student-name").First().Text()); name != "" {
		return name
	}
	if name := strings.TrimSpace(doc.Find(`td:contains("Name")`).First().Next().Text()); name != "" {
		return name
	}
	if name := strings.TrimSpace(doc.Find("h4.student-name").First().Text()); name != "" {
		return name
	}
	return "Student"
}
