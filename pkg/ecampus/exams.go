package ecampus

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const examSchedulePath = "/studzone/ContinuousAssessment/CATestTimeTable"

var (
	datePattern = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}`)
	timePattern = regexp.MustCompile(`\d{1,2}:\d{2}(?:\s*(?:AM|PM|am|pm))?`)
)

type ExamScheduleEntry struct {
	CourseCode string `json:"courseCode"`
	CourseName string `json:"courseName"`
	// Date is kept in the portal's own format.
	Date  string `json:"date"`
	Time  string `json:"time"`
	Venue string `json:"venue,omitempty"`
}

type ExamSchedule struct {
	RollNo      string              `json:"rollNo"`
	Exams       []ExamScheduleEntry `json:"exams"`
	Message     string              `json:"message,omitempty"`
	LastUpdated time.Time           `json:"lastUpdated"`
}

// ParseExamSchedule reads the test time table cards. A page without any
// test card means nothing is scheduled and yields an empty list.
func ParseExamSchedule(doc *goquery.Document, names CourseNames) []ExamScheduleEntry {
	exams := []ExamScheduleEntry{}
	if doc.Find("div.Test-card, div.test-card, div.exam-card").Length() == 0 {
		return exams
	}

	containers := doc.Find("div.text-left")
	if containers.Length() == 0 {
		containers = doc.Find("div.exam-item")
	}
	if containers.Length() == 0 {
		containers = doc.Find("div.card")
	}

	containers.Each(func(_ int, el *goquery.Selection) {
		var code, date, clock string

		el.Find("span.sol").Each(func(i int, span *goquery.Selection) {
			text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(span.Text()), ":"))
			switch {
			case i == 0:
				code = text
			case date == "" && datePattern.MatchString(text):
				date = text
			case clock == "" && timePattern.MatchString(text):
				clock = text
			}
		})

		if date == "" || clock == "" {
			full := spacedText(el)
			if date == "" {
				date = datePattern.FindString(full)
			}
			if clock == "" {
				clock = timePattern.FindString(full)
			}
		}

		if code == "" || date == "" {
			return
		}
		if clock == "" {
			clock = "TBD"
		}
		exams = append(exams, ExamScheduleEntry{
			CourseCode: code,
			CourseName: names.Label(code),
			Date:       date,
			Time:       clock,
		})
	})
	return exams
}

// spacedText joins the element's text nodes with spaces so values from
// adjacent spans do not run together.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// ExamSchedule scrapes the continuous assessment test time table.
func (s *Session) ExamSchedule(ctx context.Context) (*ExamSchedule, error) {
	names, err := s.CoursePlan(ctx)
	if err != nil {
		s.provider.log.Warnf("Could not load course plan for %s: %v", s.RollNo, err)
		names = CourseNames{}
	}
	doc, err := s.document(ctx, examSchedulePath)
	if err != nil {
		return nil, err
	}

	out := &ExamSchedule{
		RollNo:      s.RollNo,
		Exams:       ParseExamSchedule(doc, names),
		LastUpdated: time.Now().UTC(),
	}
	if len(out.Exams) == 0 {
		out.Message = "No upcoming exams found."
	}
	return out, nil
}
