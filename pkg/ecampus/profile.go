package ecampus

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	scholarshipPath = "/studzone/Scholar/VallalarScholarship"
	profilePath     = "/studzone/Profile"
)

// IST is the portal's local time zone; birthdays are compared in it.
var IST = time.FixedZone("IST", 5*60*60+30*60)

type UserInfo struct {
	Username   string `json:"username"`
	RollNo     string `json:"rollNo"`
	IsBirthday bool   `json:"isBirthday"`
	// CheckedOn is the IST date (2006-01-02) IsBirthday was computed for.
	CheckedOn string `json:"checkedOn"`
}

// ISTDate formats t as a calendar date in IST.
func ISTDate(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// ParseScholarship reads the personal-info cells: the name first and the
// date of birth (dd/mm/yyyy) third. ok is false when no name is present;
// birth is zero when the date is missing or malformed.
func ParseScholarship(doc *goquery.Document) (name string, birth time.Time, ok bool) {
	cells := doc.Find("td.personal-info td")
	if cells.Length() == 0 {
		return "", time.Time{}, false
	}
	name = cellText(cells, 0)
	if cells.Length() > 2 {
		if t, err := time.ParseInLocation("02/01/2006", cellText(cells, 2), IST); err == nil {
			birth = t
		}
	}
	return name, birth, name != ""
}

// ParseProfileName reads the name field of the profile form.
func ParseProfileName(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("input#txtName").AttrOr("value", ""))
}

// IsBirthday compares month and day of birth with now, both in IST.
func IsBirthday(birth, now time.Time) bool {
	if birth.IsZero() {
		return false
	}
	b := birth.In(IST)
	n := now.In(IST)
	return b.Month() == n.Month() && b.Day() == n.Day()
}

// UserInfo tries the scholarship page and then the profile page. Page
// failures are logged and degrade to the roll number as the username.
func (s *Session) UserInfo(ctx context.Context, now time.Time) *UserInfo {
	info := &UserInfo{Username: s.RollNo, RollNo: s.RollNo, CheckedOn: ISTDate(now)}

	doc, err := s.document(ctx, scholarshipPath)
	if err != nil {
		s.provider.log.Warnf("Could not load scholarship page for %s: %v", s.RollNo, err)
	} else if name, birth, ok := ParseScholarship(doc); ok {
		info.Username = name
		info.IsBirthday = IsBirthday(birth, now)
		return info
	}

	doc, err = s.document(ctx, profilePath)
	if err != nil {
		s.provider.log.Warnf("Could not load profile page for %s: %v", s.RollNo, err)
		return info
	}
	if name := ParseProfileName(doc); name != "" {
		info.Username = name
	}
	return info
}
