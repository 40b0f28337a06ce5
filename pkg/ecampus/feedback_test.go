package ecampus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func starRows(n int) string {
	var b strings.Builder
	b.WriteString(`<table><tbody id="feedbackTableBody">`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<tr><td class="question-cell">Q%d</td><td class="rating-cell"><div class="star-rating">`, i)
		for s := 1; s <= 5; s++ {
			fmt.Fprintf(&b, `<input type="radio" id="q%d-s%d" name="q%d"><label for="q%d-s%d">*</label>`, i, s, i, i, s)
		}
		b.WriteString(`</div></td></tr>`)
	}
	b.WriteString(`</tbody></table>`)
	return b.String()
}

var endsemPage = `<html><body>
<h5>Attendance</h5><h5>Feedback</h5>
<div class="card-body">End Semester</div><div class="card-body">Intermediate</div>
<div class="staff-item">Staff A</div><div class="staff-item">Staff B</div>
<span class="ms-1">Staff A</span>` + starRows(3) + `
<button id="btnSave">Save</button><img class="img-fluid" src="ok.png">
<button id="btnFinalSubmit">Submit</button>
</body></html>`

var intermediatePage = `<html><body>
<h5>Feedback</h5>
<div class="card-body">End Semester</div><div class="card-body">Intermediate</div>
<div class="intermediate-body">Course 1</div><div class="intermediate-body">Course 2</div>
<div class="bottom-0">Questions 2</div>
<label for="radio-1-1">Excellent</label><label for="radio-2-1">Excellent</label>
<a class="carousel-control-next">next</a><div class="overlay"></div>
</body></html>`

func feedbackSession(t *testing.T, home string) (*Session, *fakePage, *fakeLauncher) {
	t.Helper()
	page := &fakePage{
		pages:   map[string]string{testBase + "/studzone": studzoneLogin},
		onClick: map[string]string{`input[type="submit"]`: home},
	}
	p, l := newFakeProvider(page)
	s, err := p.Authenticate(context.Background(), Studzone, Credentials{RollNo: "22z201", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	page.clicks = nil
	return s, page, l
}

func TestFeedbackEndsem(t *testing.T) {
	s, page, _ := feedbackSession(t, endsemPage)
	picks := 0
	f := NewFeedbackAutomator(FeedbackOptions{Pause: -1, Intn: func(n int) int {
		picks++
		return picks % n
	}}, nil)

	res, err := f.Submit(context.Background(), s, 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Status != "success" || res.Message != "End semester feedback completed" {
		t.Fatalf("Submit() = %+v", res)
	}

	star := func(q, r int) string { return fmt.Sprintf(starLabelTemplate, q, r) }
	want := []string{
		feedbackHeading, ".card-body#0",
		"div.staff-item#0", star(1, 2), star(2, 1), star(3, 2), "#btnSave",
		"div.staff-item#1", star(1, 1), star(2, 2), star(3, 1), "#btnSave",
		"#btnFinalSubmit",
	}
	if !reflect.DeepEqual(page.clicks, want) {
		t.Fatalf("clicks =\n%v\nwant\n%v", page.clicks, want)
	}
}

func TestFeedbackIntermediate(t *testing.T) {
	s, page, _ := feedbackSession(t, intermediatePage)
	f := NewFeedbackAutomator(FeedbackOptions{Pause: -1}, nil)

	res, err := f.Submit(context.Background(), s, 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Message != "Intermediate feedback completed" {
		t.Fatalf("Submit() = %+v", res)
	}
	course := []string{"label[for='radio-1-1']", ".carousel-control-next", "label[for='radio-2-1']", ".carousel-control-next", ".overlay"}
	want := []string{feedbackHeading, ".card-body#1", ".intermediate-body#0"}
	want = append(want, course...)
	want = append(want, ".intermediate-body#1")
	want = append(want, course...)
	if !reflect.DeepEqual(page.clicks, want) {
		t.Fatalf("clicks =\n%v\nwant\n%v", page.clicks, want)
	}
}

func TestFeedbackErrors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, page, _ := feedbackSession(t, endsemPage)
		f := NewFeedbackAutomator(FeedbackOptions{Disabled: true}, nil)
		if _, err := f.Submit(context.Background(), s, 0); !errors.Is(err, ErrFeedbackDisabled) {
			t.Fatalf("Submit() error = %v, want ErrFeedbackDisabled", err)
		}
		if len(page.clicks) != 0 {
			t.Fatalf("disabled automator clicked %v", page.clicks)
		}
	})

	t.Run("index out of range", func(t *testing.T) {
		s, page, _ := feedbackSession(t, endsemPage)
		f := NewFeedbackAutomator(FeedbackOptions{Pause: -1}, nil)
		res, err := f.Submit(context.Background(), s, 2)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		want := "Invalid feedback index. Only 2 feedback forms available."
		if res.Status != FeedbackError || res.Message != want {
			t.Fatalf("Submit() = %+v, want error status with %q", res, want)
		}
		if !errors.Is(res.Err, ErrInvalidFeedbackIndex) {
			t.Fatalf("result cause = %v, want ErrInvalidFeedbackIndex", res.Err)
		}
		if !reflect.DeepEqual(page.clicks, []string{feedbackHeading}) {
			t.Fatalf("clicks = %v", page.clicks)
		}
	})

	t.Run("negative index", func(t *testing.T) {
		s, page, _ := feedbackSession(t, endsemPage)
		f := NewFeedbackAutomator(FeedbackOptions{Pause: -1}, nil)
		res, err := f.Submit(context.Background(), s, -1)
		if err != nil || !res.Failed() || !errors.Is(res.Err, ErrInvalidFeedbackIndex) {
			t.Fatalf("Submit() = %+v, %v", res, err)
		}
		if len(page.clicks) != 0 {
			t.Fatalf("clicked %v for a negative index", page.clicks)
		}
	})

	t.Run("save refused", func(t *testing.T) {
		s, page, _ := feedbackSession(t, endsemPage)
		page.onClick["#btnSave"] = `{"success":false,"message":"session expired"}`
		f := NewFeedbackAutomator(FeedbackOptions{Pause: -1}, nil)
		res, err := f.Submit(context.Background(), s, 0)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		want := "Error processing end semester feedback while rating staff 1 of 2, saving: session expired"
		if res.Status != FeedbackError || res.Message != want {
			t.Fatalf("Submit() = %+v, want message %q", res, want)
		}
		if !errors.Is(res.Err, ErrFeedbackAutomation) {
			t.Fatalf("result cause = %v, want ErrFeedbackAutomation", res.Err)
		}
		if strings.Contains(res.Message, testBase) {
			t.Fatalf("message leaks the page URL: %q", res.Message)
		}
		if page.clicks[len(page.clicks)-1] != "#btnSave" {
			t.Fatalf("walk continued after a refused save: %v", page.clicks)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		s, _, _ := feedbackSession(t, endsemPage)
		f := NewFeedbackAutomator(FeedbackOptions{Pause: -1}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if res, err := f.Submit(ctx, s, 0); !errors.Is(err, context.Canceled) {
			t.Fatalf("Submit() = %+v, %v, want context.Canceled", res, err)
		}
	})

	t.Run("missing staff list", func(t *testing.T) {
		s, _, _ := feedbackSession(t, intermediatePage)
		f := NewFeedbackAutomator(FeedbackOptions{Pause: -1}, nil)
		res, err := f.Submit(context.Background(), s, 0)
		if err != nil || !res.Failed() || !errors.Is(res.Err, ErrFeedbackAutomation) {
			t.Fatalf("Submit() = %+v, %v, want a failed result", res, err)
		}
	})
}
