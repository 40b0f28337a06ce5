package ecampus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/nimora/nimora/pkg/browser"
	"github.com/tidwall/gjson"
)

const (
	feedbackHeading = `h5:contains("Feedback")`
	feedbackForms   = ".card-body"

	staffItem         = "div.staff-item"
	staffLoaded       = "span.ms-1"
	questionCell      = "td.question-cell"
	starLabelTemplate = "tbody#feedbackTableBody > tr:nth-of-type(%d) > td.rating-cell > div.star-rating > label:nth-of-type(%d)"
	saveButton        = "#btnSave"
	savedMarker       = "img.img-fluid"
	finalSubmit       = "#btnFinalSubmit"

	courseItem     = ".intermediate-body"
	questionCount  = "div.bottom-0"
	firstOption    = "label[for='radio-%d-1']"
	carouselNext   = ".carousel-control-next"
	closeOverlay   = ".overlay"
	defaultPause   = 500 * time.Millisecond
	endsemFormSlot = 0
)

// DefaultRatings is the star pool end-semester answers are drawn from.
var DefaultRatings = []int{1, 2}

const (
	FeedbackSuccess = "success"
	FeedbackError   = "error"
)

// FeedbackResult reports a feedback run. A failed walk or an out of range
// form index comes back as an error-status result, with Err holding the
// classified cause.
type FeedbackResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (r *FeedbackResult) Failed() bool { return r.Status == FeedbackError }

func failedFeedback(msg string, err error) *FeedbackResult {
	return &FeedbackResult{Status: FeedbackError, Message: msg, Err: err}
}

// stepError is a failed step of a feedback walk. Reason is set only when the
// portal itself explained the refusal.
type stepError struct {
	step   string
	reason string
	err    error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrFeedbackAutomation, e.step, e.err)
}

func (e *stepError) Unwrap() []error { return []error{ErrFeedbackAutomation, e.err} }

func (e *stepError) message(form string) string {
	msg := fmt.Sprintf("Error processing %s feedback while %s", form, e.step)
	if e.reason != "" {
		msg += ": " + e.reason
	}
	return msg
}

type FeedbackOptions struct {
	Disabled bool
	// Pause is waited between UI steps; 0 uses the default, negative
	// disables pausing.
	Pause   time.Duration
	Ratings []int
	// Intn picks an index into Ratings. Defaults to math/rand/v2.IntN.
	Intn func(n int) int
}

// FeedbackAutomator walks the portal's feedback forms and answers every
// question. It keeps no per-run state and is safe for concurrent use.
type FeedbackAutomator struct {
	opts FeedbackOptions
	log  Logger
}

func NewFeedbackAutomator(opts FeedbackOptions, log Logger) *FeedbackAutomator {
	if opts.Pause == 0 {
		opts.Pause = defaultPause
	}
	if len(opts.Ratings) == 0 {
		opts.Ratings = DefaultRatings
	}
	if opts.Intn == nil {
		opts.Intn = rand.Intn
	}
	if log == nil {
		log = nopLogger{}
	}
	return &FeedbackAutomator{opts: opts, log: log}
}

// Submit fills the feedback form at formIndex: 0 is the end-semester form,
// any other index an intermediate form. Any failing step fails the whole
// run; forms already saved on the portal stay saved. Walk failures and an
// out of range index are reported through the result; the error return is
// kept for a disabled automator and a cancelled context.
func (f *FeedbackAutomator) Submit(ctx context.Context, s *Session, formIndex int) (*FeedbackResult, error) {
	if f.opts.Disabled {
		return nil, ErrFeedbackDisabled
	}
	if formIndex < 0 {
		return failedFeedback("Invalid feedback index.", fmt.Errorf("%w: %d", ErrInvalidFeedbackIndex, formIndex)), nil
	}

	form := "intermediate"
	if formIndex == endsemFormSlot {
		form = "end semester"
	}
	w := &feedbackWalk{f: f, s: s, page: s.Page()}
	res, err := w.run(ctx, formIndex)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var se *stepError
	if errors.As(err, &se) {
		return failedFeedback(se.message(form), err), nil
	}
	return nil, err
}

func (w *feedbackWalk) run(ctx context.Context, formIndex int) (*FeedbackResult, error) {
	if err := w.wait(ctx, feedbackHeading); err != nil {
		return nil, w.fail("opening the feedback section", err)
	}
	if err := w.page.Click(ctx, feedbackHeading); err != nil {
		return nil, w.fail("opening the feedback section", err)
	}
	if err := w.wait(ctx, feedbackForms); err != nil {
		return nil, w.fail("listing feedback forms", err)
	}
	n, err := w.page.Count(feedbackForms)
	if err != nil {
		return nil, w.fail("listing feedback forms", err)
	}
	if formIndex >= n {
		msg := fmt.Sprintf("Invalid feedback index. Only %d feedback forms available.", n)
		return failedFeedback(msg, fmt.Errorf("%w: only %d feedback forms available", ErrInvalidFeedbackIndex, n)), nil
	}
	if err := w.page.ClickNth(ctx, feedbackForms, formIndex); err != nil {
		return nil, w.fail("opening the feedback form", err)
	}
	if err := w.f.pause(ctx); err != nil {
		return nil, err
	}

	if formIndex == endsemFormSlot {
		if err := w.endsem(ctx); err != nil {
			return nil, err
		}
		w.f.log.Infof("End semester feedback completed for %s", w.s.RollNo)
		return &FeedbackResult{Status: FeedbackSuccess, Message: "End semester feedback completed"}, nil
	}
	if err := w.intermediate(ctx); err != nil {
		return nil, err
	}
	w.f.log.Infof("Intermediate feedback %d completed for %s", formIndex, w.s.RollNo)
	return &FeedbackResult{Status: FeedbackSuccess, Message: "Intermediate feedback completed"}, nil
}

func (f *FeedbackAutomator) rating() int {
	return f.opts.Ratings[f.opts.Intn(len(f.opts.Ratings))]
}

func (f *FeedbackAutomator) pause(ctx context.Context) error {
	if f.opts.Pause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.opts.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type feedbackWalk struct {
	f    *FeedbackAutomator
	s    *Session
	page browser.Page
}

func (w *feedbackWalk) wait(ctx context.Context, selector string) error {
	return w.page.WaitForSelector(ctx, selector, w.s.provider.cfg.SelectorTimeout)
}

func (w *feedbackWalk) fail(step string, err error) error {
	return w.failWith(step, "", err)
}

func (w *feedbackWalk) failWith(step, reason string, err error) error {
	w.f.log.Errorf("Feedback for %s failed while %s at %s: %v", w.s.RollNo, step, w.page.URL(), err)
	return &stepError{step: step, reason: reason, err: err}
}

func (w *feedbackWalk) click(ctx context.Context, step, selector string) error {
	if err := w.page.Click(ctx, selector); err != nil {
		return w.fail(step, err)
	}
	return w.checkReply(step)
}

// checkReply inspects a JSON answer from a save endpoint, if that is what
// the click landed on.
func (w *feedbackWalk) checkReply(step string) error {
	body, err := w.page.Content()
	if err != nil || !gjson.Valid(body) {
		return nil
	}
	if ok := gjson.Get(body, "success"); ok.Exists() && !ok.Bool() {
		msg := gjson.Get(body, "message").String()
		if msg == "" {
			msg = "portal refused the answers"
		}
		return w.failWith(step, msg, errors.New(msg))
	}
	return nil
}

func (w *feedbackWalk) endsem(ctx context.Context) error {
	if err := w.wait(ctx, staffItem); err != nil {
		return w.fail("listing staff", err)
	}
	staff, err := w.page.Count(staffItem)
	if err != nil {
		return w.fail("listing staff", err)
	}
	if staff == 0 {
		return w.failWith("listing staff", "no staff to rate", errors.New("no end-semester feedback forms found"))
	}

	for i := 0; i < staff; i++ {
		step := fmt.Sprintf("rating staff %d of %d", i+1, staff)
		if err := w.page.ClickNth(ctx, staffItem, i); err != nil {
			return w.fail(step, err)
		}
		if err := w.wait(ctx, staffLoaded); err != nil {
			return w.fail(step, err)
		}
		if err := w.wait(ctx, fmt.Sprintf(starLabelTemplate, 1, 1)); err != nil {
			return w.fail(step, err)
		}
		questions, err := w.page.Count(questionCell)
		if err != nil {
			return w.fail(step, err)
		}
		for q := 1; q <= questions; q++ {
			star := fmt.Sprintf(starLabelTemplate, q, w.f.rating())
			if err := w.wait(ctx, star); err != nil {
				return w.fail(fmt.Sprintf("%s, question %d", step, q), err)
			}
			if err := w.page.Click(ctx, star); err != nil {
				return w.fail(fmt.Sprintf("%s, question %d", step, q), err)
			}
		}
		if err := w.click(ctx, step+", saving", saveButton); err != nil {
			return err
		}
		if err := w.wait(ctx, savedMarker); err != nil {
			return w.fail(step+", saving", err)
		}
		if err := w.f.pause(ctx); err != nil {
			return err
		}
		w.f.log.Debugf("Saved feedback for staff %d of %d (%d questions) for %s", i+1, staff, questions, w.s.RollNo)
	}

	return w.click(ctx, "final submit", finalSubmit)
}

func (w *feedbackWalk) intermediate(ctx context.Context) error {
	if err := w.wait(ctx, courseItem); err != nil {
		return w.fail("listing courses", err)
	}
	courses, err := w.page.Count(courseItem)
	if err != nil {
		return w.fail("listing courses", err)
	}
	if courses == 0 {
		return w.failWith("listing courses", "no courses to rate", errors.New("no intermediate feedback forms found"))
	}

	for i := 0; i < courses; i++ {
		step := fmt.Sprintf("course %d of %d", i+1, courses)
		if err := w.page.ClickNth(ctx, courseItem, i); err != nil {
			return w.fail(step, err)
		}
		text, err := w.page.Text(questionCount)
		if err != nil {
			return w.fail(step, err)
		}
		questions := 0
		if fields := strings.Fields(text); len(fields) > 0 {
			questions, _ = strconv.Atoi(fields[len(fields)-1])
		}

		for q := 1; q <= questions; q++ {
			option := fmt.Sprintf(firstOption, q)
			if err := w.wait(ctx, option); err != nil {
				return w.fail(fmt.Sprintf("%s, question %d", step, q), err)
			}
			if err := w.page.Click(ctx, option); err != nil {
				return w.fail(fmt.Sprintf("%s, question %d", step, q), err)
			}
			if err := w.click(ctx, fmt.Sprintf("%s, question %d", step, q), carouselNext); err != nil {
				return err
			}
		}
		if err := w.click(ctx, step+", closing", closeOverlay); err != nil {
			return err
		}
		if err := w.f.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}
