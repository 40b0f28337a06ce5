// Package aggregator serves portal data: it answers from the cache when it
// can and otherwise opens a portal session, scrapes, and stores the result.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimora/nimora/pkg/cache"
	"github.com/nimora/nimora/pkg/ecampus"
	"golang.org/x/sync/semaphore"
)

// Metrics receives operational measurements. All methods must be safe for
// concurrent use.
type Metrics interface {
	ScrapeObserved(kind, outcome string, d time.Duration)
	CacheLookup(kind string, hit bool)
	LoginObserved(variant, outcome string)
	SessionsInFlight(delta float64)
}

type nopMetrics struct{}

func (nopMetrics) ScrapeObserved(string, string, time.Duration) {}
func (nopMetrics) CacheLookup(string, bool)                     {}
func (nopMetrics) LoginObserved(string, string)                 {}
func (nopMetrics) SessionsInFlight(float64)                     {}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds everything a Service needs.
type Config struct {
	Provider    *ecampus.Provider
	Cache       *cache.Cache               // optional; nil = always scrape
	Feedback    *ecampus.FeedbackAutomator // optional; nil = feedback unavailable
	MaxSessions int64                      // defaults to 8 if <= 0
	Metrics     Metrics                    // optional
	Log         ecampus.Logger             // optional; nil = no logging
	Now         func() time.Time           // optional; defaults to time.Now
}

// Service is safe for concurrent use. Each call that needs the portal uses
// its own session and releases it before returning.
type Service struct {
	provider *ecampus.Provider
	cache    *cache.Cache
	feedback *ecampus.FeedbackAutomator
	sessions *semaphore.Weighted
	metrics  Metrics
	log      ecampus.Logger
	now      func() time.Time
}

func New(cfg Config) *Service {
	slots := cfg.MaxSessions
	if slots <= 0 {
		slots = 8
	}
	s := &Service{
		provider: cfg.Provider,
		cache:    cfg.Cache,
		feedback: cfg.Feedback,
		sessions: semaphore.NewWeighted(slots),
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		now:      cfg.Now,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.log == nil {
		s.log = nopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Outcome buckets an error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ecampus.ErrAuthentication):
		return "rejected"
	case errors.Is(err, ecampus.ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ecampus.ErrExtractionMismatch):
		return "extraction"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

// withSession runs fn inside a portal session, waiting for a free session
// slot first. The wait honours ctx.
func (s *Service) withSession(ctx context.Context, kind string, variant ecampus.Variant, creds ecampus.Credentials, fn func(*ecampus.Session) error) error {
	if err := s.sessions.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a portal session: %w", err)
	}
	defer s.sessions.Release(1)
	s.metrics.SessionsInFlight(1)
	defer s.metrics.SessionsInFlight(-1)

	start := s.now()
	loggedIn := false
	err := s.provider.WithSession(ctx, variant, creds, func(sess *ecampus.Session) error {
		loggedIn = true
		return fn(sess)
	})

	login := Outcome(err)
	if loggedIn {
		login = "ok"
	}
	s.metrics.LoginObserved(string(variant), login)
	s.metrics.ScrapeObserved(kind, Outcome(err), s.now().Sub(start))
	if err != nil {
		s.log.Warnf("%s scrape for %s failed (%s): %v", kind, ecampus.NormalizeRollNo(creds.RollNo), Outcome(err), err)
	} else {
		s.log.Debugf("%s scrape for %s took %s", kind, ecampus.NormalizeRollNo(creds.RollNo), s.now().Sub(start))
	}
	return err
}

// fetch answers from the cache unless refresh is set, and otherwise
// scrapes and stores the result. Cache failures are logged, never returned.
func fetch[T any](ctx context.Context, s *Service, kind cache.Kind, variant ecampus.Variant, creds ecampus.Credentials, refresh bool,
	scrape func(context.Context, *ecampus.Session) (*T, error), fresh func(*T) bool) (*T, bool, error) {
	userID := ecampus.NormalizeRollNo(creds.RollNo)

	if s.cache != nil && !refresh {
		var cached T
		hit, err := s.cache.Get(ctx, kind, userID, &cached)
		if err != nil {
			s.log.Warnf("Cache read for %s/%s failed: %v", kind, userID, err)
		}
		if hit && fresh != nil && !fresh(&cached) {
			hit = false
		}
		s.metrics.CacheLookup(string(kind), hit)
		if hit {
			s.log.Debugf("Returning cached %s for %s", kind, userID)
			return &cached, true, nil
		}
	}

	var out *T
	err := s.withSession(ctx, string(kind), variant, creds, func(sess *ecampus.Session) error {
		var err error
		out, err = scrape(ctx, sess)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, kind, userID, out); err != nil {
			s.log.Warnf("Cache write for %s/%s failed: %v", kind, userID, err)
		}
	}
	return out, false, nil
}

// Attendance returns the attendance snapshot with bunk/need counts for
// threshold, whether it came from the cache or not.
func (s *Service) Attendance(ctx context.Context, creds ecampus.Credentials, threshold float64, refresh bool) (*ecampus.AttendanceSnapshot, bool, error) {
	snap, cached, err := fetch(ctx, s, cache.KindAttendance, ecampus.Studzone, creds, refresh,
		func(ctx context.Context, sess *ecampus.Session) (*ecampus.AttendanceSnapshot, error) {
			return sess.Attendance(ctx, threshold)
		}, nil)
	if err != nil {
		return nil, false, err
	}
	if snap.Threshold != threshold {
		snap.ApplyThreshold(threshold)
	}
	return snap, cached, nil
}

func (s *Service) CGPA(ctx context.Context, creds ecampus.Credentials, refresh bool) (*ecampus.CGPASnapshot, bool, error) {
	return fetch(ctx, s, cache.KindCGPA, ecampus.Studzone2, creds, refresh,
		func(ctx context.Context, sess *ecampus.Session) (*ecampus.CGPASnapshot, error) {
			return sess.CGPA(ctx)
		}, nil)
}

// Internals returns internal marks with the end-semester score needed for
// targetTotal out of endsemMax (0 selects the defaults).
func (s *Service) Internals(ctx context.Context, creds ecampus.Credentials, targetTotal, endsemMax float64, refresh bool) (*ecampus.InternalsSnapshot, bool, error) {
	snap, cached, err := fetch(ctx, s, cache.KindInternals, ecampus.Studzone, creds, refresh,
		func(ctx context.Context, sess *ecampus.Session) (*ecampus.InternalsSnapshot, error) {
			return sess.Internals(ctx, targetTotal, endsemMax)
		}, nil)
	if err != nil {
		return nil, false, err
	}
	snap.ApplyTarget(targetTotal, endsemMax)
	return snap, cached, nil
}

func (s *Service) ExamSchedule(ctx context.Context, creds ecampus.Credentials, refresh bool) (*ecampus.ExamSchedule, bool, error) {
	return fetch(ctx, s, cache.KindExams, ecampus.Studzone, creds, refresh,
		func(ctx context.Context, sess *ecampus.Session) (*ecampus.ExamSchedule, error) {
			return sess.ExamSchedule(ctx)
		}, nil)
}

// UserInfo is cached per IST day so the birthday flag never goes stale.
func (s *Service) UserInfo(ctx context.Context, creds ecampus.Credentials, refresh bool) (*ecampus.UserInfo, bool, error) {
	today := ecampus.ISTDate(s.now())
	return fetch(ctx, s, cache.KindProfile, ecampus.Studzone, creds, refresh,
		func(ctx context.Context, sess *ecampus.Session) (*ecampus.UserInfo, error) {
			return sess.UserInfo(ctx, s.now()), nil
		}, func(u *ecampus.UserInfo) bool { return u.CheckedOn == today })
}

// SubmitFeedback fills the feedback form at index. It is never cached.
func (s *Service) SubmitFeedback(ctx context.Context, creds ecampus.Credentials, index int) (*ecampus.FeedbackResult, error) {
	if s.feedback == nil {
		return nil, ecampus.ErrFeedbackDisabled
	}
	var res *ecampus.FeedbackResult
	err := s.withSession(ctx, "feedback", ecampus.Studzone, creds, func(sess *ecampus.Session) error {
		var err error
		res, err = s.feedback.Submit(ctx, sess, index)
		return err
	})
	return res, err
}

// Verify only checks that the portal accepts creds.
func (s *Service) Verify(ctx context.Context, creds ecampus.Credentials) error {
	return s.withSession(ctx, "login", ecampus.Studzone, creds, func(*ecampus.Session) error { return nil })
}

// Invalidate drops cached snapshots of rollNo; all kinds when none given.
func (s *Service) Invalidate(ctx context.Context, rollNo string, kinds ...cache.Kind) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, ecampus.NormalizeRollNo(rollNo), kinds...)
}
