package ecampus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimora/nimora/pkg/browser"
)

// newPortalServer imitates the studzone login flow and the pages behind it.
func newPortalServer(t *testing.T) *httptest.Server {
	t.Helper()
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("ASP.NET_SessionId"); err != nil || c.Value != "s1" {
				http.Redirect(w, r, "/studzone", http.StatusFound)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/studzone", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<html><body><form method="post" action="/studzone">
<input type="hidden" name="__RequestVerificationToken" value="tok">
<input name="rollno"><input name="pass" type="password">
<input type="submit" value="Login"></form></body></html>`)
			return
		}
		r.ParseForm()
		if r.PostForm.Get("__RequestVerificationToken") != "tok" || r.PostForm.Get("rollno") != "22z201" || r.PostForm.Get("pass") != "pw" {
			fmt.Fprint(w, `<html><body><span class="text-danger">Invalid Roll No or Password</span></body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "s1", Path: "/"})
		http.Redirect(w, r, "/studzone/Home", http.StatusFound)
	})
	mux.HandleFunc("/studzone/Home", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h5>Dashboard</h5></body></html>`)
	}))
	mux.HandleFunc(coursePlanPath, authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, coursePlanHTML)
	}))
	mux.HandleFunc(attendancePath, authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, attendanceHTML)
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPortalAttendance(t *testing.T) {
	srv := newPortalServer(t)
	p := NewProvider(&browser.HTTPLauncher{}, Config{BaseURL: srv.URL})

	var snap *AttendanceSnapshot
	err := p.WithSession(context.Background(), Studzone, Credentials{RollNo: "22z201", Password: "pw"}, func(s *Session) error {
		var err error
		snap, err = s.Attendance(context.Background(), 75)
		return err
	})
	if err != nil {
		t.Fatalf("Attendance() error = %v", err)
	}
	if snap.RollNo != "22Z201" || snap.StudentName != "Asha R" || snap.Threshold != 75 {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if len(snap.Courses) != 2 || snap.Courses[0].CourseName != "19Z601 - DAA" || snap.Courses[1].CourseName != "19Z602 - ML" {
		t.Fatalf("unexpected courses %+v", snap.Courses)
	}
	if snap.OverallPercentage != 62.5 {
		t.Fatalf("OverallPercentage = %v", snap.OverallPercentage)
	}
}

func TestPortalBadPassword(t *testing.T) {
	srv := newPortalServer(t)
	p := NewProvider(&browser.HTTPLauncher{}, Config{BaseURL: srv.URL})

	_, err := p.Authenticate(context.Background(), Studzone, Credentials{RollNo: "22z201", Password: "nope"})
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthentication", err)
	}
}
