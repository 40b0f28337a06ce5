package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimora/nimora/internal/auth"
	"github.com/nimora/nimora/pkg/cache"
	"github.com/nimora/nimora/pkg/ecampus"
)

type loginRequest struct {
	RollNo   string `json:"rollno" binding:"required,rollno"`
	Password string `json:"password" binding:"required,max=128"`
}

func (r loginRequest) credentials() ecampus.Credentials {
	return ecampus.Credentials{RollNo: ecampus.NormalizeRollNo(r.RollNo), Password: r.Password}
}

type scrapeRequest struct {
	loginRequest
	Refresh bool `json:"refresh"`
}

type attendanceRequest struct {
	scrapeRequest
	Threshold *float64 `json:"threshold" binding:"omitempty,gt=0,lte=100"`
}

type internalsRequest struct {
	scrapeRequest
	TargetTotal *float64 `json:"targetTotal" binding:"omitempty,gt=0,lte=100"`
	EndsemMax   *float64 `json:"endsemMax" binding:"omitempty,gt=0,lte=200"`
}

type feedbackRequest struct {
	loginRequest
	FeedbackIndex int `json:"feedbackIndex" binding:"gte=0"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type invalidateRequest struct {
	RollNo string   `form:"rollno" binding:"omitempty,rollno"`
	Kinds  []string `form:"kind" binding:"dive,oneof=attendance cgpa internals exams profile"`
}

// bind decodes the JSON body into req and answers 400 itself on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

func badRequest(c *gin.Context, err error) {
	if fields := validationFields(err); fields != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}

// authorize checks that the caller's token, when tokens are required,
// belongs to rollNo.
func (s *Server) authorize(c *gin.Context, rollNo string) bool {
	if !s.authRequired {
		return true
	}
	claims, ok := auth.FromContext(c)
	if !ok || claims.Subject != ecampus.NormalizeRollNo(rollNo) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not belong to this roll number"})
		return false
	}
	return true
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ecampus.ErrAuthentication):
		return http.StatusUnauthorized, "invalid portal credentials"
	case errors.Is(err, ecampus.ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "portal did not respond in time"
	case errors.Is(err, ecampus.ErrExtractionMismatch):
		return http.StatusBadGateway, "portal page layout not recognised"
	case errors.Is(err, ecampus.ErrFeedbackAutomation):
		return http.StatusBadGateway, "feedback automation failed"
	case errors.Is(err, ecampus.ErrFeedbackDisabled):
		return http.StatusServiceUnavailable, "feedback automation is disabled"
	case errors.Is(err, ecampus.ErrInvalidFeedbackIndex):
		return http.StatusBadRequest, "invalid feedback index"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, msg := statusFor(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func respond(c *gin.Context, v interface{}, cached bool) {
	if cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	creds := req.credentials()
	if err := s.svc.Verify(c.Request.Context(), creds); err != nil {
		s.fail(c, err)
		return
	}
	tokens, err := s.signer.Issue(creds.RollNo)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rollNo":           creds.RollNo,
		"accessToken":      tokens.AccessToken,
		"refreshToken":     tokens.RefreshToken,
		"accessExpiresAt":  tokens.AccessExp.Unix(),
		"refreshExpiresAt": tokens.RefreshExp.Unix(),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	tokens, err := s.signer.Refresh(req.RefreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":      tokens.AccessToken,
		"refreshToken":     tokens.RefreshToken,
		"accessExpiresAt":  tokens.AccessExp.Unix(),
		"refreshExpiresAt": tokens.RefreshExp.Unix(),
	})
}

func (s *Server) handleAttendance(c *gin.Context) {
	var req attendanceRequest
	if !bind(c, &req) || !s.authorize(c, req.RollNo) {
		return
	}
	threshold := 0.0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold == 0 {
		threshold = 75
	}
	snap, cached, err := s.svc.Attendance(c.Request.Context(), req.credentials(), threshold, req.Refresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, snap, cached)
}

func (s *Server) handleCGPA(c *gin.Context) {
	var req scrapeRequest
	if !bind(c, &req) || !s.authorize(c, req.RollNo) {
		return
	}
	snap, cached, err := s.svc.CGPA(c.Request.Context(), req.credentials(), req.Refresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, snap, cached)
}

func (s *Server) handleInternals(c *gin.Context) {
	var req internalsRequest
	if !bind(c, &req) || !s.authorize(c, req.RollNo) {
		return
	}
	var target, endsem float64
	if req.TargetTotal != nil {
		target = *req.TargetTotal
	}
	if req.EndsemMax != nil {
		endsem = *req.EndsemMax
	}
	snap, cached, err := s.svc.Internals(c.Request.Context(), req.credentials(), target, endsem, req.Refresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, snap, cached)
}

func (s *Server) handleExamSchedule(c *gin.Context) {
	var req scrapeRequest
	if !bind(c, &req) || !s.authorize(c, req.RollNo) {
		return
	}
	sched, cached, err := s.svc.ExamSchedule(c.Request.Context(), req.credentials(), req.Refresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, sched, cached)
}

func (s *Server) handleUserInfo(c *gin.Context) {
	var req scrapeRequest
	if !bind(c, &req) || !s.authorize(c, req.RollNo) {
		return
	}
	info, cached, err := s.svc.UserInfo(c.Request.Context(), req.credentials(), req.Refresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, info, cached)
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if !bind(c, &req) || !s.authorize(c, req.RollNo) {
		return
	}
	res, err := s.svc.SubmitFeedback(c.Request.Context(), req.credentials(), req.FeedbackIndex)
	if err != nil {
		s.fail(c, err)
		return
	}
	if res.Failed() {
		_ = c.Error(res.Err)
		status, _ := statusFor(res.Err)
		c.AbortWithStatusJSON(status, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleInvalidate drops cached snapshots. With tokens required the roll
// number comes from the token, otherwise from the rollno query parameter.
func (s *Server) handleInvalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	rollNo := req.RollNo
	if s.authRequired {
		claims, _ := auth.FromContext(c)
		if rollNo == "" {
			rollNo = claims.Subject
		}
		if !s.authorize(c, rollNo) {
			return
		}
	}
	if rollNo == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "rollno is required"})
		return
	}
	kinds := make([]cache.Kind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds = append(kinds, cache.Kind(k))
	}
	if err := s.svc.Invalidate(c.Request.Context(), rollNo, kinds...); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
