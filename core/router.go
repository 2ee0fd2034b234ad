package core

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

// NewRouter constructs the Gin engine with the judge surface wired. Problem
// and user management endpoints live in the catalog service, not here.
func NewRouter(cfg Config, store *sessions.CookieStore, authService AuthService,
	svc *JudgeService, metrics *MetricsService) *gin.Engine {
	r := gin.Default()

	r.Use(SessionMiddleware(cfg, store))
	r.Use(CSRFMiddleware(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION", "invalid json")
				return
			}

			user, err := authService.Authenticate(c.Request.Context(), req.Username, req.Password)
			if err != nil {
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "wrong username or password")
				return
			}

			sess := sessionOf(c)
			sess.Values = map[interface{}]interface{}{}
			sess.Values["user_id"] = user.ID
			sess.Values["username"] = user.Username
			sess.Values["role"] = user.Role
			applySessionOptions(cfg, sess)
			if err := sess.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
				return
			}
			c.JSON(http.StatusOK, gin.H{"user": gin.H{"username": user.Username, "role": user.Role}})
		})

		api.POST("/auth/logout", func(c *gin.Context) {
			sess := sessionOf(c)
			if sess == nil {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
				return
			}
			sess.Values = map[interface{}]interface{}{}
			applySessionOptions(cfg, sess)
			sess.Options.MaxAge = -1
			if err := sess.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.POST("/submissions", func(c *gin.Context) {
			userID, _, ok := requireLogin(c)
			if !ok {
				return
			}
			var req struct {
				ProblemID string            `json:"problem_id"`
				Code      string            `json:"code"`
				Language  string            `json:"language"`
				Metadata  map[string]string `json:"metadata"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION", "invalid json")
				return
			}
			sub, err := svc.CreateSubmission(c.Request.Context(), userID, req.ProblemID, req.Code, req.Language, req.Metadata)
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusCreated, submissionJSON(sub))
		})

		api.GET("/submissions/:id", func(c *gin.Context) {
			if _, _, ok := requireLogin(c); !ok {
				return
			}
			sub, err := svc.GetSubmission(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, submissionJSON(sub))
		})

		api.GET("/submissions", func(c *gin.Context) {
			userID, _, ok := requireLogin(c)
			if !ok {
				return
			}
			limit := intQuery(c, "limit", 50)
			offset := intQuery(c, "offset", 0)

			var (
				items []SubmissionListItem
				err   error
			)
			if problemID := c.Query("problem_id"); problemID != "" {
				items, err = svc.ListProblemSubmissions(c.Request.Context(), problemID, limit, offset)
			} else {
				items, err = svc.ListUserSubmissions(c.Request.Context(), userID, limit, offset)
			}
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"submissions": items})
		})

		api.POST("/submissions/:id/rejudge", AdminOnly(), func(c *gin.Context) {
			sub, err := svc.Rejudge(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, submissionJSON(sub))
		})

		api.POST("/executions", func(c *gin.Context) {
			if _, _, ok := requireLogin(c); !ok {
				return
			}
			var req struct {
				Code          string `json:"code"`
				Language      string `json:"language"`
				Input         string `json:"input"`
				TimeLimitMS   int    `json:"time_limit_ms"`
				MemoryLimitMB int    `json:"memory_limit_mb"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION", "invalid json")
				return
			}
			exec, err := svc.Execute(c.Request.Context(), req.Code, req.Language, req.Input, req.TimeLimitMS, req.MemoryLimitMB)
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, executionJSON(exec))
		})

		api.GET("/executions/:id", func(c *gin.Context) {
			if _, _, ok := requireLogin(c); !ok {
				return
			}
			exec, err := svc.GetExecution(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, executionJSON(exec))
		})

		api.GET("/executions", AdminOnly(), func(c *gin.Context) {
			execs, err := svc.ListRecentExecutions(c.Request.Context(), intQuery(c, "limit", 50))
			if err != nil {
				respondDomainError(c, err)
				return
			}
			out := make([]gin.H, 0, len(execs))
			for i := range execs {
				out = append(out, executionJSON(&execs[i]))
			}
			c.JSON(http.StatusOK, gin.H{"executions": out})
		})

		api.GET("/status", AdminOnly(), func(c *gin.Context) {
			report, err := metrics.Health(c.Request.Context())
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, report)
		})

		api.GET("/workers", AdminOnly(), func(c *gin.Context) {
			workers, err := metrics.Workers(c.Request.Context())
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"workers": workers})
		})

		api.GET("/workers/:id", AdminOnly(), func(c *gin.Context) {
			hb, err := metrics.WorkerByID(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondError(c, http.StatusNotFound, KindNotFound, "worker not found")
				return
			}
			items, err := metrics.WorkerItems(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondDomainError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"heartbeat": hb, "items": items})
		})
	}

	return r
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func submissionJSON(sub *Submission) gin.H {
	cases := make([]gin.H, 0, len(sub.CaseResults))
	for _, cr := range sub.CaseResults {
		cases = append(cases, gin.H{
			"case_id":           cr.CaseID,
			"verdict":           cr.Verdict,
			"points_awarded":    cr.PointsAwarded,
			"execution_time_ms": cr.ExecutionTimeMS,
			"memory_used_kb":    cr.MemoryUsedKB,
			"exit_code":         cr.ExitCode,
			"feedback":          cr.Feedback,
		})
	}
	return gin.H{
		"id":                sub.ID,
		"problem_id":        sub.ProblemID,
		"user_id":           sub.UserID,
		"language":          sub.Language,
		"status":            sub.Status,
		"result":            sub.Result,
		"total_points":      sub.TotalPoints,
		"max_points":        sub.MaxPoints,
		"execution_time_ms": sub.ExecutionTimeMS,
		"memory_usage_kb":   sub.MemoryUsageKB,
		"compile_error":     sub.CompileError,
		"case_results":      cases,
		"created_at":        sub.CreatedAt,
		"judged_at":         sub.JudgedAt,
	}
}

func executionJSON(exec *CodeExecution) gin.H {
	return gin.H{
		"id":              exec.ID,
		"language":        exec.Language,
		"status":          exec.Status,
		"time_limit_ms":   exec.TimeLimitMS,
		"memory_limit_mb": exec.MemoryLimitMB,
		"result":          exec.Result,
		"created_at":      exec.CreatedAt,
	}
}

