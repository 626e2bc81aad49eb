package handlers

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arnavshah/duty-roster-go/pkg/auth"
	"github.com/arnavshah/duty-roster-go/pkg/database"
	"github.com/arnavshah/duty-roster-go/pkg/models"
	"github.com/arnavshah/duty-roster-go/pkg/scheduler"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed static/*
var staticEmbed embed.FS

// Handler contains dependencies for the route handlers
type Handler struct {
	DB *gorm.DB
}

// AuthMiddleware verifies the JWT token for admin routes
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Strip "Bearer " if present
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}

		claims, err := auth.VerifyToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// APIKeyMiddleware verifies the API key for roster routes using HMAC
func (h *Handler) APIKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Authorization")
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API Key required"})
			c.Abort()
			return
		}

		if len(key) > 7 && key[:7] == "Bearer " {
			key = key[7:]
		}

		userID, err := auth.VerifyHMACKey(key)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API Key signature"})
			c.Abort()
			return
		}

		// Fetch or create API key record to track usage
		var apiKey database.APIKey
		h.DB.Where(database.APIKey{Key: key}).FirstOrCreate(&apiKey, database.APIKey{
			Key:       key,
			Name:      userID,
			RateLimit: 10000,
		})
		now := time.Now()
		h.DB.Model(&apiKey).Update("last_used", &now)

		c.Set("apiKey", &apiKey)
		c.Set("userID", userID)
		c.Next()
	}
}

// buildPlanner turns the external payload into a validated planner.
func buildPlanner(in *models.PlanInput) (*scheduler.Planner, models.Roster, models.Calendar, error) {
	roster, err := in.ParseRoster()
	if err != nil {
		return nil, nil, models.Calendar{}, err
	}
	cal, err := models.NewCalendar(in.Year, in.Month, in.NumDays, in.ClosedDays)
	if err != nil {
		return nil, nil, models.Calendar{}, err
	}
	requests, err := in.ParseRequests(roster)
	if err != nil {
		return nil, nil, models.Calendar{}, err
	}
	carryover, err := in.ParseCarryover(roster)
	if err != nil {
		return nil, nil, models.Calendar{}, err
	}
	opts := scheduler.Options{}
	if in.TimeLimitSeconds > 0 {
		opts.TimeLimit = time.Duration(in.TimeLimitSeconds) * time.Second
	} else if env := os.Getenv("SOLVER_TIME_LIMIT_SECONDS"); env != "" {
		if secs, err := strconv.Atoi(env); err == nil && secs > 0 {
			opts.TimeLimit = time.Duration(secs) * time.Second
		}
	}
	p, err := scheduler.New(roster, in.Taxonomy, cal, requests, carryover, opts)
	if err != nil {
		return nil, nil, models.Calendar{}, err
	}
	return p, roster, cal, nil
}

// inputErrorStatus picks the HTTP status for a rejected payload. Coverage
// that no staff member could ever satisfy is a well-formed but unsolvable
// request, not a malformed one.
func inputErrorStatus(err error) int {
	var cov *scheduler.CoverageImpossibleError
	if errors.As(err, &cov) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// statusMessage explains a solve outcome that carries no table.
func statusMessage(status models.SolveStatus) string {
	switch status {
	case models.StatusInfeasible:
		return "No schedule satisfies the hard rules with the given pins"
	case models.StatusTimedOut:
		return "Search budget exhausted before any schedule was found"
	default:
		return ""
	}
}

func planResponse(res *scheduler.Result, roster models.Roster, tax models.Taxonomy, cal models.Calendar) models.PlanResponse {
	out := models.PlanResponse{
		Status:    res.Status,
		Objective: res.Objective,
		Message:   statusMessage(res.Status),
	}
	if res.Status.Solved() {
		daily, totals := scheduler.Summarize(res.Table, roster, tax, cal)
		out.Table = res.Table
		out.Daily = daily
		out.StaffTotals = totals
	}
	return out
}

// SkeletonJSON handles the phase-1 request: pin requests, cover the
// mandatory codes, leave ordinary duty cells open for review.
func (h *Handler) SkeletonJSON(c *gin.Context) {
	var input models.PlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, roster, cal, err := buildPlanner(&input)
	if err != nil {
		c.JSON(inputErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	res := p.Skeleton()
	h.RecordUsage(c, "skeleton", len(roster), cal.NumDays(), res)

	c.JSON(http.StatusOK, planResponse(res, roster, input.Taxonomy, cal))
}

// CompleteJSON handles the phase-2 request: every non-blank draft cell is
// pinned, every cell ends with a real code.
func (h *Handler) CompleteJSON(c *gin.Context) {
	var input models.CompleteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, roster, cal, err := buildPlanner(&input.PlanInput)
	if err != nil {
		c.JSON(inputErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	draft, err := input.ParseDraft(roster)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := p.Complete(draft)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.RecordUsage(c, "completion", len(roster), cal.NumDays(), res)

	c.JSON(http.StatusOK, planResponse(res, roster, input.Taxonomy, cal))
}

// RecordUsage records API usage in the database using an efficient upsert
// and keeps a per-solve audit row.
func (h *Handler) RecordUsage(c *gin.Context, phase string, staffCount, dayCount int, res *scheduler.Result) {
	apiKeyRaw, exists := c.Get("apiKey")
	if !exists {
		return
	}
	apiKey := apiKeyRaw.(*database.APIKey)

	today := time.Now().Format("2006-01-02")

	// Use OnConflict for a single-query upsert (supported by both Postgres and SQLite)
	h.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"total_staff":   gorm.Expr("total_staff + ?", staffCount),
			"total_days":    gorm.Expr("total_days + ?", dayCount),
		}),
	}).Create(&database.APIUsage{
		KeyID:        apiKey.ID,
		Date:         today,
		RequestCount: 1,
		TotalStaff:   staffCount,
		TotalDays:    dayCount,
	})

	h.DB.Create(&database.SolveRecord{
		KeyID:     apiKey.ID,
		Phase:     phase,
		Status:    string(res.Status),
		Objective: res.Objective,
		Staff:     staffCount,
		Days:      dayCount,
	})
}

// RosterCSV handles multipart CSV uploads for spreadsheet-driven clients.
// A draft_file switches the run to the completion phase.
func (h *Handler) RosterCSV(c *gin.Context) {
	rosterFile, _ := c.FormFile("roster_file")
	if rosterFile == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roster_file is required"})
		return
	}

	input := models.PlanInput{
		Year:    formInt(c, "year", time.Now().Year()),
		Month:   formInt(c, "month", int(time.Now().Month())),
		NumDays: formInt(c, "num_days", 0),
		Taxonomy: models.Taxonomy{
			DayCodes:           splitPipe(c.PostForm("day_codes")),
			NightCodes:         splitPipe(c.PostForm("night_codes")),
			ScarceDayCode:      strings.TrimSpace(c.PostForm("scarce_day_code")),
			ExpectedNightCodes: formInt(c, "expected_night_codes", 0),
		},
		TimeLimitSeconds: formInt(c, "time_limit_seconds", 0),
	}
	for _, raw := range splitPipe(c.PostForm("closed_days")) {
		d, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "closed_days must be numeric"})
			return
		}
		input.ClosedDays = append(input.ClosedDays, d)
	}

	if err := parseRosterCSV(rosterFile, &input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if reqFile, _ := c.FormFile("requests_file"); reqFile != nil {
		if err := parseRequestsCSV(reqFile, &input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if histFile, _ := c.FormFile("carryover_file"); histFile != nil {
		if err := parseCarryoverCSV(histFile, &input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	p, roster, cal, err := buildPlanner(&input)
	if err != nil {
		c.JSON(inputErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	var res *scheduler.Result
	phase := "skeleton"
	if draftFile, _ := c.FormFile("draft_file"); draftFile != nil {
		phase = "completion"
		draft, err := parseDraftCSV(draftFile, roster, cal.NumDays(), input.Taxonomy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err = p.Complete(draft)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		res = p.Skeleton()
	}
	h.RecordUsage(c, phase, len(roster), cal.NumDays(), res)

	if !res.Status.Solved() {
		c.JSON(http.StatusOK, gin.H{
			"status":  res.Status,
			"message": statusMessage(res.Status),
		})
		return
	}

	// Export the table as CSV, staff rows in roster order
	var outCSV strings.Builder
	writer := csv.NewWriter(&outCSV)
	header := make([]string, 0, cal.NumDays()+1)
	header = append(header, "staff")
	for d := 0; d < cal.NumDays(); d++ {
		header = append(header, fmt.Sprintf("day%d", d+1))
	}
	writer.Write(header)
	for _, s := range roster {
		row := append([]string{s.Name}, res.Table[s.Name]...)
		writer.Write(row)
	}
	writer.Flush()

	c.JSON(http.StatusOK, gin.H{
		"status":    res.Status,
		"objective": res.Objective,
		"csv":       outCSV.String(),
	})
}

func formInt(c *gin.Context, field string, def int) int {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func splitPipe(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func openCSV(fh *multipart.FileHeader) (*csv.Reader, io.Closer, map[string]int, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open %s", fh.Filename)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("failed to read header of %s", fh.Filename)
	}
	cols := make(map[string]int)
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return r, f, cols, nil
}

// parseRosterCSV reads staff rows: name,gender,role,target_off,eligible with
// the eligible codes pipe-separated.
func parseRosterCSV(fh *multipart.FileHeader, input *models.PlanInput) error {
	reader, closer, cols, err := openCSV(fh)
	if err != nil {
		return err
	}
	defer closer.Close()

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		targetOff, _ := strconv.Atoi(record[cols["target_off"]])
		input.Staff = append(input.Staff, models.StaffInput{
			Name:      record[cols["name"]],
			Gender:    record[cols["gender"]],
			Role:      models.Role(record[cols["role"]]),
			TargetOff: targetOff,
			Eligible:  strings.Join(splitPipe(record[cols["eligible"]]), ","),
		})
	}
	return nil
}

// parseRequestsCSV reads request rows: staff,day,code with 1-based days.
func parseRequestsCSV(fh *multipart.FileHeader, input *models.PlanInput) error {
	reader, closer, cols, err := openCSV(fh)
	if err != nil {
		return err
	}
	defer closer.Close()

	input.Requests = make(map[string]map[int]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		name := record[cols["staff"]]
		day, err := strconv.Atoi(record[cols["day"]])
		if err != nil {
			return fmt.Errorf("request day for %s is not numeric", name)
		}
		if input.Requests[name] == nil {
			input.Requests[name] = make(map[int]string)
		}
		input.Requests[name][day] = record[cols["code"]]
	}
	return nil
}

// parseCarryoverCSV reads history rows: staff,d3,d2,d1 holding the last
// three days of the prior period, oldest first.
func parseCarryoverCSV(fh *multipart.FileHeader, input *models.PlanInput) error {
	reader, closer, cols, err := openCSV(fh)
	if err != nil {
		return err
	}
	defer closer.Close()

	input.Carryover = make(map[string][]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		name := record[cols["staff"]]
		var hist []string
		for _, col := range []string{"d3", "d2", "d1"} {
			if i, ok := cols[col]; ok && i < len(record) {
				hist = append(hist, record[i])
			}
		}
		input.Carryover[name] = hist
	}
	return nil
}

// parseDraftCSV reads the reviewed draft: staff,day1..dayN, one row per
// staff member, blank cells free.
func parseDraftCSV(fh *multipart.FileHeader, roster models.Roster, numDays int, tax models.Taxonomy) (models.Table, error) {
	reader, closer, cols, err := openCSV(fh)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	raw := make(map[string][]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		name := record[cols["staff"]]
		row := make([]string, numDays)
		for d := 0; d < numDays; d++ {
			if i, ok := cols[fmt.Sprintf("day%d", d+1)]; ok && i < len(record) {
				row[d] = record[i]
			}
		}
		raw[name] = row
	}

	in := models.CompleteInput{Draft: raw}
	in.NumDays = numDays
	in.Taxonomy = tax
	return in.ParseDraft(roster)
}

// Login handles admin login
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user database.MasterUser
	if err := h.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := auth.CreateToken(user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// GenerateKey creates a new API key using the HMAC strategy
func (h *Handler) GenerateKey(c *gin.Context) {
	var req struct {
		Name      string `json:"name"`
		RateLimit int    `json:"rate_limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	if req.RateLimit == 0 {
		req.RateLimit = 10000
	}

	// Generate key using HMAC
	key := auth.GenerateHMACKey(req.Name)

	// Create preview (e.g., sk_...****)
	preview := ""
	if len(key) > 8 {
		preview = key[:3] + "..." + key[len(key)-4:]
	} else {
		preview = "****"
	}

	apiKey := database.APIKey{
		Key:        key,
		Name:       req.Name,
		KeyPreview: preview,
		RateLimit:  req.RateLimit,
	}

	if err := h.DB.Create(&apiKey).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create key record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name": req.Name,
		"key":  key,
	})
}

// ListKeys returns all API keys
func (h *Handler) ListKeys(c *gin.Context) {
	var keys []database.APIKey
	h.DB.Find(&keys)
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// RevokeKey deletes an API key
func (h *Handler) RevokeKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.DB.Delete(&database.APIKey{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not delete key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked"})
}

// UpdateKeyLimit updates the rate limit for a key
func (h *Handler) UpdateKeyLimit(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		RateLimit int `json:"rate_limit" form:"rate_limit"`
	}

	// Try JSON first, then Form/Query
	if err := c.ShouldBindJSON(&req); err != nil {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit is required"})
			return
		}
	}

	if req.RateLimit == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate limit"})
		return
	}

	if err := h.DB.Model(&database.APIKey{}).Where("id = ?", id).Update("rate_limit", req.RateLimit).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update key limit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rate limit updated successfully"})
}

// GetUsage returns usage stats for a key
func (h *Handler) GetUsage(c *gin.Context) {
	id := c.Param("id")
	var usage []database.APIUsage
	h.DB.Where("key_id = ?", id).Order("date desc").Limit(30).Find(&usage)
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

// GetSolves returns recent solve records for a key
func (h *Handler) GetSolves(c *gin.Context) {
	id := c.Param("id")
	var solves []database.SolveRecord
	h.DB.Where("key_id = ?", id).Order("created_at desc").Limit(50).Find(&solves)
	c.JSON(http.StatusOK, gin.H{"solves": solves})
}

// AdminInterface serves the admin web interface from embedded files
func (h *Handler) AdminInterface(c *gin.Context) {
	_ = auth.EnsureAdminExists(h.DB)

	data, err := staticEmbed.ReadFile("static/index.html")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "static/index.html not found in embedded FS"})
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

// GetStaticFS returns the embedded filesystem for static assets
func (h *Handler) GetStaticFS() http.FileSystem {
	sub, err := fs.Sub(staticEmbed, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}
