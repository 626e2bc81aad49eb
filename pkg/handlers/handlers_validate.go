package handlers

import (
	"net/http"

	"github.com/arnavshah/duty-roster-go/pkg/models"
	"github.com/gin-gonic/gin"
)

// ValidateInput checks a planning payload without solving it: taxonomy,
// roster, calendar, requests and carryover all go through the same parsing
// the solve endpoints use.
func (h *Handler) ValidateInput(c *gin.Context) {
	var input models.PlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	if err := input.Taxonomy.Validate(); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	if len(input.Staff) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": "At least one staff member is required",
		})
		return
	}

	roster, err := input.ParseRoster()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	cal, err := models.NewCalendar(input.Year, input.Month, input.NumDays, input.ClosedDays)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	requests, err := input.ParseRequests(roster)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	if _, err := input.ParseCarryover(roster); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	requestCount := 0
	for _, byDay := range requests {
		requestCount += len(byDay)
	}
	closedCount := 0
	for _, day := range cal.Days {
		if day.Closed {
			closedCount++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"stats": gin.H{
			"staff_count":   len(roster),
			"day_count":     cal.NumDays(),
			"closed_days":   closedCount,
			"request_count": requestCount,
		},
	})
}
