package scheduler

import (
	"github.com/arnavshah/duty-roster-go/pkg/models"
)

// Summarize projects a solved table into per-day and per-staff statistics.
// Pure function, usable after either phase; skeleton blanks simply count
// toward nothing.
func Summarize(table models.Table, roster models.Roster, tax models.Taxonomy, cal models.Calendar) ([]models.DaySummary, []models.StaffSummary) {
	tracked := append([]string{}, tax.NightCodes...)
	tracked = append(tracked, tax.DayCodes...)
	tracked = append(tracked, models.CodeOff, models.CodeDuty, models.CodeRest)

	daily := make([]models.DaySummary, cal.NumDays())
	for d := 0; d < cal.NumDays(); d++ {
		sum := models.DaySummary{
			Day:     d + 1,
			Weekday: cal.Days[d].Weekday,
			Closed:  cal.Days[d].Closed,
			Counts:  make(map[string]int, len(tracked)),
		}
		for _, code := range tracked {
			sum.Counts[code] = 0
		}
		for i := range roster {
			row, ok := table[roster[i].Name]
			if !ok || d >= len(row) {
				continue
			}
			code := row[d]
			if _, known := sum.Counts[code]; known {
				sum.Counts[code]++
			}
			if roster[i].Role == models.RoleManager {
				if tax.IsDay(code) {
					sum.ManagerDay++
				}
				if tax.IsNight(code) {
					sum.ManagerNight++
				}
			}
		}
		daily[d] = sum
	}

	totals := make([]models.StaffSummary, 0, len(roster))
	for i := range roster {
		st := models.StaffSummary{Name: roster[i].Name}
		for _, code := range table[roster[i].Name] {
			switch code {
			case models.CodeOff:
				st.OffDays++
			case models.CodeUnassigned:
				// open cell, counts toward neither
			default:
				st.WorkedDays++
			}
		}
		totals = append(totals, st)
	}
	return daily, totals
}
