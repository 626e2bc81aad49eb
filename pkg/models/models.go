package models

import (
	"fmt"
	"time"
)

// Canonical special code tokens. Day and night duty codes are configurable
// through the Taxonomy; these four are always present.
const (
	CodeOff        = "OFF"  // day off
	CodeRest       = "REST" // mandatory rest on the day after a night shift
	CodeDuty       = "DUTY" // restricted daytime duty, reachable only by request
	CodeUnassigned = ""     // skeleton-phase placeholder, rendered blank
)

// DefaultNightCodes is the night-code cardinality of the reference
// configuration. One holder per night code per open day.
const DefaultNightCodes = 3

// Role of a staff member.
type Role string

const (
	RoleManager Role = "Manager"
	RoleStaff   Role = "Staff"
)

// CodeKind classifies a shift code within a taxonomy.
type CodeKind int

const (
	KindDay CodeKind = iota
	KindNight
	KindDuty
	KindRest
	KindOff
	KindUnassigned
)

// Taxonomy is the configurable duty-code vocabulary for one planning run.
type Taxonomy struct {
	DayCodes      []string `json:"day_codes"`
	NightCodes    []string `json:"night_codes"`
	ScarceDayCode string   `json:"scarce_day_code"`
	// TimeRanks optionally orders day codes by start time. A ranked code may
	// not be followed next day by a code more than one rank earlier.
	TimeRanks map[string]int `json:"time_ranks,omitempty"`
	// ExpectedNightCodes overrides the required night-code count; zero means
	// DefaultNightCodes.
	ExpectedNightCodes int `json:"expected_night_codes,omitempty"`
}

// ConfigurationError reports a malformed taxonomy. It names the offending
// element so the caller can fix the configuration.
type ConfigurationError struct {
	Element string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid shift-code configuration: %s: %s", e.Element, e.Reason)
}

// UnknownCodeError reports a token that does not normalize to any code in the
// current taxonomy. Unknown codes are rejected at ingestion, never ignored.
type UnknownCodeError struct {
	Token string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown shift code %q", e.Token)
}

// Validate checks the taxonomy before any constraint construction.
func (t *Taxonomy) Validate() error {
	want := t.ExpectedNightCodes
	if want == 0 {
		want = DefaultNightCodes
	}
	if len(t.NightCodes) != want {
		return &ConfigurationError{
			Element: "night_codes",
			Reason:  fmt.Sprintf("expected exactly %d night codes, got %d", want, len(t.NightCodes)),
		}
	}
	seen := make(map[string]bool)
	for _, c := range append(append([]string{}, t.DayCodes...), t.NightCodes...) {
		if c == "" {
			return &ConfigurationError{Element: "codes", Reason: "empty code"}
		}
		if c == CodeOff || c == CodeRest || c == CodeDuty {
			return &ConfigurationError{Element: c, Reason: "collides with a reserved special code"}
		}
		if seen[c] {
			return &ConfigurationError{Element: c, Reason: "duplicate code"}
		}
		seen[c] = true
	}
	if t.ScarceDayCode != "" && !t.isDayCode(t.ScarceDayCode) {
		return &ConfigurationError{
			Element: t.ScarceDayCode,
			Reason:  "scarce day code is not a member of day_codes",
		}
	}
	for c := range t.TimeRanks {
		if !t.isDayCode(c) {
			return &ConfigurationError{Element: c, Reason: "time rank assigned to a non-day code"}
		}
	}
	return nil
}

func (t *Taxonomy) isDayCode(code string) bool {
	for _, c := range t.DayCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Kind returns the classification of a canonical code.
func (t *Taxonomy) Kind(code string) (CodeKind, bool) {
	switch code {
	case CodeOff:
		return KindOff, true
	case CodeRest:
		return KindRest, true
	case CodeDuty:
		return KindDuty, true
	case CodeUnassigned:
		return KindUnassigned, true
	}
	if t.isDayCode(code) {
		return KindDay, true
	}
	for _, c := range t.NightCodes {
		if c == code {
			return KindNight, true
		}
	}
	return 0, false
}

// IsNight reports whether code is one of the configured night codes.
func (t *Taxonomy) IsNight(code string) bool {
	k, ok := t.Kind(code)
	return ok && k == KindNight
}

// IsDay reports whether code is one of the configured day codes.
func (t *Taxonomy) IsDay(code string) bool {
	k, ok := t.Kind(code)
	return ok && k == KindDay
}

// Universe lists every reachable code. The skeleton phase additionally
// reaches the unassigned placeholder; the completion phase never does.
func (t *Taxonomy) Universe(includeUnassigned bool) []string {
	out := make([]string, 0, len(t.DayCodes)+len(t.NightCodes)+4)
	out = append(out, t.DayCodes...)
	out = append(out, t.NightCodes...)
	out = append(out, CodeDuty, CodeRest, CodeOff)
	if includeUnassigned {
		out = append(out, CodeUnassigned)
	}
	return out
}

// StaffMember is one roster entry, immutable during a solve. The eligible
// set must explicitly contain OFF for the member to ever be scheduled off;
// a missing OFF is a modeling error and is not auto-corrected.
type StaffMember struct {
	Name      string   `json:"name"`
	Gender    string   `json:"gender"`
	Role      Role     `json:"role"`
	TargetOff int      `json:"target_off"`
	Eligible  []string `json:"eligible"`
}

// CanWork reports whether code is reachable for the member. The eligible
// set governs duties and OFF; rest-after-night is a forced consequence of a
// night shift and the skeleton placeholder is a non-assignment, so both are
// reachable for everyone.
func (s *StaffMember) CanWork(code string) bool {
	if code == CodeUnassigned || code == CodeRest {
		return true
	}
	for _, c := range s.Eligible {
		if c == code {
			return true
		}
	}
	return false
}

// Roster is the ordered staff list for one planning run.
type Roster []StaffMember

// Validate checks names are unique and non-empty and targets non-negative.
func (r Roster) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("roster is empty")
	}
	seen := make(map[string]bool)
	for _, s := range r {
		if s.Name == "" {
			return fmt.Errorf("roster contains a staff member without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate staff name: %s", s.Name)
		}
		seen[s.Name] = true
		if s.TargetOff < 0 {
			return fmt.Errorf("staff %s: negative target day-off count", s.Name)
		}
		if s.Role != RoleManager && s.Role != RoleStaff {
			return fmt.Errorf("staff %s: unknown role %q", s.Name, s.Role)
		}
	}
	return nil
}

// Index returns the position of the named member, or -1.
func (r Roster) Index(name string) int {
	for i := range r {
		if r[i].Name == name {
			return i
		}
	}
	return -1
}

// Day is one calendar slot of the planning period.
type Day struct {
	Index   int    `json:"index"` // zero-based
	Weekday string `json:"weekday"`
	Closed  bool   `json:"closed"`
}

// Calendar is the day-indexed planning period.
type Calendar struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Days  []Day `json:"days"`
}

// NewCalendar builds the period calendar. closedDays uses 1-based day
// numbers, matching the external closed-day list.
func NewCalendar(year, month, numDays int, closedDays []int) (Calendar, error) {
	if numDays <= 0 {
		return Calendar{}, fmt.Errorf("planning period must cover at least one day")
	}
	closed := make(map[int]bool, len(closedDays))
	for _, d := range closedDays {
		if d < 1 || d > numDays {
			return Calendar{}, fmt.Errorf("closed day %d outside planning period of %d days", d, numDays)
		}
		closed[d] = true
	}
	cal := Calendar{Year: year, Month: month, Days: make([]Day, numDays)}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < numDays; i++ {
		cal.Days[i] = Day{
			Index:   i,
			Weekday: start.AddDate(0, 0, i).Weekday().String()[:3],
			Closed:  closed[i+1],
		}
	}
	return cal, nil
}

// NumDays returns the period length.
func (c *Calendar) NumDays() int { return len(c.Days) }

// RequestSet maps staff name to zero-based day index to the requested code.
type RequestSet map[string]map[int]string

// Get returns the request for (name, day) if present.
func (r RequestSet) Get(name string, day int) (string, bool) {
	m, ok := r[name]
	if !ok {
		return "", false
	}
	code, ok := m[day]
	return code, ok
}

// Carryover holds, per staff, the effective codes of the prior period's last
// three days, oldest first. Blanks default to OFF at ingestion.
type Carryover map[string][3]string

// Table is a per-staff, day-indexed code table. A blank cell means
// unassigned (free in the completion phase).
type Table map[string][]string

// SolveStatus is the outcome of one solve call.
type SolveStatus string

const (
	StatusOptimal    SolveStatus = "OPTIMAL"
	StatusFeasible   SolveStatus = "FEASIBLE_NOT_PROVEN"
	StatusInfeasible SolveStatus = "INFEASIBLE"
	StatusTimedOut   SolveStatus = "TIMED_OUT_NO_SOLUTION"
)

// Solved reports whether the status carries a usable schedule.
func (s SolveStatus) Solved() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// DaySummary is the per-day projection of a solved table.
type DaySummary struct {
	Day          int            `json:"day"` // 1-based
	Weekday      string         `json:"weekday"`
	Closed       bool           `json:"closed"`
	Counts       map[string]int `json:"counts"`
	ManagerDay   int            `json:"manager_day"`
	ManagerNight int            `json:"manager_night"`
}

// StaffSummary is the per-staff projection of a solved table.
type StaffSummary struct {
	Name       string `json:"name"`
	OffDays    int    `json:"off_days"`
	WorkedDays int    `json:"worked_days"`
}
