package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/arnavshah/duty-roster-go/pkg/models"
)

const (
	dayC   = "C"
	nightN = "N"
)

func smallTaxonomy() models.Taxonomy {
	return models.Taxonomy{
		DayCodes:           []string{dayC},
		NightCodes:         []string{nightN},
		ExpectedNightCodes: 1,
	}
}

func pairRoster() models.Roster {
	elig := []string{models.CodeOff, dayC, nightN}
	return models.Roster{
		{Name: "A", Gender: "F", Role: models.RoleStaff, TargetOff: 1, Eligible: elig},
		{Name: "B", Gender: "M", Role: models.RoleStaff, TargetOff: 1, Eligible: elig},
	}
}

func calendar(t *testing.T, numDays int, closed []int) models.Calendar {
	t.Helper()
	cal, err := models.NewCalendar(2025, 11, numDays, closed)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return cal
}

func newPlanner(t *testing.T, roster models.Roster, tax models.Taxonomy, cal models.Calendar, req models.RequestSet, carry models.Carryover) *Planner {
	t.Helper()
	p, err := New(roster, tax, cal, req, carry, Options{TimeLimit: 5 * time.Second})
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	return p
}

func blankDraft(roster models.Roster, numDays int) models.Table {
	draft := make(models.Table, len(roster))
	for _, s := range roster {
		draft[s.Name] = make([]string, numDays)
	}
	return draft
}

// checkHardRules verifies every invariant a produced schedule must satisfy.
func checkHardRules(t *testing.T, table models.Table, roster models.Roster, tax models.Taxonomy, cal models.Calendar, allowBlank bool) {
	t.Helper()
	numDays := cal.NumDays()
	for i := range roster {
		row, ok := table[roster[i].Name]
		if !ok || len(row) != numDays {
			t.Fatalf("staff %s: missing or short row", roster[i].Name)
		}
		for d, code := range row {
			if code == models.CodeUnassigned {
				if !allowBlank {
					t.Errorf("staff %s day %d: blank cell in a completed schedule", roster[i].Name, d+1)
				}
				continue
			}
			if !roster[i].CanWork(code) {
				t.Errorf("staff %s day %d: assigned ineligible code %q", roster[i].Name, d+1, code)
			}
		}
		// Night on d holds iff rest on d+1.
		for d := 0; d < numDays-1; d++ {
			night := tax.IsNight(row[d])
			rest := row[d+1] == models.CodeRest
			if night != rest {
				t.Errorf("staff %s day %d: night=%v but next-day rest=%v", roster[i].Name, d+1, night, rest)
			}
		}
		// Rest is never followed by an active day code or another rest.
		for d := 0; d < numDays-1; d++ {
			if row[d] != models.CodeRest {
				continue
			}
			next := row[d+1]
			if tax.IsDay(next) || next == models.CodeDuty || next == models.CodeRest {
				t.Errorf("staff %s day %d: rest followed by %q", roster[i].Name, d+1, next)
			}
		}
		// At most 4 worked days in any 5.
		for d := 0; d+4 < numDays; d++ {
			worked := 0
			for k := 0; k < 5; k++ {
				c := row[d+k]
				if c != models.CodeOff && c != models.CodeUnassigned {
					worked++
				}
			}
			if worked > 4 {
				t.Errorf("staff %s: %d worked days in window starting day %d", roster[i].Name, worked, d+1)
			}
		}
		// At most 2 nights across {d, d+2, d+4}.
		for d := 0; d+4 < numDays; d++ {
			nights := 0
			for _, k := range []int{0, 2, 4} {
				if tax.IsNight(row[d+k]) {
					nights++
				}
			}
			if nights > 2 {
				t.Errorf("staff %s: night clustering in window starting day %d", roster[i].Name, d+1)
			}
		}
	}
	for d := 0; d < numDays; d++ {
		for _, code := range coverageCodes(tax) {
			count := 0
			for i := range roster {
				if table[roster[i].Name][d] == code {
					count++
				}
			}
			want := 1
			if cal.Days[d].Closed {
				want = 0
			}
			if count != want {
				t.Errorf("day %d: code %s held by %d staff, want %d", d+1, code, count, want)
			}
		}
	}
}

func TestSkeletonCoversNightsAndForcesRest(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	res := p.Skeleton()
	if !res.Status.Solved() {
		t.Fatalf("skeleton not solved: %v", res.Status)
	}
	checkHardRules(t, res.Table, roster, tax, cal, true)

	// The skeleton must not guess ordinary duty codes.
	for name, row := range res.Table {
		for d, code := range row {
			if code == dayC {
				t.Errorf("staff %s day %d: skeleton guessed a day code", name, d+1)
			}
		}
	}
}

func TestNightSpacingRejectsAlternatingNights(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 6, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	// Nights on days 1, 3 and 5 put three night shifts into one
	// {d, d+2, d+4} window.
	draft := blankDraft(roster, 6)
	draft["A"] = []string{nightN, "", nightN, "", nightN, ""}
	res, err := p.Complete(draft)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Status != models.StatusInfeasible {
		t.Errorf("expected alternating nights to be rejected, got %v", res.Status)
	}
}

func TestLongPeriodRoundTrip(t *testing.T) {
	elig := []string{models.CodeOff, dayC, nightN}
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 2, Eligible: elig},
		{Name: "B", Role: models.RoleStaff, TargetOff: 2, Eligible: elig},
		{Name: "E", Role: models.RoleStaff, TargetOff: 2, Eligible: elig},
	}
	tax := smallTaxonomy()
	cal := calendar(t, 8, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	draft := p.Skeleton()
	if !draft.Status.Solved() {
		t.Fatalf("skeleton not solved: %v", draft.Status)
	}
	checkHardRules(t, draft.Table, roster, tax, cal, true)

	res, err := p.Complete(draft.Table)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Fatalf("completion not solved: %v", res.Status)
	}
	checkHardRules(t, res.Table, roster, tax, cal, false)
}

func TestCompletionFillsSkeletonDraft(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	draft := p.Skeleton()
	if !draft.Status.Solved() {
		t.Fatalf("skeleton not solved: %v", draft.Status)
	}
	res, err := p.Complete(draft.Table)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Fatalf("completion not solved: %v", res.Status)
	}
	checkHardRules(t, res.Table, roster, tax, cal, false)

	// Draft pins must survive verbatim.
	for name, row := range draft.Table {
		for d, code := range row {
			if code != models.CodeUnassigned && res.Table[name][d] != code {
				t.Errorf("staff %s day %d: pin %q overwritten with %q", name, d+1, code, res.Table[name][d])
			}
		}
	}
}

func TestCompletionIsIdempotentOnFullPins(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	first, err := p.Complete(blankDraft(roster, 3))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !first.Status.Solved() {
		t.Fatalf("completion not solved: %v", first.Status)
	}
	second, err := p.Complete(first.Table)
	if err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	if second.Status != models.StatusOptimal {
		t.Fatalf("fully pinned re-solve should be optimal, got %v", second.Status)
	}
	for name, row := range first.Table {
		for d, code := range row {
			if second.Table[name][d] != code {
				t.Errorf("staff %s day %d: drifted from %q to %q", name, d+1, code, second.Table[name][d])
			}
		}
	}
}

func TestNightRequestOnClosedDayIsInfeasible(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 3, []int{1})
	req := models.RequestSet{"A": {0: nightN}}
	p := newPlanner(t, roster, tax, cal, req, nil)

	res := p.Skeleton()
	if res.Status != models.StatusInfeasible {
		t.Errorf("expected infeasible, got %v", res.Status)
	}
}

func TestMissingOffEligibilityStaysFeasible(t *testing.T) {
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 8, Eligible: []string{dayC, nightN}},
		{Name: "B", Role: models.RoleStaff, TargetOff: 1, Eligible: []string{models.CodeOff, dayC, nightN}},
	}
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	res, err := p.Complete(blankDraft(roster, 3))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Fatalf("completion not solved: %v", res.Status)
	}
	checkHardRules(t, res.Table, roster, tax, cal, false)
	for _, code := range res.Table["A"] {
		if code == models.CodeOff {
			t.Errorf("staff A was scheduled OFF without OFF in the eligible set")
		}
	}
	// The full 8-day deviation is unavoidable for A.
	if res.Objective < 8*DefaultWeights().OffDeviation {
		t.Errorf("expected objective to carry the full OFF deviation, got %d", res.Objective)
	}
}

func TestCarryoverNightForcesDayZeroRest(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	carry := models.Carryover{"A": {models.CodeOff, models.CodeOff, nightN}}
	p := newPlanner(t, roster, tax, cal, nil, carry)

	res := p.Skeleton()
	if !res.Status.Solved() {
		t.Fatalf("skeleton not solved: %v", res.Status)
	}
	if res.Table["A"][0] != models.CodeRest {
		t.Errorf("expected forced rest on day 1, got %q", res.Table["A"][0])
	}
}

func TestCarryoverRestRestrictsDayZero(t *testing.T) {
	roster := pairRoster()
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	carry := models.Carryover{"A": {models.CodeOff, nightN, models.CodeRest}}
	p := newPlanner(t, roster, tax, cal, nil, carry)

	res, err := p.Complete(blankDraft(roster, 3))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Fatalf("completion not solved: %v", res.Status)
	}
	got := res.Table["A"][0]
	if got != models.CodeOff && !tax.IsNight(got) {
		t.Errorf("day after rest must be off or night, got %q", got)
	}
}

func TestBoundaryWorkloadWindow(t *testing.T) {
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 0, Eligible: []string{models.CodeOff, dayC, nightN}},
	}
	tax := smallTaxonomy()
	// Both days closed: no coverage demands, the window rule stands alone.
	cal := calendar(t, 2, []int{1, 2})
	pinned := models.Table{"A": {dayC, dayC}}

	// Three worked carryover days leave room for only one more worked day.
	p := newPlanner(t, roster, tax, cal, nil, models.Carryover{"A": {dayC, dayC, dayC}})
	res, err := p.Complete(pinned)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Status != models.StatusInfeasible {
		t.Errorf("expected boundary window to reject a fifth worked day, got %v", res.Status)
	}

	// With an off day in the history the same pins fit.
	p = newPlanner(t, roster, tax, cal, nil, models.Carryover{"A": {models.CodeOff, dayC, dayC}})
	res, err = p.Complete(pinned)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Errorf("expected feasible with an off day in history, got %v", res.Status)
	}
}

func TestDutyReachableOnlyByRequest(t *testing.T) {
	elig := []string{models.CodeOff, models.CodeDuty, dayC, nightN}
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 1, Eligible: elig},
		{Name: "B", Role: models.RoleStaff, TargetOff: 1, Eligible: elig},
		{Name: "E", Role: models.RoleStaff, TargetOff: 1, Eligible: elig},
	}
	tax := smallTaxonomy()
	cal := calendar(t, 3, nil)
	req := models.RequestSet{"A": {1: models.CodeDuty}}
	p := newPlanner(t, roster, tax, cal, req, nil)

	res := p.Skeleton()
	if !res.Status.Solved() {
		t.Fatalf("skeleton not solved: %v", res.Status)
	}
	if res.Table["A"][1] != models.CodeDuty {
		t.Errorf("requested duty not honored, got %q", res.Table["A"][1])
	}
	for name, row := range res.Table {
		for d, code := range row {
			if code == models.CodeDuty && !(name == "A" && d == 1) {
				t.Errorf("staff %s day %d: duty without a request", name, d+1)
			}
		}
	}
}

func TestTimeRankForbidsBackwardJump(t *testing.T) {
	early, late := "E1", "L1"
	tax := models.Taxonomy{
		DayCodes:           []string{early, late},
		NightCodes:         []string{nightN},
		ExpectedNightCodes: 1,
		TimeRanks:          map[string]int{early: 0, late: 7},
	}
	elig := []string{models.CodeOff, early, late, nightN}
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 0, Eligible: elig},
		{Name: "B", Role: models.RoleStaff, TargetOff: 0, Eligible: elig},
		{Name: "C", Role: models.RoleStaff, TargetOff: 0, Eligible: elig},
	}
	cal := calendar(t, 2, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	draft := blankDraft(roster, 2)
	draft["A"] = []string{late, early}
	res, err := p.Complete(draft)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Status != models.StatusInfeasible {
		t.Errorf("late shift followed by early shift should be infeasible, got %v", res.Status)
	}
}

func TestManagerPrefersDayCode(t *testing.T) {
	roster := models.Roster{
		{Name: "M", Role: models.RoleManager, TargetOff: 0, Eligible: []string{models.CodeOff, dayC}},
		{Name: "A", Role: models.RoleStaff, TargetOff: 0, Eligible: []string{models.CodeOff, dayC, nightN}},
		{Name: "B", Role: models.RoleStaff, TargetOff: 0, Eligible: []string{models.CodeOff, dayC, nightN}},
	}
	tax := smallTaxonomy()
	cal := calendar(t, 1, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	res, err := p.Complete(blankDraft(roster, 1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Fatalf("completion not solved: %v", res.Status)
	}
	if res.Table["M"][0] != dayC {
		t.Errorf("expected the manager on a day code, got %q", res.Table["M"][0])
	}
}

func TestScarceDayCodeCoverage(t *testing.T) {
	scarce := "L1"
	tax := models.Taxonomy{
		DayCodes:           []string{dayC, scarce},
		NightCodes:         []string{nightN},
		ScarceDayCode:      scarce,
		ExpectedNightCodes: 1,
	}
	elig := []string{models.CodeOff, dayC, scarce, nightN}
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 0, Eligible: elig},
		{Name: "B", Role: models.RoleStaff, TargetOff: 0, Eligible: elig},
		{Name: "C", Role: models.RoleStaff, TargetOff: 0, Eligible: elig},
	}
	cal := calendar(t, 2, nil)
	p := newPlanner(t, roster, tax, cal, nil, nil)

	res, err := p.Complete(blankDraft(roster, 2))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Status.Solved() {
		t.Fatalf("completion not solved: %v", res.Status)
	}
	checkHardRules(t, res.Table, roster, tax, cal, false)
}

func TestNewRejectsWrongNightCodeCount(t *testing.T) {
	tax := models.Taxonomy{DayCodes: []string{dayC}, NightCodes: []string{"N1", "N2"}}
	_, err := New(pairRoster(), tax, calendarMust(2), nil, nil, Options{})
	var ce *models.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestNewRejectsUncoverableCode(t *testing.T) {
	roster := models.Roster{
		{Name: "A", Role: models.RoleStaff, TargetOff: 0, Eligible: []string{models.CodeOff, dayC}},
	}
	_, err := New(roster, smallTaxonomy(), calendarMust(2), nil, nil, Options{})
	var cie *CoverageImpossibleError
	if !errors.As(err, &cie) {
		t.Fatalf("expected a coverage error, got %v", err)
	}
	if len(cie.Codes) != 1 || cie.Codes[0] != nightN {
		t.Errorf("expected uncoverable code %q, got %v", nightN, cie.Codes)
	}
}

func calendarMust(numDays int) models.Calendar {
	cal, err := models.NewCalendar(2025, 11, numDays, nil)
	if err != nil {
		panic(err)
	}
	return cal
}

func TestSummarizeProjectsCounts(t *testing.T) {
	roster := models.Roster{
		{Name: "A", Role: models.RoleManager, TargetOff: 0, Eligible: []string{models.CodeOff, dayC, nightN}},
		{Name: "B", Role: models.RoleStaff, TargetOff: 0, Eligible: []string{models.CodeOff, dayC, nightN}},
	}
	tax := smallTaxonomy()
	cal := calendarMust(2)
	table := models.Table{
		"A": {nightN, models.CodeRest},
		"B": {dayC, models.CodeOff},
	}

	daily, totals := Summarize(table, roster, tax, cal)
	if daily[0].Counts[nightN] != 1 || daily[0].Counts[dayC] != 1 {
		t.Errorf("day 1 counts wrong: %v", daily[0].Counts)
	}
	if daily[0].ManagerNight != 1 || daily[0].ManagerDay != 0 {
		t.Errorf("day 1 manager counts wrong: %+v", daily[0])
	}
	if daily[1].Counts[models.CodeRest] != 1 || daily[1].Counts[models.CodeOff] != 1 {
		t.Errorf("day 2 counts wrong: %v", daily[1].Counts)
	}
	for _, st := range totals {
		switch st.Name {
		case "A":
			if st.OffDays != 0 || st.WorkedDays != 2 {
				t.Errorf("staff A totals wrong: %+v", st)
			}
		case "B":
			if st.OffDays != 1 || st.WorkedDays != 1 {
				t.Errorf("staff B totals wrong: %+v", st)
			}
		}
	}
}
