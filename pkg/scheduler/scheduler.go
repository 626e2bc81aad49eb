// Package scheduler turns a roster, a duty-code taxonomy and the period
// inputs into a boolean-constraint model and orchestrates the two solving
// phases: a skeleton pass that leaves ordinary duty cells open for human
// review, and a completion pass that pins the reviewed draft and fills every
// remaining cell.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arnavshah/duty-roster-go/pkg/models"
	"github.com/arnavshah/duty-roster-go/pkg/solver"
)

// Mode selects which solving phase a model is built for.
type Mode int

const (
	// ModeSkeleton hard-fixes requests and mandatory coverage while leaving
	// ordinary duty cells unassigned for review.
	ModeSkeleton Mode = iota
	// ModeCompletion pins every non-blank draft cell and assigns a real code
	// to every cell.
	ModeCompletion
)

// Weights rank feasible schedules. Larger means stronger preference.
type Weights struct {
	// SkeletonAssign is charged per non-placeholder assignment in phase 1,
	// which is what rewards leaving ambiguous cells open.
	SkeletonAssign int64
	// SkeletonDayCode is charged per day-code assignment not backed by a
	// request in phase 1.
	SkeletonDayCode int64
	// CriticalCoverage is charged per open day whose coverage-critical
	// day-code count falls below CriticalMinimum.
	CriticalCoverage int64
	// ManagerPresence is charged per open day with no manager on any day code.
	ManagerPresence int64
	// ManagerNightCap is charged per day with more than one manager on a
	// night code.
	ManagerNightCap int64
	// OffDeviation is charged per unit of |off-count - target| per staff.
	OffDeviation int64
	// TripleOff is charged per run of three consecutive days off.
	TripleOff int64
}

// DefaultWeights mirrors the reference configuration's relative priorities.
func DefaultWeights() Weights {
	return Weights{
		SkeletonAssign:   1,
		SkeletonDayCode:  50,
		CriticalCoverage: 5000,
		ManagerPresence:  50000,
		ManagerNightCap:  50000,
		OffDeviation:     100000,
		TripleOff:        500,
	}
}

// Options tune one planning run.
type Options struct {
	// TimeLimit bounds each solve call; zero means DefaultTimeLimit.
	TimeLimit time.Duration
	Weights   Weights
	// CriticalDayCodes are the coverage-critical codes of the completion
	// objective; nil means every non-scarce day code.
	CriticalDayCodes []string
	// CriticalMinimum is the per-day combined count below which the
	// CriticalCoverage penalty applies; zero means 1.
	CriticalMinimum int
}

// DefaultTimeLimit is the per-solve search budget.
const DefaultTimeLimit = 10 * time.Second

// CoverageImpossibleError reports mandatory-coverage codes that no staff
// member is eligible for. Detected before solving; fatal to the run.
type CoverageImpossibleError struct {
	Codes []string
}

func (e *CoverageImpossibleError) Error() string {
	return fmt.Sprintf("no eligible staff for mandatory coverage codes: %s", strings.Join(e.Codes, ", "))
}

// Result is the outcome of one phase solve.
type Result struct {
	Status    models.SolveStatus
	Table     models.Table
	Objective int64
	Nodes     int64
	Duration  time.Duration
}

// Planner holds one planning run's immutable snapshot. Each solve builds a
// disposable variable universe; nothing mutable survives between phases
// except the externally reviewed draft, which re-enters as pins.
type Planner struct {
	roster    models.Roster
	taxonomy  models.Taxonomy
	calendar  models.Calendar
	requests  models.RequestSet
	carryover models.Carryover
	opts      Options
}

// New validates the inputs and returns a planner. Configuration problems and
// impossible mandatory coverage are rejected here, before any model is built.
func New(roster models.Roster, tax models.Taxonomy, cal models.Calendar, requests models.RequestSet, carryover models.Carryover, opts Options) (*Planner, error) {
	if err := tax.Validate(); err != nil {
		return nil, err
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}
	if cal.NumDays() == 0 {
		return nil, fmt.Errorf("planning period is empty")
	}
	for _, s := range roster {
		for _, c := range s.Eligible {
			if _, ok := tax.Kind(c); !ok {
				return nil, &models.UnknownCodeError{Token: c}
			}
		}
	}

	var uncoverable []string
	for _, code := range coverageCodes(tax) {
		covered := false
		for i := range roster {
			if roster[i].CanWork(code) {
				covered = true
				break
			}
		}
		if !covered {
			uncoverable = append(uncoverable, code)
		}
	}
	if len(uncoverable) > 0 {
		return nil, &CoverageImpossibleError{Codes: uncoverable}
	}

	if opts.TimeLimit <= 0 {
		opts.TimeLimit = DefaultTimeLimit
	}
	if (opts.Weights == Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.CriticalDayCodes == nil {
		for _, c := range tax.DayCodes {
			if c != tax.ScarceDayCode {
				opts.CriticalDayCodes = append(opts.CriticalDayCodes, c)
			}
		}
	}
	if opts.CriticalMinimum == 0 {
		opts.CriticalMinimum = 1
	}
	if requests == nil {
		requests = models.RequestSet{}
	}
	if carryover == nil {
		carryover = models.Carryover{}
	}

	return &Planner{
		roster:    roster,
		taxonomy:  tax,
		calendar:  cal,
		requests:  requests,
		carryover: carryover,
		opts:      opts,
	}, nil
}

// coverageCodes lists the codes that need exactly one holder per open day.
func coverageCodes(tax models.Taxonomy) []string {
	codes := append([]string{}, tax.NightCodes...)
	if tax.ScarceDayCode != "" {
		codes = append(codes, tax.ScarceDayCode)
	}
	return codes
}

// Skeleton runs phase 1 and returns the draft for review. Unassigned cells
// appear as blanks in the returned table.
func (p *Planner) Skeleton() *Result {
	pin := func(s, d int) (string, bool) {
		return p.requests.Get(p.roster[s].Name, d)
	}
	return p.solve(ModeSkeleton, pin)
}

// Complete runs phase 2 over the reviewed draft: every non-blank cell is a
// hard pin, every blank cell is free, and every cell must end with a real
// code. The draft must be day-complete per staff.
func (p *Planner) Complete(draft models.Table) (*Result, error) {
	for _, s := range p.roster {
		row, ok := draft[s.Name]
		if !ok {
			return nil, fmt.Errorf("draft is missing a row for staff %s", s.Name)
		}
		if len(row) != p.calendar.NumDays() {
			return nil, fmt.Errorf("draft row for %s has %d cells, expected %d", s.Name, len(row), p.calendar.NumDays())
		}
	}
	pin := func(s, d int) (string, bool) {
		code := draft[p.roster[s].Name][d]
		return code, code != models.CodeUnassigned
	}
	return p.solve(ModeCompletion, pin), nil
}

// boundaryFacts are the fixed pre-period facts derived from carryover.
type boundaryFacts struct {
	forceRest bool   // day 0 must be rest-after-night
	afterRest bool   // day 0 excludes day codes, duty and rest
	worked    [3]int // d-3, d-2, d-1 worked flags
}

func (p *Planner) resolveCarryover(name string) boundaryFacts {
	row, ok := p.carryover[name]
	if !ok {
		row = [3]string{models.CodeOff, models.CodeOff, models.CodeOff}
	}
	var f boundaryFacts
	f.forceRest = p.taxonomy.IsNight(row[2])
	f.afterRest = row[2] == models.CodeRest
	for i, code := range row {
		if code != models.CodeOff && code != models.CodeUnassigned {
			f.worked[i] = 1
		}
	}
	return f
}

func (p *Planner) solve(mode Mode, pin func(s, d int) (string, bool)) *Result {
	mdl, codes := p.build(mode, pin)
	sr := mdl.Solve(p.opts.TimeLimit)

	res := &Result{
		Objective: sr.Cost,
		Nodes:     sr.Nodes,
		Duration:  sr.Duration,
	}
	switch sr.Status {
	case solver.StatusOptimal:
		res.Status = models.StatusOptimal
	case solver.StatusFeasible:
		res.Status = models.StatusFeasible
	case solver.StatusTimedOut:
		res.Status = models.StatusTimedOut
	default:
		res.Status = models.StatusInfeasible
	}
	if !res.Status.Solved() {
		return res
	}

	numDays := p.calendar.NumDays()
	res.Table = make(models.Table, len(p.roster))
	for s := range p.roster {
		row := make([]string, numDays)
		for d := 0; d < numDays; d++ {
			row[d] = codes[sr.Values[d*len(p.roster)+s]]
		}
		res.Table[p.roster[s].Name] = row
	}
	return res
}

// build constructs the variable universe and the full hard-constraint set,
// plus the mode's objective. Building never fails; contradictions surface as
// infeasibility at solve time.
func (p *Planner) build(mode Mode, pin func(s, d int) (string, bool)) (*solver.Model, []string) {
	tax := p.taxonomy
	numStaff := len(p.roster)
	numDays := p.calendar.NumDays()
	codes := tax.Universe(mode == ModeSkeleton)
	idx := make(map[string]int, len(codes))
	for i, c := range codes {
		idx[c] = i
	}

	cell := func(s, d int) int { return d*numStaff + s }
	lit := func(s, d int, code string) solver.Lit {
		return solver.Lit{Cell: cell(s, d), Value: idx[code]}
	}
	facts := make([]boundaryFacts, numStaff)
	for s := range p.roster {
		facts[s] = p.resolveCarryover(p.roster[s].Name)
	}

	mdl := solver.New()

	// Cells day-major so per-day coverage binds as early as possible.
	for d := 0; d < numDays; d++ {
		day := p.calendar.Days[d]
		for s := range p.roster {
			staff := &p.roster[s]
			pinCode, pinned := pin(s, d)
			var domain []int
			for _, code := range codes {
				if !staff.CanWork(code) {
					continue
				}
				if code == models.CodeDuty && (!pinned || pinCode != models.CodeDuty) {
					continue
				}
				if day.Closed && (tax.IsNight(code) || (tax.ScarceDayCode != "" && code == tax.ScarceDayCode)) {
					continue
				}
				if d == 0 {
					// Rest on day one is exactly the echo of a final carryover
					// night; the in-period pairing starts at day two.
					if facts[s].forceRest != (code == models.CodeRest) {
						continue
					}
					if facts[s].afterRest && (tax.IsDay(code) || code == models.CodeDuty) {
						continue
					}
				}
				if pinned && code != pinCode {
					continue
				}
				domain = append(domain, idx[code])
			}
			mdl.AddCell(domain)
		}
	}

	// Mandatory single-holder coverage on open days; nothing on closed days
	// (closed-day exclusion is already structural in the domains).
	for d := 0; d < numDays; d++ {
		if p.calendar.Days[d].Closed {
			continue
		}
		for _, code := range coverageCodes(tax) {
			lits := make([]solver.Lit, 0, numStaff)
			for s := 0; s < numStaff; s++ {
				lits = append(lits, lit(s, d, code))
			}
			mdl.AddSum(lits, nil, 1, 1)
		}
	}

	// Rest propagation: rest on d+1 iff any night on d, and a rest day is
	// never followed by an active day code or another rest.
	for s := 0; s < numStaff; s++ {
		for d := 0; d < numDays-1; d++ {
			lits := make([]solver.Lit, 0, len(tax.NightCodes)+1)
			coeffs := make([]int, 0, len(tax.NightCodes)+1)
			for _, nc := range tax.NightCodes {
				lits = append(lits, lit(s, d, nc))
				coeffs = append(coeffs, 1)
			}
			lits = append(lits, lit(s, d+1, models.CodeRest))
			coeffs = append(coeffs, -1)
			mdl.AddSum(lits, coeffs, 0, 0)

			after := []solver.Lit{lit(s, d, models.CodeRest)}
			for _, dc := range tax.DayCodes {
				after = append(after, lit(s, d+1, dc))
			}
			after = append(after, lit(s, d+1, models.CodeDuty), lit(s, d+1, models.CodeRest))
			mdl.AddSum(after, nil, 0, 1)
		}
	}

	// Workload windows: at most 4 worked days in any 5, equivalently at
	// least one off-ish day per window. The skeleton placeholder counts as
	// not worked. Boundary windows fold the carryover worked flags into the
	// bound; windows that do not fit a short period are skipped.
	offish := []string{models.CodeOff}
	if mode == ModeSkeleton {
		offish = append(offish, models.CodeUnassigned)
	}
	offLits := func(s, from, span int) []solver.Lit {
		lits := make([]solver.Lit, 0, span*len(offish))
		for k := 0; k < span; k++ {
			for _, oc := range offish {
				lits = append(lits, lit(s, from+k, oc))
			}
		}
		return lits
	}
	for s := 0; s < numStaff; s++ {
		w := facts[s].worked
		boundary := []struct {
			span  int
			prior int
		}{
			{2, w[0] + w[1] + w[2]},
			{3, w[1] + w[2]},
			{4, w[2]},
		}
		for _, b := range boundary {
			if numDays < b.span {
				continue
			}
			minOff := b.span - (4 - b.prior)
			if minOff <= 0 {
				continue
			}
			lits := offLits(s, 0, b.span)
			mdl.AddSum(lits, nil, minOff, len(lits))
		}
		for d := 0; d+4 < numDays; d++ {
			lits := offLits(s, d, 5)
			mdl.AddSum(lits, nil, 1, len(lits))
		}
	}

	// Night spacing: over days {d, d+2, d+4}, at most two night shifts.
	for s := 0; s < numStaff; s++ {
		for d := 0; d+4 < numDays; d++ {
			lits := make([]solver.Lit, 0, 3*len(tax.NightCodes))
			for _, k := range []int{0, 2, 4} {
				for _, nc := range tax.NightCodes {
					lits = append(lits, lit(s, d+k, nc))
				}
			}
			mdl.AddSum(lits, nil, 0, 2)
		}
	}

	// Time-rank ordering between consecutive days, when configured.
	if len(tax.TimeRanks) > 0 {
		ranked := make([]string, 0, len(tax.TimeRanks))
		for c := range tax.TimeRanks {
			ranked = append(ranked, c)
		}
		sort.Strings(ranked)
		for s := 0; s < numStaff; s++ {
			for d := 0; d < numDays-1; d++ {
				for _, a := range ranked {
					lits := []solver.Lit{lit(s, d, a)}
					for _, b := range ranked {
						if tax.TimeRanks[b] < tax.TimeRanks[a]-1 {
							lits = append(lits, lit(s, d+1, b))
						}
					}
					if len(lits) > 1 {
						mdl.AddSum(lits, nil, 0, 1)
					}
				}
			}
		}
	}

	if mode == ModeSkeleton {
		p.skeletonObjective(mdl, pin, idx)
	} else {
		p.completionObjective(mdl, pin, lit)
	}
	return mdl, codes
}

// skeletonObjective discourages guessing: any real assignment costs a unit,
// an unrequested day code costs more, leaving a cell open costs nothing.
func (p *Planner) skeletonObjective(mdl *solver.Model, pin func(s, d int) (string, bool), idx map[string]int) {
	w := p.opts.Weights
	numStaff := len(p.roster)
	for d := 0; d < p.calendar.NumDays(); d++ {
		for s := 0; s < numStaff; s++ {
			c := d*numStaff + s
			pinCode, pinned := pin(s, d)
			for code, v := range idx {
				if code == models.CodeUnassigned {
					continue
				}
				cost := w.SkeletonAssign
				if p.taxonomy.IsDay(code) && !(pinned && pinCode == code) {
					cost += w.SkeletonDayCode
				}
				mdl.SetCost(c, v, cost)
			}
		}
	}
}

// completionObjective adds the soft staffing and fairness terms.
func (p *Planner) completionObjective(mdl *solver.Model, pin func(s, d int) (string, bool), lit func(s, d int, code string) solver.Lit) {
	w := p.opts.Weights
	tax := p.taxonomy
	numStaff := len(p.roster)
	numDays := p.calendar.NumDays()

	for d := 0; d < numDays; d++ {
		if !p.calendar.Days[d].Closed {
			var critical []solver.Lit
			for s := 0; s < numStaff; s++ {
				for _, code := range p.opts.CriticalDayCodes {
					critical = append(critical, lit(s, d, code))
				}
			}
			mdl.AddAtLeast(critical, p.opts.CriticalMinimum, w.CriticalCoverage)

			var mgrDay []solver.Lit
			for s := 0; s < numStaff; s++ {
				if p.roster[s].Role != models.RoleManager {
					continue
				}
				for _, code := range tax.DayCodes {
					mgrDay = append(mgrDay, lit(s, d, code))
				}
			}
			mdl.AddAtLeast(mgrDay, 1, w.ManagerPresence)
		}

		var mgrNight []solver.Lit
		for s := 0; s < numStaff; s++ {
			if p.roster[s].Role != models.RoleManager {
				continue
			}
			for _, code := range tax.NightCodes {
				mgrNight = append(mgrNight, lit(s, d, code))
			}
		}
		mdl.AddAtMost(mgrNight, 1, w.ManagerNightCap)
	}

	for s := 0; s < numStaff; s++ {
		offs := make([]solver.Lit, 0, numDays)
		pinnedOffs := 0
		for d := 0; d < numDays; d++ {
			offs = append(offs, lit(s, d, models.CodeOff))
			if code, ok := pin(s, d); ok && code == models.CodeOff {
				pinnedOffs++
			}
		}
		target := p.roster[s].TargetOff
		if pinnedOffs > target {
			target = pinnedOffs
		}
		mdl.AddDeviation(offs, target, w.OffDeviation)

		for d := 0; d+2 < numDays; d++ {
			run := []solver.Lit{
				lit(s, d, models.CodeOff),
				lit(s, d+1, models.CodeOff),
				lit(s, d+2, models.CodeOff),
			}
			mdl.AddAllOf(run, w.TripleOff)
		}
	}
}
