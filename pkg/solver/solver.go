// Package solver provides the boolean-constraint optimization primitive the
// roster engine hands its formulation to. The model is a set of cells, each
// taking exactly one value from a finite domain, constrained by linear
// pseudo-boolean inequalities and ranked by a weighted soft objective.
// Search is deterministic depth-first branch and bound with per-constraint
// forward checking and a wall-clock budget.
package solver

import (
	"time"
)

// Status is the outcome of a solve.
type Status int

const (
	// StatusOptimal means the search space was exhausted and the returned
	// assignment is a minimum-cost solution.
	StatusOptimal Status = iota
	// StatusFeasible means the time budget expired with an incumbent whose
	// optimality is unproven.
	StatusFeasible
	// StatusInfeasible means the search space was exhausted without finding
	// any assignment satisfying the hard constraints.
	StatusInfeasible
	// StatusTimedOut means the budget expired before any feasible
	// assignment was found.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Lit names one (cell, value) literal: true iff the cell takes the value.
type Lit struct {
	Cell  int
	Value int
}

const (
	termAtLeast = iota
	termAtMost
	termDeviation
	termAllOf
)

type cellDef struct {
	domain []int
	cost   map[int]int64
}

type linConstr struct {
	lits   []Lit
	coeffs []int
	min    int
	max    int
}

type softTerm struct {
	kind    int
	lits    []Lit
	n       int
	penalty int64
}

// Model accumulates cells, constraints and objective terms, then solves.
type Model struct {
	cells   []cellDef
	constrs []linConstr
	terms   []softTerm
}

// Result carries the outcome of one Solve call.
type Result struct {
	Status   Status
	Values   []int // per-cell chosen value, valid when Status is optimal/feasible
	Cost     int64
	Nodes    int64
	Duration time.Duration
}

// New returns an empty model.
func New() *Model {
	return &Model{}
}

// AddCell registers a decision cell with the given value domain and returns
// its id. Cells are branched on in registration order, so callers should add
// them in an order that lets related constraints bind early. An empty domain
// makes the model infeasible.
func (m *Model) AddCell(domain []int) int {
	d := make([]int, len(domain))
	copy(d, domain)
	m.cells = append(m.cells, cellDef{domain: d, cost: make(map[int]int64)})
	return len(m.cells) - 1
}

// SetCost adds cost to the objective whenever the literal (cell, value) is
// true. Costs must be non-negative; the bound computation relies on it.
func (m *Model) SetCost(cell, value int, cost int64) {
	m.cells[cell].cost[value] += cost
}

// AddSum constrains min <= sum(coeffs[i] * lits[i]) <= max. A nil coeffs
// slice means unit coefficients.
func (m *Model) AddSum(lits []Lit, coeffs []int, min, max int) {
	if coeffs == nil {
		coeffs = make([]int, len(lits))
		for i := range coeffs {
			coeffs[i] = 1
		}
	}
	ls := make([]Lit, len(lits))
	copy(ls, lits)
	cs := make([]int, len(coeffs))
	copy(cs, coeffs)
	m.constrs = append(m.constrs, linConstr{lits: ls, coeffs: cs, min: min, max: max})
}

// AddAtLeast adds penalty to the objective when fewer than n literals hold.
func (m *Model) AddAtLeast(lits []Lit, n int, penalty int64) {
	m.addTerm(termAtLeast, lits, n, penalty)
}

// AddAtMost adds penalty to the objective when more than n literals hold.
func (m *Model) AddAtMost(lits []Lit, n int, penalty int64) {
	m.addTerm(termAtMost, lits, n, penalty)
}

// AddDeviation adds perUnit * |count(lits) - target| to the objective.
func (m *Model) AddDeviation(lits []Lit, target int, perUnit int64) {
	m.addTerm(termDeviation, lits, target, perUnit)
}

// AddAllOf adds penalty to the objective when every listed literal holds.
func (m *Model) AddAllOf(lits []Lit, penalty int64) {
	m.addTerm(termAllOf, lits, 0, penalty)
}

func (m *Model) addTerm(kind int, lits []Lit, n int, penalty int64) {
	if penalty <= 0 || len(lits) == 0 {
		return
	}
	ls := make([]Lit, len(lits))
	copy(ls, lits)
	m.terms = append(m.terms, softTerm{kind: kind, lits: ls, n: n, penalty: penalty})
}

// compiled per-cell view of one linear constraint.
type constrRef struct {
	state  *constrState
	coeffs []int // aligned with the cell's domain
	minC   int
	maxC   int
}

type constrState struct {
	min, max       int
	sum            int
	remMin, remMax int
}

// compiled per-cell view of one soft term.
type termRef struct {
	state  *termState
	member []bool // aligned with the cell's domain
}

type termState struct {
	kind     int
	n        int
	penalty  int64
	cells    int // touching cells total
	count    int // literals already true
	possible int // unassigned touching cells that can still go true
	assigned int
	falses   int // touching cells assigned a non-member value
	lb       int64
}

func (ts *termState) lowerBound() int64 {
	switch ts.kind {
	case termAtLeast:
		if ts.count >= ts.n {
			return 0
		}
		if ts.count+ts.possible < ts.n {
			return ts.penalty
		}
	case termAtMost:
		if ts.count > ts.n {
			return ts.penalty
		}
	case termDeviation:
		dev := 0
		if ts.count > ts.n {
			dev = ts.count - ts.n
		}
		if short := ts.n - (ts.count + ts.possible); short > dev {
			dev = short
		}
		return ts.penalty * int64(dev)
	case termAllOf:
		if ts.falses == 0 && ts.assigned == ts.cells {
			return ts.penalty
		}
	}
	return 0
}

type search struct {
	cells      []cellDef
	order      [][]valChoice // per cell, domain sorted by cost
	minCost    []int64
	byCellC    [][]constrRef
	byCellT    [][]termRef
	constrs    []*constrState
	terms      []*termState
	values     []int
	curCost    int64
	remLinear  int64
	termLB     int64
	best       []int
	bestCost   int64
	hasBest    bool
	nodes      int64
	deadline   time.Time
	timedOut   bool
}

type valChoice struct {
	value  int
	domIdx int
	cost   int64
}

// Solve runs branch and bound under the given wall-clock budget and returns
// the best assignment found. It never mutates the model, so a model may be
// solved again with a different budget.
func (m *Model) Solve(limit time.Duration) *Result {
	start := time.Now()
	s := &search{
		cells:    m.cells,
		deadline: start.Add(limit),
	}
	res := &Result{Status: StatusInfeasible}

	n := len(m.cells)
	s.values = make([]int, n)
	s.minCost = make([]int64, n)
	s.order = make([][]valChoice, n)
	s.byCellC = make([][]constrRef, n)
	s.byCellT = make([][]termRef, n)

	for i, c := range m.cells {
		if len(c.domain) == 0 {
			res.Duration = time.Since(start)
			return res
		}
		choices := make([]valChoice, len(c.domain))
		min := int64(-1)
		for j, v := range c.domain {
			choices[j] = valChoice{value: v, domIdx: j, cost: c.cost[v]}
			if min < 0 || choices[j].cost < min {
				min = choices[j].cost
			}
		}
		// Stable insertion sort by cost keeps value order deterministic.
		for a := 1; a < len(choices); a++ {
			for b := a; b > 0 && choices[b].cost < choices[b-1].cost; b-- {
				choices[b], choices[b-1] = choices[b-1], choices[b]
			}
		}
		s.order[i] = choices
		s.minCost[i] = min
		s.remLinear += min
	}

	domIndex := func(cell, value int) (int, bool) {
		for j, v := range m.cells[cell].domain {
			if v == value {
				return j, true
			}
		}
		return 0, false
	}

	for ci := range m.constrs {
		lc := &m.constrs[ci]
		st := &constrState{min: lc.min, max: lc.max}
		perCell := make(map[int][]int)
		for li, lit := range lc.lits {
			j, ok := domIndex(lit.Cell, lit.Value)
			if !ok {
				continue // literal can never be true
			}
			if perCell[lit.Cell] == nil {
				perCell[lit.Cell] = make([]int, len(m.cells[lit.Cell].domain))
			}
			perCell[lit.Cell][j] += lc.coeffs[li]
		}
		for cell, coeffs := range perCell {
			minC, maxC := coeffs[0], coeffs[0]
			for _, co := range coeffs[1:] {
				if co < minC {
					minC = co
				}
				if co > maxC {
					maxC = co
				}
			}
			st.remMin += minC
			st.remMax += maxC
			s.byCellC[cell] = append(s.byCellC[cell], constrRef{state: st, coeffs: coeffs, minC: minC, maxC: maxC})
		}
		if st.remMax < st.min || st.remMin > st.max {
			res.Duration = time.Since(start)
			return res
		}
		s.constrs = append(s.constrs, st)
	}

	for ti := range m.terms {
		t := &m.terms[ti]
		st := &termState{kind: t.kind, n: t.n, penalty: t.penalty}
		perCell := make(map[int][]bool)
		unreachable := false
		for _, lit := range t.lits {
			j, ok := domIndex(lit.Cell, lit.Value)
			if !ok {
				// The literal can never be true. An all-of term with an
				// unreachable literal can never fire; other kinds just lose
				// one contributor.
				unreachable = true
				continue
			}
			if perCell[lit.Cell] == nil {
				perCell[lit.Cell] = make([]bool, len(m.cells[lit.Cell].domain))
			}
			perCell[lit.Cell][j] = true
		}
		if t.kind == termAllOf && unreachable {
			continue
		}
		st.cells = len(perCell)
		st.possible = len(perCell)
		for cell, member := range perCell {
			s.byCellT[cell] = append(s.byCellT[cell], termRef{state: st, member: member})
		}
		st.lb = st.lowerBound()
		s.termLB += st.lb
		s.terms = append(s.terms, st)
	}

	s.dfs(0)

	res.Nodes = s.nodes
	res.Duration = time.Since(start)
	switch {
	case s.hasBest && !s.timedOut:
		res.Status = StatusOptimal
	case s.hasBest:
		res.Status = StatusFeasible
	case s.timedOut:
		res.Status = StatusTimedOut
	default:
		res.Status = StatusInfeasible
	}
	if s.hasBest {
		res.Values = s.best
		res.Cost = s.bestCost
	}
	return res
}

func (s *search) dfs(depth int) {
	if s.timedOut {
		return
	}
	if depth == len(s.cells) {
		cost := s.curCost + s.termLB
		if !s.hasBest || cost < s.bestCost {
			s.hasBest = true
			s.bestCost = cost
			s.best = make([]int, len(s.values))
			copy(s.best, s.values)
		}
		return
	}

	for _, ch := range s.order[depth] {
		s.nodes++
		if s.nodes&1023 == 0 && time.Now().After(s.deadline) {
			s.timedOut = true
			return
		}

		ok := true
		for _, cr := range s.byCellC[depth] {
			st := cr.state
			st.sum += cr.coeffs[ch.domIdx]
			st.remMin -= cr.minC
			st.remMax -= cr.maxC
			if st.sum+st.remMax < st.min || st.sum+st.remMin > st.max {
				ok = false
			}
		}
		var termDelta int64
		for _, tr := range s.byCellT[depth] {
			st := tr.state
			st.assigned++
			st.possible--
			if tr.member[ch.domIdx] {
				st.count++
			} else {
				st.falses++
			}
			nlb := st.lowerBound()
			termDelta += nlb - st.lb
			st.lb = nlb
		}
		s.termLB += termDelta
		s.curCost += ch.cost
		s.remLinear -= s.minCost[depth]
		s.values[depth] = ch.value

		if ok {
			bound := s.curCost + s.remLinear + s.termLB
			if !s.hasBest || bound < s.bestCost {
				s.dfs(depth + 1)
			}
		}

		// Undo.
		s.remLinear += s.minCost[depth]
		s.curCost -= ch.cost
		s.termLB -= termDelta
		for _, tr := range s.byCellT[depth] {
			st := tr.state
			st.assigned--
			st.possible++
			if tr.member[ch.domIdx] {
				st.count--
			} else {
				st.falses--
			}
			st.lb = st.lowerBound()
		}
		for _, cr := range s.byCellC[depth] {
			st := cr.state
			st.sum -= cr.coeffs[ch.domIdx]
			st.remMin += cr.minC
			st.remMax += cr.maxC
		}
		if s.timedOut {
			return
		}
	}
}
