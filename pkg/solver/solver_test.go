package solver

import (
	"testing"
	"time"
)

func solveOrFail(t *testing.T, m *Model) *Result {
	t.Helper()
	res := m.Solve(5 * time.Second)
	if res.Status != StatusOptimal {
		t.Fatalf("expected optimal, got %v", res.Status)
	}
	return res
}

func TestExactlyOnePicksCheapest(t *testing.T) {
	m := New()
	var lits []Lit
	for i := 0; i < 3; i++ {
		c := m.AddCell([]int{0, 1})
		lits = append(lits, Lit{Cell: c, Value: 1})
	}
	m.SetCost(0, 1, 10)
	m.SetCost(1, 1, 3)
	m.SetCost(2, 1, 7)
	m.AddSum(lits, nil, 1, 1)

	res := solveOrFail(t, m)
	if res.Cost != 3 {
		t.Errorf("expected cost 3, got %d", res.Cost)
	}
	want := []int{0, 1, 0}
	for i, v := range want {
		if res.Values[i] != v {
			t.Errorf("cell %d: expected value %d, got %d", i, v, res.Values[i])
		}
	}
}

func TestEmptyDomainIsInfeasible(t *testing.T) {
	m := New()
	m.AddCell([]int{0, 1})
	m.AddCell(nil)
	res := m.Solve(time.Second)
	if res.Status != StatusInfeasible {
		t.Errorf("expected infeasible, got %v", res.Status)
	}
}

func TestUnsatisfiableSumIsInfeasible(t *testing.T) {
	m := New()
	c1 := m.AddCell([]int{0})
	c2 := m.AddCell([]int{0})
	// Neither cell can ever take value 1.
	m.AddSum([]Lit{{Cell: c1, Value: 1}, {Cell: c2, Value: 1}}, nil, 1, 2)
	res := m.Solve(time.Second)
	if res.Status != StatusInfeasible {
		t.Errorf("expected infeasible, got %v", res.Status)
	}
}

func TestNegativeCoefficientEquality(t *testing.T) {
	// x - y == 0 forces the two cells to agree on value 1.
	m := New()
	x := m.AddCell([]int{0, 1})
	y := m.AddCell([]int{0, 1})
	m.AddSum([]Lit{{Cell: x, Value: 1}, {Cell: y, Value: 1}}, []int{1, -1}, 0, 0)
	m.SetCost(x, 0, 5) // push x toward 1
	res := solveOrFail(t, m)
	if res.Values[0] != res.Values[1] {
		t.Errorf("expected matching values, got %d and %d", res.Values[0], res.Values[1])
	}
	if res.Values[0] != 1 {
		t.Errorf("expected both cells at 1, got %d", res.Values[0])
	}
}

func TestDeviationTerm(t *testing.T) {
	m := New()
	var lits []Lit
	for i := 0; i < 4; i++ {
		c := m.AddCell([]int{0, 1})
		m.SetCost(c, 1, 1)
		lits = append(lits, Lit{Cell: c, Value: 1})
	}
	m.AddDeviation(lits, 2, 10)

	res := solveOrFail(t, m)
	// Two ones: deviation 0 plus two unit costs.
	if res.Cost != 2 {
		t.Errorf("expected cost 2, got %d", res.Cost)
	}
	ones := 0
	for _, v := range res.Values {
		ones += v
	}
	if ones != 2 {
		t.Errorf("expected exactly 2 ones, got %d", ones)
	}
}

func TestDeviationUnreachableTargetStillCharged(t *testing.T) {
	m := New()
	c := m.AddCell([]int{0})
	m.AddDeviation([]Lit{{Cell: c, Value: 1}}, 3, 10)
	res := solveOrFail(t, m)
	if res.Cost != 30 {
		t.Errorf("expected unavoidable deviation cost 30, got %d", res.Cost)
	}
}

func TestAtLeastAndAtMost(t *testing.T) {
	m := New()
	var lits []Lit
	for i := 0; i < 3; i++ {
		c := m.AddCell([]int{0, 1})
		m.SetCost(c, 1, 1)
		lits = append(lits, Lit{Cell: c, Value: 1})
	}
	m.AddAtLeast(lits, 2, 100)
	m.AddAtMost(lits, 2, 100)

	res := solveOrFail(t, m)
	if res.Cost != 2 {
		t.Errorf("expected 2 ones at unit cost, got cost %d", res.Cost)
	}
}

func TestAllOfTerm(t *testing.T) {
	m := New()
	var lits []Lit
	for i := 0; i < 3; i++ {
		c := m.AddCell([]int{1})
		lits = append(lits, Lit{Cell: c, Value: 1})
	}
	m.AddAllOf(lits, 77)
	res := solveOrFail(t, m)
	if res.Cost != 77 {
		t.Errorf("expected forced all-of penalty 77, got %d", res.Cost)
	}
}

func TestSolveIsDeterministic(t *testing.T) {
	build := func() *Model {
		m := New()
		var lits []Lit
		for i := 0; i < 6; i++ {
			c := m.AddCell([]int{0, 1, 2})
			m.SetCost(c, 2, int64(i%3))
			lits = append(lits, Lit{Cell: c, Value: 2})
		}
		m.AddSum(lits, nil, 2, 2)
		m.AddDeviation(lits, 2, 5)
		return m
	}
	a := build().Solve(5 * time.Second)
	b := build().Solve(5 * time.Second)
	if a.Status != StatusOptimal || b.Status != StatusOptimal {
		t.Fatalf("expected optimal on both runs, got %v and %v", a.Status, b.Status)
	}
	if a.Cost != b.Cost {
		t.Fatalf("cost drifted between runs: %d vs %d", a.Cost, b.Cost)
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			t.Errorf("cell %d drifted between runs: %d vs %d", i, a.Values[i], b.Values[i])
		}
	}
}

func TestModelReusableAcrossSolves(t *testing.T) {
	m := New()
	c := m.AddCell([]int{0, 1})
	m.SetCost(c, 1, 4)
	first := solveOrFail(t, m)
	second := solveOrFail(t, m)
	if first.Cost != second.Cost || first.Values[0] != second.Values[0] {
		t.Errorf("re-solving mutated the model: %+v vs %+v", first, second)
	}
}
