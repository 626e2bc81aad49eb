package models

import (
	"fmt"
	"strings"
)

// Legacy tokens from the spreadsheet era, accepted at ingestion only.
var codeAliases = map[string]string{
	"日":  CodeDuty,
	"明":  CodeRest,
	"公休": CodeOff,
}

// Normalize maps one raw token to its canonical code, or fails. It is the
// single entry point for free-text codes; nothing downstream re-normalizes.
func (t *Taxonomy) Normalize(raw string) (string, error) {
	tok := strings.TrimSpace(raw)
	if tok == "" {
		return CodeUnassigned, nil
	}
	if alias, ok := codeAliases[tok]; ok {
		tok = alias
	}
	if _, ok := t.Kind(tok); !ok {
		return "", &UnknownCodeError{Token: raw}
	}
	return tok, nil
}

// ParseEligible parses a comma-separated eligible-code string against the
// taxonomy. Blank entries are dropped; unknown codes are an error.
func (t *Taxonomy) ParseEligible(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		code, err := t.Normalize(part)
		if err != nil {
			return nil, err
		}
		if code == CodeUnassigned {
			continue
		}
		out = append(out, code)
	}
	return out, nil
}

// StaffInput is one roster row as supplied by collaborators, with the
// eligible-code set still in its comma-separated form.
type StaffInput struct {
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	Role      Role   `json:"role"`
	TargetOff int    `json:"target_off"`
	Eligible  string `json:"eligible"`
}

// PlanInput is the full external payload for a phase-1 (skeleton) run.
type PlanInput struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	NumDays int `json:"num_days"`

	Taxonomy Taxonomy     `json:"taxonomy"`
	Staff    []StaffInput `json:"staff"`

	// Requests maps staff name to 1-based day number to a requested code.
	Requests map[string]map[int]string `json:"requests,omitempty"`
	// Carryover maps staff name to the prior period's last days, oldest
	// first; up to three entries, blanks meaning OFF.
	Carryover map[string][]string `json:"carryover,omitempty"`
	// ClosedDays lists 1-based day numbers with no coverage requirement.
	ClosedDays []int `json:"closed_days,omitempty"`

	TimeLimitSeconds int `json:"time_limit_seconds,omitempty"`
}

// CompleteInput is the payload for a phase-2 (completion) run: the plan
// inputs plus the reviewed draft table.
type CompleteInput struct {
	PlanInput
	// Draft maps staff name to a full day-indexed row; blank cells are free,
	// every non-blank cell is pinned regardless of who produced it.
	Draft map[string][]string `json:"draft"`
}

// PlanResponse is the wire form of one solve outcome.
type PlanResponse struct {
	Status      SolveStatus         `json:"status"`
	Objective   int64               `json:"objective"`
	Table       map[string][]string `json:"table,omitempty"`
	StaffTotals []StaffSummary      `json:"staff_totals,omitempty"`
	Daily       []DaySummary        `json:"daily_summary,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// ParseRoster validates and normalizes the external roster rows.
func (in *PlanInput) ParseRoster() (Roster, error) {
	roster := make(Roster, 0, len(in.Staff))
	for _, s := range in.Staff {
		eligible, err := in.Taxonomy.ParseEligible(s.Eligible)
		if err != nil {
			return nil, fmt.Errorf("staff %s: %w", s.Name, err)
		}
		roster = append(roster, StaffMember{
			Name:      s.Name,
			Gender:    s.Gender,
			Role:      s.Role,
			TargetOff: s.TargetOff,
			Eligible:  eligible,
		})
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}
	return roster, nil
}

// ParseRequests converts the 1-based external request table into a
// zero-based RequestSet, rejecting unknown staff, days and codes.
func (in *PlanInput) ParseRequests(roster Roster) (RequestSet, error) {
	out := make(RequestSet)
	for name, byDay := range in.Requests {
		if roster.Index(name) < 0 {
			return nil, fmt.Errorf("request for unknown staff %q", name)
		}
		for dayNum, raw := range byDay {
			if dayNum < 1 || dayNum > in.NumDays {
				return nil, fmt.Errorf("staff %s: request day %d outside planning period", name, dayNum)
			}
			code, err := in.Taxonomy.Normalize(raw)
			if err != nil {
				return nil, fmt.Errorf("staff %s day %d: %w", name, dayNum, err)
			}
			if code == CodeUnassigned {
				continue
			}
			if out[name] == nil {
				out[name] = make(map[int]string)
			}
			out[name][dayNum-1] = code
		}
	}
	return out, nil
}

// ParseCarryover normalizes prior-period history. Missing staff, missing
// columns and blank cells all default to OFF; history never fails a run on
// absent data.
func (in *PlanInput) ParseCarryover(roster Roster) (Carryover, error) {
	out := make(Carryover, len(roster))
	for _, s := range roster {
		row := [3]string{CodeOff, CodeOff, CodeOff}
		hist := in.Carryover[s.Name]
		// Entries are oldest first; align the tail against d-1.
		for i := 0; i < len(hist) && i < 3; i++ {
			raw := hist[len(hist)-1-i]
			code, err := in.Taxonomy.Normalize(raw)
			if err != nil {
				return nil, fmt.Errorf("carryover for %s: %w", s.Name, err)
			}
			if code == CodeUnassigned {
				code = CodeOff
			}
			row[2-i] = code
		}
		out[s.Name] = row
	}
	return out, nil
}

// ParseDraft validates the reviewed draft table: one full-length row per
// staff member, each non-blank cell a known code.
func (in *CompleteInput) ParseDraft(roster Roster) (Table, error) {
	if in.Draft == nil {
		return nil, fmt.Errorf("completion requires a draft table")
	}
	out := make(Table, len(roster))
	for _, s := range roster {
		row, ok := in.Draft[s.Name]
		if !ok {
			return nil, fmt.Errorf("draft is missing a row for staff %s", s.Name)
		}
		if len(row) != in.NumDays {
			return nil, fmt.Errorf("draft row for %s has %d cells, planning period has %d days", s.Name, len(row), in.NumDays)
		}
		norm := make([]string, in.NumDays)
		for d, raw := range row {
			code, err := in.Taxonomy.Normalize(raw)
			if err != nil {
				return nil, fmt.Errorf("draft cell %s day %d: %w", s.Name, d+1, err)
			}
			norm[d] = code
		}
		out[s.Name] = norm
	}
	return out, nil
}
