package sla

import (
	"fmt"
	"sort"
	"time"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

var ErrPolicyNotFound = serrors.NewError("MAINT_SLA_POLICY_NOT_FOUND", "no SLA policy for priority", "Maintenance.Errors.PolicyNotFound")

// Policy holds the time budgets, in minutes, for one (priority, category) key.
// An empty Category is the priority-wide default.
type Policy struct {
	Priority          request.Priority `yaml:"priority" toml:"priority" json:"priority"`
	Category          string           `yaml:"category" toml:"category" json:"category,omitempty"`
	AcceptWithinMin   int              `yaml:"accept_within_min" toml:"accept_within_min" json:"accept_within_min"`
	ArriveWithinMin   int              `yaml:"arrive_within_min" toml:"arrive_within_min" json:"arrive_within_min"`
	CompleteWithinMin int              `yaml:"complete_within_min" toml:"complete_within_min" json:"complete_within_min"`
}

func (p Policy) validate() error {
	if !p.Priority.Valid() {
		return fmt.Errorf("sla: unknown priority %q", p.Priority)
	}
	if p.AcceptWithinMin <= 0 || p.ArriveWithinMin <= 0 || p.CompleteWithinMin <= 0 {
		return fmt.Errorf("sla: %s/%s budgets must be positive", p.Priority, displayCategory(p.Category))
	}
	return nil
}

type key struct {
	priority request.Priority
	category string
}

// Table is an immutable lookup of SLA policies.
type Table struct {
	policies map[key]Policy
}

func NewTable(policies []Policy) (*Table, error) {
	t := &Table{policies: make(map[key]Policy, len(policies))}
	for _, p := range policies {
		p.Category = request.NormalizeCategory(p.Category)
		if err := p.validate(); err != nil {
			return nil, err
		}
		k := key{priority: p.Priority, category: p.Category}
		if _, dup := t.policies[k]; dup {
			return nil, fmt.Errorf("sla: duplicate policy for %s/%s", p.Priority, displayCategory(p.Category))
		}
		t.policies[k] = p
	}
	return t, nil
}

// DefaultTable is used when no policy file is configured.
func DefaultTable() *Table {
	t, err := NewTable([]Policy{
		{Priority: request.PriorityUrgent, AcceptWithinMin: 15, ArriveWithinMin: 60, CompleteWithinMin: 240},
		{Priority: request.PriorityHigh, AcceptWithinMin: 30, ArriveWithinMin: 120, CompleteWithinMin: 1440},
		{Priority: request.PriorityMedium, AcceptWithinMin: 60, ArriveWithinMin: 240, CompleteWithinMin: 2880},
		{Priority: request.PriorityLow, AcceptWithinMin: 120, ArriveWithinMin: 480, CompleteWithinMin: 4320},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup resolves the policy for (priority, category), falling back to the
// priority default. The bool reports whether the fallback was used.
func (t *Table) Lookup(priority request.Priority, category string) (Policy, bool, error) {
	category = request.NormalizeCategory(category)
	if category != "" {
		if p, ok := t.policies[key{priority: priority, category: category}]; ok {
			return p, false, nil
		}
	}
	if p, ok := t.policies[key{priority: priority}]; ok {
		return p, category != "", nil
	}
	return Policy{}, false, ErrPolicyNotFound.WithTemplateData(map[string]string{"priority": string(priority)})
}

// Policies returns every policy sorted by category then severity (most severe first).
func (t *Table) Policies() []Policy {
	out := make([]Policy, 0, len(t.policies))
	for _, p := range t.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Priority.Severity() > out[j].Priority.Severity()
	})
	return out
}

type Deadlines struct {
	AcceptDue   time.Time `json:"accept_due"`
	ArriveDue   time.Time `json:"arrive_due"`
	CompleteDue time.Time `json:"complete_due"`
}

// ComputeDeadlines adds the policy budgets to createdAt. It is pure: the same
// inputs always produce the same deadlines, expressed in UTC.
func (t *Table) ComputeDeadlines(priority request.Priority, category string, createdAt time.Time) (Deadlines, error) {
	p, _, err := t.Lookup(priority, category)
	if err != nil {
		return Deadlines{}, err
	}
	base := createdAt.UTC()
	return Deadlines{
		AcceptDue:   base.Add(minutes(p.AcceptWithinMin)),
		ArriveDue:   base.Add(minutes(p.ArriveWithinMin)),
		CompleteDue: base.Add(minutes(p.CompleteWithinMin)),
	}, nil
}

// Apply copies the deadlines onto r.
func (d Deadlines) Apply(r *request.Request) {
	r.SLAAcceptDue = d.AcceptDue
	r.SLAArriveDue = d.ArriveDue
	r.SLACompleteDue = d.CompleteDue
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func displayCategory(c string) string {
	if c == "" {
		return "default"
	}
	return c
}
