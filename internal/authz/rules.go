package authz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MissingContextPolicy decides what a rule does when the context field it depends on is absent.
type MissingContextPolicy string

const (
	// MissingContextSkip treats the rule as not applicable.
	MissingContextSkip MissingContextPolicy = "skip"
	// MissingContextDeny denies the request.
	MissingContextDeny MissingContextPolicy = "deny"
)

// ParseMissingContextPolicy parses a policy name; empty means skip.
func ParseMissingContextPolicy(raw string) (MissingContextPolicy, error) {
	switch MissingContextPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MissingContextSkip:
		return MissingContextSkip, nil
	case MissingContextDeny:
		return MissingContextDeny, nil
	}
	return "", fmt.Errorf("authz: unknown missing context policy %q", raw)
}

// RuleKind identifies a rule variant.
type RuleKind string

const (
	KindDepartmentRestriction RuleKind = "department_restriction"
	KindTimeRestriction       RuleKind = "time_restriction"
	KindBudgetLimit           RuleKind = "budget_limit"
	KindTrustFloor            RuleKind = "trust_floor"
)

// RuleInput is everything a rule may look at.
type RuleInput struct {
	Role    Role
	Subject Subject
	Context Context
	// Now is the effective evaluation time (context time or the evaluator clock).
	Now            time.Time
	MissingContext MissingContextPolicy
}

// Rule is a single dynamic restriction attached to a role. The set of implementations is
// closed: DepartmentRestriction, TimeRestriction, BudgetLimit and TrustFloor.
type Rule interface {
	Kind() RuleKind
	// Evaluate returns the rule outcome and whether the rule fired. A rule that did not
	// fire leaves the running result untouched.
	Evaluate(in RuleInput) (Result, bool)
	isRule()
}

// DepartmentRestriction limits the role to departments it may manage.
type DepartmentRestriction struct{}

func (DepartmentRestriction) Kind() RuleKind { return KindDepartmentRestriction }
func (DepartmentRestriction) isRule()        {}

func (DepartmentRestriction) Evaluate(in RuleInput) (Result, bool) {
	if in.Context.Department == nil {
		if in.MissingContext == MissingContextDeny {
			return Deny(ReasonDepartmentRequired), true
		}
		return Result{}, false
	}
	assignment, ok := in.Role.Department(*in.Context.Department)
	if !ok || !assignment.CanManage {
		return Deny(ReasonDepartment), true
	}
	return Result{}, false
}

// TimeRestriction allows access only when StartHour <= hour < EndHour.
type TimeRestriction struct {
	StartHour int
	EndHour   int
}

// DefaultBusinessHours is the window used when a role enables time restriction without one.
var DefaultBusinessHours = TimeRestriction{StartHour: 8, EndHour: 18}

func (TimeRestriction) Kind() RuleKind { return KindTimeRestriction }
func (TimeRestriction) isRule()        {}

func (t TimeRestriction) Evaluate(in RuleInput) (Result, bool) {
	hour := in.Now.Hour()
	if hour < t.StartHour || hour >= t.EndHour {
		return Deny(fmt.Sprintf("Access restricted to business hours (%d:00 - %d:00)", t.StartHour, t.EndHour)), true
	}
	return Result{}, false
}

// BudgetLimit escalates requests whose amount exceeds Ceiling to an approver.
type BudgetLimit struct {
	Ceiling decimal.Decimal
}

func (BudgetLimit) Kind() RuleKind { return KindBudgetLimit }
func (BudgetLimit) isRule()        {}

func (b BudgetLimit) Evaluate(in RuleInput) (Result, bool) {
	if in.Context.Amount == nil {
		if in.MissingContext == MissingContextDeny {
			return Deny(ReasonAmountRequired), true
		}
		return Result{}, false
	}
	amount := *in.Context.Amount
	if !amount.GreaterThan(b.Ceiling) {
		return Result{}, false
	}
	return Result{
		Allowed:          true,
		RequiresApproval: true,
		ApprovalLevel:    approvalLevelFor(amount),
		Reason:           fmt.Sprintf("Amount exceeds budget limit of %s", b.Ceiling.String()),
	}, true
}

func approvalLevelFor(amount decimal.Decimal) ApprovalLevel {
	if amount.GreaterThan(AdminApprovalThreshold) {
		return ApprovalAdmin
	}
	return ApprovalManager
}

// TrustFloor denies subjects whose stored trust score is below Minimum.
type TrustFloor struct {
	Minimum float64
}

func (TrustFloor) Kind() RuleKind { return KindTrustFloor }
func (TrustFloor) isRule()        {}

func (t TrustFloor) Evaluate(in RuleInput) (Result, bool) {
	observed := in.Subject.TrustScore
	if observed >= t.Minimum {
		return Result{}, false
	}
	return Deny(fmt.Sprintf("Trust score %s below required %s", formatScore(observed), formatScore(t.Minimum))), true
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RuleSet is the ordered list of rules attached to a role.
type RuleSet []Rule

// Apply runs the rules in order. The first denial is returned immediately; otherwise the
// approval outcome, if any rule produced one, or an allow.
func (rs RuleSet) Apply(in RuleInput) Result {
	result := Allow()
	for _, rule := range rs {
		outcome, fired := rule.Evaluate(in)
		if !fired {
			continue
		}
		if !outcome.Allowed {
			return outcome
		}
		result = outcome
	}
	return result
}

// HourWindow is the persisted form of a time restriction window.
type HourWindow struct {
	Start int `json:"start" validate:"gte=0,lte=23"`
	End   int `json:"end" validate:"gte=1,lte=24,gtfield=Start"`
}

// RuleDocument is the persisted JSON shape of a role's dynamic rules.
type RuleDocument struct {
	DepartmentRestriction bool             `json:"departmentRestriction,omitempty"`
	TimeRestriction       bool             `json:"timeRestriction,omitempty"`
	BusinessHours         *HourWindow      `json:"businessHours,omitempty" validate:"omitempty"`
	BudgetLimit           *decimal.Decimal `json:"budgetLimit,omitempty"`
	MinTrustScore         *float64         `json:"minTrustScore,omitempty" validate:"omitempty,gte=0"`
}

var documentValidator = validator.New()

// Validate checks the document for out-of-range values.
func (d RuleDocument) Validate() error {
	if err := documentValidator.Struct(d); err != nil {
		return fmt.Errorf("authz: invalid rules: %w", err)
	}
	if d.BudgetLimit != nil && d.BudgetLimit.IsNegative() {
		return errors.New("authz: invalid rules: budget limit must not be negative")
	}
	return nil
}

// Rules converts the document into the typed rule list, in evaluation order. A zero budget
// limit or trust minimum is treated as unset.
func (d RuleDocument) Rules() RuleSet {
	var rules RuleSet
	if d.DepartmentRestriction {
		rules = append(rules, DepartmentRestriction{})
	}
	if d.TimeRestriction {
		window := DefaultBusinessHours
		if d.BusinessHours != nil {
			window = TimeRestriction{StartHour: d.BusinessHours.Start, EndHour: d.BusinessHours.End}
		}
		rules = append(rules, window)
	}
	if d.BudgetLimit != nil && !d.BudgetLimit.IsZero() {
		rules = append(rules, BudgetLimit{Ceiling: *d.BudgetLimit})
	}
	if d.MinTrustScore != nil && *d.MinTrustScore != 0 {
		rules = append(rules, TrustFloor{Minimum: *d.MinTrustScore})
	}
	return rules
}

// Document converts the rule list back into its persisted shape.
func (rs RuleSet) Document() RuleDocument {
	var d RuleDocument
	for _, rule := range rs {
		switch r := rule.(type) {
		case DepartmentRestriction:
			d.DepartmentRestriction = true
		case TimeRestriction:
			d.TimeRestriction = true
			if r != DefaultBusinessHours {
				d.BusinessHours = &HourWindow{Start: r.StartHour, End: r.EndHour}
			}
		case BudgetLimit:
			d.BudgetLimit = Ptr(r.Ceiling)
		case TrustFloor:
			d.MinTrustScore = Ptr(r.Minimum)
		}
	}
	return d
}

// ParseRuleDocument decodes and validates a persisted rules document. Empty input and
// JSON null yield an empty document.
func ParseRuleDocument(raw []byte) (RuleDocument, error) {
	var d RuleDocument
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return d, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return RuleDocument{}, fmt.Errorf("authz: decode rules: %w", err)
	}
	if err := d.Validate(); err != nil {
		return RuleDocument{}, err
	}
	return d, nil
}

// MarshalJSON encodes the rule set as its persisted document.
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.Document())
}

// UnmarshalJSON decodes a persisted document into the rule set.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	d, err := ParseRuleDocument(data)
	if err != nil {
		return err
	}
	*rs = d.Rules()
	return nil
}
