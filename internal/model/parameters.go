package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Field names shared by the extractor, the rule table and the document generator.
const (
	FieldAmount       = "amount"
	FieldDate         = "date"
	FieldCounterparty = "counterparty"
	FieldMode         = "payment_mode"
	FieldGSTRate      = "gst_rate"
	FieldTDSRate      = "tds_rate"
	FieldNarration    = "narration"
	FieldEntityName   = "entity_name"
	FieldEntityType   = "entity_type"
	FieldReport       = "report"
	FieldGSTIN        = "gstin"
)

// ExtractedField is a single parameter pulled out of the operator's text.
// Value holds the normalized form: decimal.Decimal for amounts and rates,
// time.Time for dates, string otherwise.
type ExtractedField struct {
	Value      any               `json:"value,omitempty"`
	Name       string            `json:"name"`
	Raw        string            `json:"raw"`
	Issues     []ValidationIssue `json:"issues,omitempty"`
	Confidence float64           `json:"confidence"`
}

// HasBlocking reports whether the field carries a BLOCK issue.
func (f *ExtractedField) HasBlocking() bool {
	for _, issue := range f.Issues {
		if issue.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Candidate is a possible match for a free-text entity name.
type Candidate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ParameterSet is the named collection of fields extracted for one command.
type ParameterSet struct {
	Fields     map[string]*ExtractedField `json:"fields"`
	Candidates map[string][]Candidate     `json:"candidates,omitempty"`
	Required   []string                   `json:"required"`
	Intent     Intent                     `json:"intent"`
}

// NewParameterSet creates an empty set for intent with the given required fields.
func NewParameterSet(intent Intent, required ...string) *ParameterSet {
	return &ParameterSet{
		Intent:     intent,
		Fields:     make(map[string]*ExtractedField),
		Candidates: make(map[string][]Candidate),
		Required:   required,
	}
}

// Set stores a field, replacing any previous value with the same name.
func (p *ParameterSet) Set(field *ExtractedField) {
	p.Fields[field.Name] = field
}

// Get returns the named field, or nil.
func (p *ParameterSet) Get(name string) *ExtractedField {
	if p == nil {
		return nil
	}
	return p.Fields[name]
}

// Has reports whether the field is present with a value.
func (p *ParameterSet) Has(name string) bool {
	f := p.Get(name)
	return f != nil && f.Value != nil
}

// Missing returns required fields with no value, sorted.
func (p *ParameterSet) Missing() []string {
	var missing []string
	for _, name := range p.Required {
		if !p.Has(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// IsValid is false if any required field is missing or any field has a BLOCK issue.
func (p *ParameterSet) IsValid() bool {
	if len(p.Missing()) > 0 {
		return false
	}
	for _, f := range p.Fields {
		if f.HasBlocking() {
			return false
		}
	}
	return true
}

// Issues flattens the issues attached to individual fields.
func (p *ParameterSet) Issues() []ValidationIssue {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []ValidationIssue
	for _, name := range names {
		issues = append(issues, p.Fields[name].Issues...)
	}
	return issues
}

// Confidence is the lowest confidence among present fields, or 0 when empty.
func (p *ParameterSet) Confidence() float64 {
	if len(p.Fields) == 0 {
		return 0
	}
	lowest := 1.0
	for _, f := range p.Fields {
		if f.Value != nil && f.Confidence < lowest {
			lowest = f.Confidence
		}
	}
	return lowest
}

// Amount returns the normalized amount field.
func (p *ParameterSet) Amount() (decimal.Decimal, bool) {
	return p.Decimal(FieldAmount)
}

// Decimal returns a decimal-valued field.
func (p *ParameterSet) Decimal(name string) (decimal.Decimal, bool) {
	f := p.Get(name)
	if f == nil {
		return decimal.Zero, false
	}
	d, ok := f.Value.(decimal.Decimal)
	return d, ok
}

// Date returns the normalized date field.
func (p *ParameterSet) Date() (time.Time, bool) {
	f := p.Get(FieldDate)
	if f == nil {
		return time.Time{}, false
	}
	t, ok := f.Value.(time.Time)
	return t, ok
}

// String returns a string-valued field.
func (p *ParameterSet) String(name string) (string, bool) {
	f := p.Get(name)
	if f == nil {
		return "", false
	}
	s, ok := f.Value.(string)
	return s, ok && s != ""
}

// Clone returns a deep-enough copy so annotations on the copy never touch p.
func (p *ParameterSet) Clone() *ParameterSet {
	clone := NewParameterSet(p.Intent, append([]string(nil), p.Required...)...)
	for name, f := range p.Fields {
		copied := *f
		copied.Issues = append([]ValidationIssue(nil), f.Issues...)
		clone.Fields[name] = &copied
	}
	for name, candidates := range p.Candidates {
		clone.Candidates[name] = append([]Candidate(nil), candidates...)
	}
	return clone
}
