package model

import (
	"regexp"
	"sort"

	"github.com/rotisserie/eris"
)

// FieldKind types an indicator field for coercion and validation.
type FieldKind string

const (
	KindNumber  FieldKind = "number"
	KindPercent FieldKind = "percent"
	KindText    FieldKind = "text"
)

// TemplateSpec is one regex template for a field. Templates are tried in
// declaration order; the first syntactically valid match wins. The
// pattern's first capture group must cover the numeric (or text) span.
type TemplateSpec struct {
	Pattern string `yaml:"pattern"`
	// Negate flips the sign of the captured number, for patterns like
	// "giảm 4,46%" that express a decrease.
	Negate bool `yaml:"negate,omitempty"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern. Compile must be called first.
func (t *TemplateSpec) Regexp() *regexp.Regexp {
	return t.re
}

// FieldSpec describes one field of an indicator family: its type, the
// unit the validator expects, the plausible value range, and the ordered
// extraction templates.
type FieldSpec struct {
	Name      string         `yaml:"name"`
	Kind      FieldKind      `yaml:"kind"`
	Unit      string         `yaml:"unit,omitempty"`
	Min       *float64       `yaml:"min,omitempty"`
	Max       *float64       `yaml:"max,omitempty"`
	Templates []TemplateSpec `yaml:"templates"`
}

// CheckKind selects a cross-field check implementation.
type CheckKind string

const (
	// CheckShareSum verifies that a group of percentage-share fields sums
	// to Total within Tolerance.
	CheckShareSum CheckKind = "share_sum"
	// CheckSignBalance verifies that Result carries the sign of
	// Plus minus Minus.
	CheckSignBalance CheckKind = "sign_balance"
)

// CheckSpec is a declarative cross-field consistency check. Failing a
// check warns; it never drops the participating fields.
type CheckSpec struct {
	Kind      CheckKind `yaml:"kind"`
	Fields    []string  `yaml:"fields,omitempty"`
	Total     float64   `yaml:"total,omitempty"`
	Tolerance float64   `yaml:"tolerance,omitempty"`
	Plus      string    `yaml:"plus,omitempty"`
	Minus     string    `yaml:"minus,omitempty"`
	Result    string    `yaml:"result,omitempty"`
}

// FamilySpec is the full descriptor of one indicator family. All 27+
// family table shapes of the source system reduce to instances of this
// one descriptor; no per-family Go types exist.
type FamilySpec struct {
	Key      string      `yaml:"key"`
	Name     string      `yaml:"name"`
	Keywords []string    `yaml:"keywords"`
	Fields   []FieldSpec `yaml:"fields"`
	Checks   []CheckSpec `yaml:"checks,omitempty"`
}

// FieldByName returns the named field spec, or nil.
func (f *FamilySpec) FieldByName(name string) *FieldSpec {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// Compile validates the descriptor and compiles every template. A
// malformed descriptor is a configuration error and must abort startup,
// never an individual document.
func (f *FamilySpec) Compile() error {
	if f.Key == "" {
		return eris.New("family: empty key")
	}
	if len(f.Keywords) == 0 {
		return eris.Errorf("family %s: no keywords", f.Key)
	}
	if len(f.Fields) == 0 {
		return eris.Errorf("family %s: no fields", f.Key)
	}
	seen := make(map[string]bool, len(f.Fields))
	for i := range f.Fields {
		fs := &f.Fields[i]
		if fs.Name == "" {
			return eris.Errorf("family %s: field %d has no name", f.Key, i)
		}
		if seen[fs.Name] {
			return eris.Errorf("family %s: duplicate field %s", f.Key, fs.Name)
		}
		seen[fs.Name] = true
		switch fs.Kind {
		case KindNumber, KindPercent, KindText:
		case "":
			fs.Kind = KindNumber
		default:
			return eris.Errorf("family %s: field %s: unknown kind %q", f.Key, fs.Name, fs.Kind)
		}
		if fs.Min != nil && fs.Max != nil && *fs.Min > *fs.Max {
			return eris.Errorf("family %s: field %s: min > max", f.Key, fs.Name)
		}
		for j := range fs.Templates {
			t := &fs.Templates[j]
			re, err := regexp.Compile("(?i)" + t.Pattern)
			if err != nil {
				return eris.Wrapf(err, "family %s: field %s: template %d", f.Key, fs.Name, j)
			}
			if re.NumSubexp() < 1 {
				return eris.Errorf("family %s: field %s: template %d has no capture group", f.Key, fs.Name, j)
			}
			t.re = re
		}
	}
	for i, c := range f.Checks {
		switch c.Kind {
		case CheckShareSum:
			if len(c.Fields) < 2 {
				return eris.Errorf("family %s: check %d: share_sum needs at least two fields", f.Key, i)
			}
		case CheckSignBalance:
			if c.Plus == "" || c.Minus == "" || c.Result == "" {
				return eris.Errorf("family %s: check %d: sign_balance needs plus/minus/result", f.Key, i)
			}
		default:
			return eris.Errorf("family %s: check %d: unknown kind %q", f.Key, i, c.Kind)
		}
	}
	return nil
}

// FamilyRegistry is the indexed set of compiled family descriptors. It is
// constructed once at startup and injected wherever needed.
type FamilyRegistry struct {
	families []FamilySpec
	byKey    map[string]*FamilySpec
}

// NewFamilyRegistry compiles the given descriptors into a registry.
func NewFamilyRegistry(families []FamilySpec) (*FamilyRegistry, error) {
	r := &FamilyRegistry{
		families: families,
		byKey:    make(map[string]*FamilySpec, len(families)),
	}
	for i := range r.families {
		f := &r.families[i]
		if err := f.Compile(); err != nil {
			return nil, err
		}
		if _, dup := r.byKey[f.Key]; dup {
			return nil, eris.Errorf("family registry: duplicate key %s", f.Key)
		}
		r.byKey[f.Key] = f
	}
	return r, nil
}

// ByKey returns the compiled family descriptor, or nil when unknown.
func (r *FamilyRegistry) ByKey(key string) *FamilySpec {
	return r.byKey[key]
}

// Keys returns all family keys in sorted order.
func (r *FamilyRegistry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Families returns the descriptors in declaration order.
func (r *FamilyRegistry) Families() []FamilySpec {
	return r.families
}

// Len returns the number of registered families.
func (r *FamilyRegistry) Len() int {
	return len(r.families)
}
