package rule

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/transformer"
)

var (
	// ErrDuplicateRule is returned when a rule ID is already registered.
	ErrDuplicateRule = errors.New("rule already registered")

	// ErrUnknownField is returned for patterns on a response field rules
	// cannot match.
	ErrUnknownField = errors.New("unknown rule field")

	// ErrNoRule is recorded for responses no registered rule matches.
	ErrNoRule = errors.New("no rule matches the response")
)

// Rule pairs a response predicate with a transformer.
type Rule interface {
	// ID identifies the rule in stored results.
	ID() string

	// Match reports whether the rule handles resp.
	Match(resp *model.ResponseData) bool

	// Transformer returns the transformer for matched responses.
	Transformer() transformer.Transformer
}

// Field names a response field a RegexRule matches against.
type Field string

// Matchable response fields.
const (
	FieldURL       Field = "url"
	FieldMethod    Field = "method"
	FieldMimeType  Field = "mimeType"
	FieldParentURL Field = "parentUrl"
	FieldCharset   Field = "charset"
	FieldStatus    Field = "status"
)

func (f Field) value(resp *model.ResponseData) (string, error) {
	switch f {
	case FieldURL:
		return resp.URL, nil
	case FieldMethod:
		return string(resp.Method), nil
	case FieldMimeType:
		return resp.MimeType, nil
	case FieldParentURL:
		return resp.ParentURL, nil
	case FieldCharset:
		return resp.Charset, nil
	case FieldStatus:
		return strconv.Itoa(resp.HTTPStatus), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
}

type fieldPattern struct {
	field Field
	re    *regexp.Regexp
}

// RegexRule matches responses by regular expressions over their fields.
// Each expression must match the whole field value. With AllRequired every
// pattern must match, otherwise any one suffices. A default rule matches
// every response.
type RegexRule struct {
	id          string
	transformer transformer.Transformer
	patterns    []fieldPattern
	allRequired bool
	isDefault   bool
}

// RegexOption configures a RegexRule.
type RegexOption func(*RegexRule)

// WithAllRequired makes every pattern required for a match.
func WithAllRequired(all bool) RegexOption {
	return func(r *RegexRule) {
		r.allRequired = all
	}
}

// AsDefault makes the rule match every response.
func AsDefault() RegexOption {
	return func(r *RegexRule) {
		r.isDefault = true
	}
}

// NewRegexRule returns a rule matching patterns, a map of field to
// expression. Patterns are applied in field name order.
func NewRegexRule(id string, t transformer.Transformer, patterns map[Field]string, opts ...RegexOption) (*RegexRule, error) {
	r := &RegexRule{id: id, transformer: t}
	for _, opt := range opts {
		opt(r)
	}
	for _, f := range sortedFields(patterns) {
		if _, err := f.value(&model.ResponseData{}); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(`^(?:` + patterns[f] + `)$`)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern for rule %s: %w", f, id, err)
		}
		r.patterns = append(r.patterns, fieldPattern{field: f, re: re})
	}
	return r, nil
}

// NewDefaultRule returns a rule that matches every response.
func NewDefaultRule(id string, t transformer.Transformer) *RegexRule {
	return &RegexRule{id: id, transformer: t, isDefault: true}
}

// ID implements Rule.
func (r *RegexRule) ID() string { return r.id }

// Transformer implements Rule.
func (r *RegexRule) Transformer() transformer.Transformer { return r.transformer }

// Default reports whether the rule matches every response.
func (r *RegexRule) Default() bool { return r.isDefault }

// Match implements Rule.
func (r *RegexRule) Match(resp *model.ResponseData) bool {
	if r.isDefault {
		return true
	}
	if resp == nil || len(r.patterns) == 0 {
		return false
	}
	for _, p := range r.patterns {
		v, _ := p.field.value(resp)
		matched := p.re.MatchString(v)
		if r.allRequired && !matched {
			return false
		}
		if !r.allRequired && matched {
			return true
		}
	}
	return r.allRequired
}

func sortedFields(patterns map[Field]string) []Field {
	fields := make([]Field, 0, len(patterns))
	for f := range patterns {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}
