package rule

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/transformer"
)

// Manager dispatches responses to the first matching rule.
type Manager struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewManager returns a manager holding rules in order.
func NewManager(rules ...Rule) *Manager {
	return &Manager{rules: slices.Clone(rules)}
}

// Add appends r. IDs must be unique.
func (m *Manager) Add(r Rule) error {
	return m.AddAt(-1, r)
}

// AddAt inserts r at index i; a negative or out of range index appends.
func (m *Manager) AddAt(i int, r Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(r.ID()) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID())
	}
	if i < 0 || i > len(m.rules) {
		i = len(m.rules)
	}
	m.rules = slices.Insert(m.rules, i, r)
	return nil
}

// Remove deletes the rule with id and reports whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return false
	}
	m.rules = slices.Delete(m.rules, i, i+1)
	return true
}

// Has reports whether a rule with id is registered.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexOf(id) >= 0
}

// Rules returns the registered rules in dispatch order.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.rules)
}

// Rule returns the first rule matching resp.
func (m *Manager) Rule(resp *model.ResponseData) (Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules {
		if r.Match(resp) {
			return r, true
		}
	}
	return nil, false
}

func (m *Manager) indexOf(id string) int {
	return slices.IndexFunc(m.rules, func(r Rule) bool { return r.ID() == id })
}

// Rule IDs registered by NewDefaultManager.
const (
	SitemapRuleID = "sitemap"
	HTMLRuleID    = "html"
	EXIFRuleID    = "exif"
	DefaultRuleID = "default"
)

// NewDefaultManager returns the standard rule set: sitemaps, HTML pages,
// EXIF-bearing images, then a text catch-all.
func NewDefaultManager(htmlOpts ...transformer.HTMLOption) *Manager {
	return NewManager(
		NewSitemapsRule(mustRegexRule(SitemapRuleID, transformer.NewSitemap(), map[Field]string{
			FieldURL: `(?i).*/[^/]*sitemap[^/]*\.(xml|txt)(\.gz)?`,
		})),
		mustRegexRule(HTMLRuleID, transformer.NewHTML(htmlOpts...), map[Field]string{
			FieldMimeType: `text/html|application/xhtml\+xml`,
		}),
		mustRegexRule(EXIFRuleID, transformer.NewEXIF(), map[Field]string{
			FieldMimeType: `image/(jpeg|tiff|heic)`,
		}),
		NewDefaultRule(DefaultRuleID, transformer.NewText(0)),
	)
}

// mustRegexRule is NewRegexRule for patterns known to compile.
func mustRegexRule(id string, t transformer.Transformer, patterns map[Field]string, opts ...RegexOption) *RegexRule {
	r, err := NewRegexRule(id, t, patterns, opts...)
	if err != nil {
		panic(err)
	}
	return r
}
