package rule

import (
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/transformer"
)

// SitemapsRule is a RegexRule that also requires the body to parse as a
// sitemap.
type SitemapsRule struct {
	*RegexRule
}

// NewSitemapsRule wraps base.
func NewSitemapsRule(base *RegexRule) *SitemapsRule {
	return &SitemapsRule{RegexRule: base}
}

// Match implements Rule. The body stream opened for the check is always
// closed.
func (r *SitemapsRule) Match(resp *model.ResponseData) bool {
	if !r.RegexRule.Match(resp) || resp.Body == nil {
		return false
	}
	rc, err := resp.Body.Open()
	if err != nil {
		return false
	}
	defer rc.Close()

	urls, err := transformer.ParseSitemap(rc)
	return err == nil && len(urls) > 0
}
