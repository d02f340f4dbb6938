package maintenance

import "strings"

// QuotePolicy decides at creation whether a job must be quoted before a
// provider can be assigned.
type QuotePolicy struct {
	RequiredByDefault  bool
	RequiredCategories []string
	ExemptCategories   []string
}

func (p QuotePolicy) Requires(category string) bool {
	if containsFold(p.ExemptCategories, category) {
		return false
	}
	if containsFold(p.RequiredCategories, category) {
		return true
	}
	return p.RequiredByDefault
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
