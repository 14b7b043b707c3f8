// Package grounding classifies cited sources by authority and scores how well
// generated content is backed by them.
package grounding

import (
	"net/url"
	"strings"

	"github.com/yangwenmai/copydeck/internal/model"
)

// AllowLists holds the domain lists for tiers 1 to 3, checked in that order.
//
// Entry forms:
//
//	".gov"     suffix match on the host
//	"nist.gov" the host itself or any subdomain of it
//	"amazon."  any host label sequence starting with it (www.amazon.de)
type AllowLists struct {
	Tier1 []string `yaml:"tier1"`
	Tier2 []string `yaml:"tier2"`
	Tier3 []string `yaml:"tier3"`
}

// DefaultAllowLists returns the built-in authority lists.
func DefaultAllowLists() AllowLists {
	return AllowLists{
		Tier1: []string{
			".gov", ".gov.uk", ".edu", ".ac.uk", ".int",
			"europa.eu", "iso.org", "ieee.org", "w3.org", "nist.gov",
			"fda.gov", "energystar.gov", "ul.com", "tuv.com",
		},
		Tier2: []string{
			"wikipedia.org", "reuters.com", "apnews.com", "bbc.co.uk", "bbc.com",
			"nytimes.com", "theguardian.com", "consumerreports.org", "which.co.uk",
			"cnet.com", "wired.com", "theverge.com", "techradar.com", "rtings.com",
			"nature.com", "sciencedirect.com",
		},
		Tier3: []string{
			"amazon.", "ebay.", "walmart.com", "bestbuy.com", "reddit.com",
			"youtube.com", "medium.com", "quora.com", "trustpilot.com",
			"stackexchange.com", "github.com",
		},
	}
}

// Classifier maps a source URI to its authority tier.
type Classifier struct {
	lists [3][]string
}

// NewClassifier creates a Classifier from the given lists. Entries are
// lower-cased; blank entries are ignored.
func NewClassifier(lists AllowLists) *Classifier {
	c := &Classifier{}
	for i, l := range [][]string{lists.Tier1, lists.Tier2, lists.Tier3} {
		for _, d := range l {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				c.lists[i] = append(c.lists[i], d)
			}
		}
	}
	return c
}

// Classify returns the tier for uri. It depends only on the URI's hostname,
// so the same URI always gets the same tier.
func (c *Classifier) Classify(uri string) model.AuthorityTier {
	host := Hostname(uri)
	if host == "" {
		return model.TierUnclassified
	}
	for i, list := range c.lists {
		for _, entry := range list {
			if hostMatches(host, entry) {
				return model.AuthorityTier(i + 1)
			}
		}
	}
	return model.TierUnclassified
}

// Hostname extracts the lower-cased hostname of uri, tolerating a missing
// scheme. It returns "" when no host can be found.
func Hostname(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}
	if !strings.Contains(uri, "://") {
		uri = "https://" + uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

func hostMatches(host, entry string) bool {
	switch {
	case strings.HasPrefix(entry, "."):
		return strings.HasSuffix(host, entry)
	case strings.HasSuffix(entry, "."):
		return strings.HasPrefix(host, entry) || strings.Contains(host, "."+entry)
	default:
		return host == entry || strings.HasSuffix(host, "."+entry)
	}
}
