package model

import (
	"sort"
	"strings"
)

// DefaultLanguage is used when a request does not name one.
const DefaultLanguage = "en"

// GenerateRequest identifies the subject of a generation run.
type GenerateRequest struct {
	ProductName string            `json:"product_name" validate:"required,max=200"`
	ProductURL  string            `json:"product_url,omitempty" validate:"omitempty,url"`
	Keywords    []string          `json:"keywords" validate:"required,min=1,max=25,dive,required,max=80"`
	Language    string            `json:"language,omitempty" validate:"omitempty,max=16"`
	Tone        string            `json:"tone,omitempty" validate:"omitempty,max=40"`
	Audience    string            `json:"audience,omitempty" validate:"omitempty,max=120"`
	Params      map[string]string `json:"params,omitempty"`
}

// Normalize trims whitespace, drops empty and duplicate keywords (first
// occurrence wins, case-insensitive) and applies the default language.
func (r GenerateRequest) Normalize() GenerateRequest {
	out := r
	out.ProductName = strings.TrimSpace(r.ProductName)
	out.ProductURL = strings.TrimSpace(r.ProductURL)
	out.Language = strings.ToLower(strings.TrimSpace(r.Language))
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	out.Tone = strings.TrimSpace(r.Tone)
	out.Audience = strings.TrimSpace(r.Audience)

	seen := make(map[string]bool, len(r.Keywords))
	out.Keywords = make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out.Keywords = append(out.Keywords, k)
	}

	if len(r.Params) > 0 {
		out.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			out.Params[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

// SortedKeywords returns the lower-cased keywords in lexical order.
func (r GenerateRequest) SortedKeywords() []string {
	out := make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		out = append(out, strings.ToLower(strings.TrimSpace(k)))
	}
	sort.Strings(out)
	return out
}
