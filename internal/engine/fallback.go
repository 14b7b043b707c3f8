package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/yangwenmai/copydeck/internal/model"
)

// Fallback returns the content a stage degrades to when the provider could
// not produce it. The output depends only on the request and carries no
// sources, so it never inflates the grounding score.
func Fallback(stage model.StageID, req model.GenerateRequest) model.StagePayload {
	name := req.ProductName
	if name == "" {
		name = "This product"
	}
	kws := req.Keywords

	switch stage {
	case model.StageDescription:
		var b strings.Builder
		fmt.Fprintf(&b, "%s is available now.", name)
		if len(kws) > 0 {
			fmt.Fprintf(&b, " It covers %s.", joinList(kws, 3))
		}
		if req.Audience != "" {
			fmt.Fprintf(&b, " Made for %s.", req.Audience)
		}
		return model.StagePayload{Text: b.String()}

	case model.StageUSPs:
		items := make([]model.PayloadItem, 0, 3)
		for _, k := range firstN(kws, 3) {
			items = append(items, model.PayloadItem{
				Title: capitalize(k),
				Body:  fmt.Sprintf("%s is built around %s.", name, k),
			})
		}
		return model.StagePayload{Items: items}

	case model.StageFAQ:
		return model.StagePayload{Items: []model.PayloadItem{{
			Title: fmt.Sprintf("What is %s?", name),
			Body:  fmt.Sprintf("%s is a product related to %s.", name, joinList(kws, 3)),
		}}}

	case model.StageChapters:
		items := []model.PayloadItem{{Title: "Introduction", Body: "Meet " + name + "."}}
		for _, k := range firstN(kws, 3) {
			items = append(items, model.PayloadItem{Title: capitalize(k)})
		}
		items = append(items, model.PayloadItem{Title: "Summary"})
		return model.StagePayload{Items: items}

	case model.StageKeywords:
		items := make([]model.PayloadItem, 0, len(kws)+1)
		items = append(items, model.PayloadItem{Title: strings.ToLower(name)})
		for _, k := range kws {
			items = append(items, model.PayloadItem{Title: strings.ToLower(k)})
		}
		return model.StagePayload{Items: items}

	case model.StageHashtags:
		var items []model.PayloadItem
		seen := map[string]bool{}
		for _, s := range append([]string{name}, kws...) {
			tag := hashtag(s)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			items = append(items, model.PayloadItem{Title: tag})
		}
		return model.StagePayload{Items: items}
	}
	return model.StagePayload{}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func joinList(s []string, n int) string {
	s = firstN(s, n)
	switch len(s) {
	case 0:
		return "everyday use"
	case 1:
		return s[0]
	}
	return strings.Join(s[:len(s)-1], ", ") + " and " + s[len(s)-1]
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// hashtag turns "noise cancelling" into "#NoiseCancelling".
func hashtag(s string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		b.WriteString(capitalize(word))
	}
	if b.Len() == 0 {
		return ""
	}
	return "#" + b.String()
}
