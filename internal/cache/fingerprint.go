package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/yangwenmai/copydeck/internal/model"
)

// FingerprintPrefix versions the key format. Bump it when the canonical
// form changes so old entries stop matching.
const FingerprintPrefix = "gen:v1:"

type canonicalRequest struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Keywords []string          `json:"keywords"`
	Language string            `json:"language"`
	Tone     string            `json:"tone"`
	Audience string            `json:"audience"`
	Params   map[string]string `json:"params"`
}

// Fingerprint derives the cache key for req. Requests that differ only in
// whitespace, keyword order, keyword case or duplicate keywords share a
// fingerprint.
func Fingerprint(req model.GenerateRequest) string {
	n := req.Normalize()
	params := n.Params
	if params == nil {
		params = map[string]string{}
	}
	c := canonicalRequest{
		Name:     strings.ToLower(n.ProductName),
		URL:      n.ProductURL,
		Keywords: n.SortedKeywords(),
		Language: n.Language,
		Tone:     strings.ToLower(n.Tone),
		Audience: strings.ToLower(n.Audience),
		Params:   params,
	}
	// encoding/json sorts map keys, which keeps params canonical.
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return FingerprintPrefix + hex.EncodeToString(sum[:])
}

// ValidFingerprint reports whether key looks like a Fingerprint output.
func ValidFingerprint(key string) bool {
	hexPart, ok := strings.CutPrefix(key, FingerprintPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
