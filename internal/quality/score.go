// Package quality scores candidate product payloads for completeness.
package quality

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Point values per completeness signal. They add up to 100.
const (
	WeightName        = 20
	WeightDescription = 15
	WeightImage       = 20
	WeightPrice       = 20
	WeightCategory    = 15
	WeightBrand       = 10
)

// Critical issue codes. Any of them blocks auto-publish regardless of score.
const (
	IssueMissingImage = "missing_image"
	IssueMissingPrice = "missing_price"
)

type Result struct {
	Completeness int      `json:"completeness"`
	Issues       []string `json:"issues"`
}

// Score is pure and deterministic; a malformed payload just scores low.
func Score(payload map[string]any) Result {
	res := Result{Issues: []string{}}

	if hasText(payload["name"]) {
		res.Completeness += WeightName
	}
	if hasText(payload["description"]) {
		res.Completeness += WeightDescription
	}

	if HasImage(payload) {
		res.Completeness += WeightImage
	} else {
		res.Issues = append(res.Issues, IssueMissingImage)
	}

	if p, ok := Number(payload["price"]); ok && p > 0 {
		res.Completeness += WeightPrice
	} else {
		res.Issues = append(res.Issues, IssueMissingPrice)
	}

	if hasText(payload["category"]) || hasItems(payload["categories"]) {
		res.Completeness += WeightCategory
	}
	if hasText(payload["brand"]) {
		res.Completeness += WeightBrand
	}

	if res.Completeness > 100 {
		res.Completeness = 100
	}
	return res
}

// HasImage reports whether payload carries at least one usable image,
// either in "images" (strings or objects with url) or in "image".
func HasImage(payload map[string]any) bool {
	if hasText(payload["image"]) {
		return true
	}
	switch imgs := payload["images"].(type) {
	case []any:
		for _, img := range imgs {
			switch v := img.(type) {
			case string:
				if strings.TrimSpace(v) != "" {
					return true
				}
			case map[string]any:
				if hasText(v["url"]) {
					return true
				}
			}
		}
	case []string:
		for _, v := range imgs {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
	case string:
		return strings.TrimSpace(imgs) != ""
	}
	return false
}

// Number reads numeric values the way feeds deliver them: JSON numbers,
// Go numbers, or strings with either decimal separator.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", ".")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func hasText(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func hasItems(v any) bool {
	switch x := v.(type) {
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	}
	return false
}
