package bike

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const untitled = "Untitled Bike"

// Accepted aliases per canonical field, in priority order.
var (
	idKeys          = []string{"id", "_id", "pk"}
	titleKeys       = []string{"title", "name"}
	imageKeys       = []string{"image", "imageUrl", "image_url"}
	priceKeys       = []string{"price_per_day", "pricePerDay", "price"}
	availableKeys   = []string{"available", "is_available"}
	locationKeys    = []string{"location", "city"}
	descriptionKeys = []string{"description"}
	createdAtKeys   = []string{"created_at", "createdAt"}
)

// Normalize maps a bike record of any upstream revision onto Canonical. For each field the first
// alias holding a value of the accepted type wins; missing or malformed fields fall back to
// defaults. It never fails and never modifies raw.
func Normalize(raw map[string]any) Canonical {
	if raw == nil {
		raw = map[string]any{}
	}

	c := Canonical{
		ID:          firstID(raw, idKeys),
		Title:       firstString(raw, titleKeys, untitled),
		Image:       firstNonEmpty(raw, imageKeys),
		PricePerDay: firstNumber(raw, priceKeys),
		Available:   firstBool(raw, availableKeys, true),
		Location:    firstString(raw, locationKeys, ""),
		Description: firstString(raw, descriptionKeys, ""),
		Owner:       ownerOf(raw),
		CreatedAt:   firstTime(raw, createdAtKeys),
		Raw:         raw,
	}
	return c
}

// NormalizeAll normalizes every record, keeping order.
func NormalizeAll(raws []map[string]any) []Canonical {
	out := make([]Canonical, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw))
	}
	return out
}

func firstID(raw map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && isID(v) {
			return v
		}
	}
	return nil
}

func isID(v any) bool {
	switch id := v.(type) {
	case string:
		return id != ""
	case json.Number, int, int32, int64, uint, uint32, uint64:
		return true
	case float64, float32:
		return FormatID(id) != ""
	}
	return false
}

func firstString(raw map[string]any, keys []string, fallback string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			return s
		}
	}
	return fallback
}

func firstNonEmpty(raw map[string]any, keys []string) *string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return &s
		}
	}
	return nil
}

func firstNumber(raw map[string]any, keys []string) float64 {
	for _, k := range keys {
		if f, ok := toFloat(raw[k]); ok {
			return f
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstBool(raw map[string]any, keys []string, fallback bool) bool {
	for _, k := range keys {
		if b, ok := raw[k].(bool); ok {
			return b
		}
	}
	return fallback
}

func firstTime(raw map[string]any, keys []string) *time.Time {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case time.Time:
			return &v
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err == nil {
				return &t
			}
		}
	}
	return nil
}

// ownerOf prefers a nested owner object, treats a bare owner value as its id, and finally
// synthesizes an owner from owner_id.
func ownerOf(raw map[string]any) *Owner {
	switch v := raw["owner"].(type) {
	case map[string]any:
		o := &Owner{ID: firstID(v, idKeys)}
		o.Username, _ = v["username"].(string)
		o.Email, _ = v["email"].(string)
		return o
	case nil:
	default:
		if isID(v) {
			return &Owner{ID: v}
		}
	}

	if id, ok := raw["owner_id"]; ok && isID(id) && !zeroNumber(id) {
		return &Owner{ID: id}
	}
	return nil
}

// zeroNumber reports a numeric id of zero. An owner_id of 0 names no owner.
func zeroNumber(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	f, err := strconv.ParseFloat(FormatID(v), 64)
	return err == nil && f == 0
}
