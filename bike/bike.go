// Package bike serves marketplace bike listings in one canonical shape.
package bike

import (
	"io"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Canonical is the single shape every list and detail view renders, whatever field names the
// upstream API used for the record.
type Canonical struct {
	// ID is the upstream identifier as it was sent (number or string). nil when the record had none.
	ID    any     `json:"id"`
	Title string  `json:"title"`
	Image *string `json:"image"`

	PricePerDay float64 `json:"pricePerDay"`
	Available   bool    `json:"available"`

	Location    string `json:"location"`
	Description string `json:"description"`

	Owner     *Owner     `json:"owner"`
	CreatedAt *time.Time `json:"createdAt"`

	// Raw is the untouched upstream record, for fields Canonical does not cover.
	Raw map[string]any `json:"raw"`
}

// Owner references the user who listed a bike. Only ID is guaranteed.
type Owner struct {
	ID       any    `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// OwnedBy reports whether the bike was listed by the given user.
func (c Canonical) OwnedBy(userID string) bool {
	if c.Owner == nil || userID == "" {
		return false
	}
	return FormatID(c.Owner.ID) == userID
}

// Type is the kind of bike a listing offers.
type Type string

const (
	Mountain Type = "mountain"
	Road     Type = "road"
	Electric Type = "electric"
	Cruiser  Type = "cruiser"
	Hybrid   Type = "hybrid"
)

func (t Type) Valid() bool {
	switch t {
	case Mountain, Road, Electric, Cruiser, Hybrid:
		return true
	}
	return false
}

// NewBike is a listing submitted by an owner.
type NewBike struct {
	Title       string
	Description string
	Type        Type
	// PricePerDay is forwarded as typed by the owner; the upstream API parses it.
	PricePerDay string
	Location    string
	Available   bool

	Image *Image
}

// Image is an uploaded photo of the bike.
type Image struct {
	Filename string
	Content  io.Reader
}

// FormatID renders an upstream identifier (number, json.Number or string) as a string. Anything
// else yields "".
func FormatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return FormatID(float64(id))
	case int:
		return strconv.Itoa(id)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case uint:
		return strconv.FormatUint(uint64(id), 10)
	case uint32:
		return strconv.FormatUint(uint64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	}
	return ""
}
