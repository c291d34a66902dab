package metadata

import (
	"encoding/json"
	"fmt"
	"iter"
	"math/bits"
	"strings"
)

// Categories is a set of metadata archive categories.
//
// Each named constant is a single bit; sets combine with | and & like any
// bit mask. A single-bit value is also used on its own to name one category.
type Categories uint8

// Archive categories.
const (
	CategoriesNone  Categories = 0
	Strings         Categories = 1
	LightingEffects Categories = 2
	LightingZones   Categories = 4
	Sensors         Categories = 8
	Coolers         Categories = 16

	// AllCategories is the union of every known category.
	AllCategories = Strings | LightingEffects | LightingZones | Sensors | Coolers
)

var categoryNames = []struct {
	c    Categories
	name string
}{
	{Strings, "Strings"},
	{LightingEffects, "LightingEffects"},
	{LightingZones, "LightingZones"},
	{Sensors, "Sensors"},
	{Coolers, "Coolers"},
}

// Has reports whether every category in other is in c.
func (c Categories) Has(other Categories) bool { return c&other == other }

// Count returns the number of categories in the set.
func (c Categories) Count() int { return bits.OnesCount8(uint8(c & AllCategories)) }

// Each yields the known categories in c, lowest bit first.
func (c Categories) Each() iter.Seq[Categories] {
	return func(yield func(Categories) bool) {
		for _, n := range categoryNames {
			if c&n.c != 0 && !yield(n.c) {
				return
			}
		}
	}
}

func (c Categories) String() string {
	if c == CategoriesNone {
		return "None"
	}
	var parts []string
	for cat := range c.Each() {
		parts = append(parts, categoryName(cat))
	}
	if rest := c &^ AllCategories; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

func categoryName(c Categories) string {
	for _, n := range categoryNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("0x%X", uint8(c))
}

// ParseCategory converts a single category name, case-insensitively.
func ParseCategory(s string) (Categories, error) {
	for _, n := range categoryNames {
		if strings.EqualFold(n.name, s) {
			return n.c, nil
		}
	}
	return CategoriesNone, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// MarshalJSON encodes the set as a list of category names.
func (c Categories) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, c.Count())
	for cat := range c.Each() {
		names = append(names, categoryName(cat))
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts either a list of names or the numeric mask.
func (c *Categories) UnmarshalJSON(data []byte) error {
	var mask uint8
	if err := json.Unmarshal(data, &mask); err == nil {
		*c = Categories(mask)
		return nil
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("categories must be a number or a list of names: %w", err)
	}
	var out Categories
	for _, name := range names {
		cat, err := ParseCategory(name)
		if err != nil {
			return err
		}
		out |= cat
	}
	*c = out
	return nil
}
