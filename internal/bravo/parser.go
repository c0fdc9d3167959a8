// Package bravo decodes storage positions and country segments from Bravo material codes.
package bravo

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Grammar names a matcher in the parse cascade.
type Grammar string

const (
	GrammarStandard  Grammar = "standard"
	GrammarSeparated Grammar = "separated"
	GrammarNumeric   Grammar = "numeric_position"
	GrammarExtended  Grammar = "extended"
	GrammarHeuristic Grammar = "heuristic"
)

// Descriptor is the storage position encoded in a Bravo code.
type Descriptor struct {
	SystemCategory string  `json:"system_category"`
	Warehouse      string  `json:"warehouse"`
	Shelf          string  `json:"shelf"`
	Slot           string  `json:"slot"`
	Floor          string  `json:"floor"`
	ShortCode      string  `json:"short_code"`
	Grammar        Grammar `json:"grammar"`
}

type grammar struct {
	name    Grammar
	re      *regexp.Regexp
	extract func(groups []string) (shelf, slot, floor string)
}

// The cascade is built once and never mutated; first match wins.
var cascade = []grammar{
	{
		name: GrammarStandard,
		re:   regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)\.([A-Z]\d+)\.(\d+)$`),
		extract: func(g []string) (string, string, string) {
			shelf, slot := splitPosition(g[6])
			return shelf, slot, g[7]
		},
	},
	{
		name: GrammarSeparated,
		re:   regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)\.([A-Z])\.(\d+)\.(\d+)$`),
		extract: func(g []string) (string, string, string) {
			return g[6], g[7], g[8]
		},
	},
	{
		name: GrammarNumeric,
		re:   regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)$`),
		extract: func(g []string) (string, string, string) {
			shelf, slot := numericPosition(g[6])
			return shelf, slot, g[7]
		},
	},
	{
		name: GrammarExtended,
		re:   regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)\.([A-Z])(\d+)\.(\d+)$`),
		extract: func(g []string) (string, string, string) {
			return g[6], g[7], g[8]
		},
	},
}

var systemCategories = map[string]string{
	"1": "Đập tràn",
	"2": "Nhà máy",
	"3": "Trạm biến áp",
	"4": "Hệ thống điện",
	"5": "Kho vật tư",
}

var lettersDigits = regexp.MustCompile(`^([A-Z]+)(\d+)$`)

const shelfAlphabet = "ABCDEFGHIJ"

// SystemCategory maps the leading segment of a code to its label.
func SystemCategory(segment string) string {
	if label, ok := systemCategories[segment]; ok {
		return label
	}
	return fmt.Sprintf("Hệ thống %s", segment)
}

// Parse decodes the storage position of code. It reports false when no
// grammar and no heuristic applies.
func Parse(code string) (Descriptor, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Descriptor{}, false
	}
	for _, g := range cascade {
		groups := g.re.FindStringSubmatch(code)
		if groups == nil {
			continue
		}
		shelf, slot, floor := g.extract(groups)
		return newDescriptor(g.name, groups[1], groups[2], shelf, slot, floor), true
	}
	return heuristic(code)
}

func heuristic(code string) (Descriptor, bool) {
	segments := strings.Split(code, ".")
	if len(segments) < 6 {
		return Descriptor{}, false
	}
	position := segments[4]
	if len(segments) >= 7 && isCountrySegment(segments[4]) {
		position = segments[5]
	}
	if position == "" {
		return Descriptor{}, false
	}
	shelf, slot := splitPosition(position)
	floor := "1"
	if len(segments) > 6 {
		floor = segments[len(segments)-1]
	}
	return newDescriptor(GrammarHeuristic, segments[0], segments[1], shelf, slot, floor), true
}

func newDescriptor(name Grammar, system, warehouse, shelf, slot, floor string) Descriptor {
	d := Descriptor{
		SystemCategory: SystemCategory(system),
		Warehouse:      warehouse,
		Shelf:          shelf,
		Slot:           slot,
		Floor:          floor,
		Grammar:        name,
	}
	if shelf != "" && slot != "" {
		d.ShortCode = shelf + slot
	}
	return d
}

// splitPosition separates "A8" style positions; anything else is split after
// the first rune.
func splitPosition(position string) (string, string) {
	if m := lettersDigits.FindStringSubmatch(position); m != nil {
		return m[1], m[2]
	}
	runes := []rune(position)
	if len(runes) == 0 {
		return "", ""
	}
	return string(runes[:1]), string(runes[1:])
}

// numericPosition maps two digits to shelf letter and slot, e.g. "93" -> J/3.
func numericPosition(position string) (string, string) {
	if len(position) < 2 {
		return "A", "1"
	}
	shelf := string(shelfAlphabet[0])
	if idx := int(position[0] - '0'); idx >= 0 && idx < len(shelfAlphabet) {
		shelf = string(shelfAlphabet[idx])
	}
	slot := position[1:2]
	if slot == "0" {
		slot = "1"
	}
	return shelf, slot
}

func isCountrySegment(segment string) bool {
	if len(segment) != 3 {
		return false
	}
	for _, r := range segment {
		if !unicode.IsUpper(r) || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// CountryCode returns the origin segment of code (index 4) when the code has
// at least five segments.
func CountryCode(code string) (string, bool) {
	segments := strings.Split(strings.TrimSpace(code), ".")
	if len(segments) < 5 {
		return "", false
	}
	cc := strings.TrimSpace(segments[4])
	if cc == "" {
		return "", false
	}
	return cc, true
}
