package bravo

// Analysis is the full decoding of one Bravo code.
type Analysis struct {
	Code        string      `json:"code"`
	Matched     bool        `json:"matched"`
	Position    *Descriptor `json:"position,omitempty"`
	CountryCode string      `json:"country_code,omitempty"`
	Segments    int         `json:"segments"`
}

// Analyze decodes position and country of code without touching storage.
func Analyze(code string) Analysis {
	a := Analysis{Code: code, Segments: countSegments(code)}
	if d, ok := Parse(code); ok {
		a.Matched = true
		a.Position = &d
	}
	if cc, ok := CountryCode(code); ok {
		a.CountryCode = cc
	}
	return a
}

func countSegments(code string) int {
	if code == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(code); i++ {
		if code[i] == '.' {
			n++
		}
	}
	return n
}
