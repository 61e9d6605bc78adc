package routing

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	newlineRe    = regexp.MustCompile(`\r?\n`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	commaRunRe   = regexp.MustCompile(`,+`)
	commaSpaceRe = regexp.MustCompile(`,\s+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]`)
)

// abbreviations maps common street-suffix shorthand to its long form so that
// "Oak St" and "Oak Street" compare equal.
var abbreviations = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"blvd": "boulevard",
	"dr":   "drive",
	"ct":   "court",
	"rd":   "road",
	"ln":   "lane",
	"apt":  "apartment",
	"pkwy": "parkway",
	"pl":   "place",
	"trl":  "trail",
	"cir":  "circle",
	"bldg": "building",
	"fwy":  "freeway",
	"hwy":  "highway",
	"sq":   "square",
	"ter":  "terrace",
}

// NormalizeAddress flattens a free-text address into a single line suitable
// for geocoding: newlines become commas, runs of whitespace and commas
// collapse, and surrounding separators are stripped.
func NormalizeAddress(address string) string {
	if address == "" {
		return ""
	}
	address = newlineRe.ReplaceAllString(address, ", ")
	address = whitespaceRe.ReplaceAllString(address, " ")
	address = commaRunRe.ReplaceAllString(address, ",")
	address = commaSpaceRe.ReplaceAllString(address, ",")
	return strings.Trim(address, " ,")
}

// StandardizeLocation reduces an address to a comparison key: normalized,
// lowercased, abbreviations expanded, and all separators removed.
func StandardizeLocation(location string) string {
	location = strings.ToLower(NormalizeAddress(location))

	words := strings.FieldsFunc(location, func(r rune) bool {
		return r == ' ' || r == ','
	})
	for i, w := range words {
		w = nonAlnumRe.ReplaceAllString(w, "")
		if long, ok := abbreviations[w]; ok {
			w = long
		}
		words[i] = w
	}

	return strings.Join(words, "")
}

// LocationsSimilar reports whether two free-text addresses refer to the same
// place for leg-collapsing purposes. Calendar locations are rarely written
// identically twice, so one standardized form containing the other counts as
// a match.
func LocationsSimilar(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	sa := StandardizeLocation(a)
	sb := StandardizeLocation(b)
	if sa == "" || sb == "" {
		return false
	}
	return strings.Contains(sa, sb) || strings.Contains(sb, sa)
}

// AppleMapsURL builds a directions link between two addresses for embedding
// in the transit event description.
func AppleMapsURL(origin, destination string) string {
	return "http://maps.apple.com/?saddr=" + url.QueryEscape(NormalizeAddress(origin)) +
		"&daddr=" + url.QueryEscape(NormalizeAddress(destination))
}
