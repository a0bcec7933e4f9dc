// Package normalizers provides named string normalizers for business keys and
// attribute comparison, plus deterministic normalization of typed attribute maps.
package normalizers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("nname", NormalizeName)
	Register("naddress", NormalizeAddress)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Validate returns an error naming the first unknown normalizer.
func Validate(names ...string) error {
	for _, name := range names {
		if _, ok := registry[name]; !ok {
			return fmt.Errorf("unknown normalizer %q", name)
		}
	}
	return nil
}

// Apply applies a named normalizer to a value. Unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

func Lowercase(s string) string {
	return strings.ToLower(s)
}

func Uppercase(s string) string {
	return strings.ToUpper(s)
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// CollapseWhitespace trims and folds internal runs of whitespace to one space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeName lowercases, drops punctuation and common suffixes, and collapses spaces.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " inc.", " inc", " llc"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// street suffix abbreviations, applied in order
var addressReplacements = [][2]string{
	{" street", " st"},
	{" avenue", " ave"},
	{" boulevard", " blvd"},
	{" drive", " dr"},
	{" road", " rd"},
	{" lane", " ln"},
	{" court", " ct"},
	{" circle", " cir"},
	{" highway", " hwy"},
	{" place", " pl"},
	{" suite", " ste"},
	{" north", " n"},
	{" south", " s"},
	{" east", " e"},
	{" west", " w"},
}

// NormalizeAddress lowercases and abbreviates common street words.
func NormalizeAddress(s string) string {
	s = strings.ToLower(CollapseWhitespace(s))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	for _, r := range addressReplacements {
		s = strings.ReplaceAll(s, r[0], r[1])
	}
	return s
}

func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
