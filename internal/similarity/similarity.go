// Package similarity scores how close a free-text credits guess is to a track.
package similarity

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketed  = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	dashSuffix = regexp.MustCompile(`\s+[-–—]\s+.*$`)
	featSuffix = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring)\s+.*$`)
)

// Options selects the comparison modes
type Options struct {
	// AllArtists requires every true artist to be matched; otherwise the
	// single best artist pair counts.
	AllArtists bool
	// MainTitle compares titles without annotations such as "(Remastered)".
	MainTitle bool
}

// Normalize lower-cases, folds diacritics, strips punctuation and collapses whitespace
func Normalize(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// MainTitle strips parenthetical and suffix annotations from a title
func MainTitle(title string) string {
	main := bracketed.ReplaceAllString(title, "")
	main = dashSuffix.ReplaceAllString(main, "")
	main = featSuffix.ReplaceAllString(main, "")
	main = strings.TrimSpace(main)
	if main == "" {
		return strings.TrimSpace(title)
	}
	return main
}

// Ratio returns a similarity in [0, 1] between two normalized strings
func Ratio(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// Artists compares the guessed artists against the reference artists
func Artists(reference, guessed []string, all bool) float64 {
	if len(reference) == 0 || len(guessed) == 0 {
		return 0
	}
	if all {
		var total float64
		for _, ref := range reference {
			total += bestMatch(ref, guessed)
		}
		return total / float64(len(reference))
	}
	var best float64
	for _, ref := range reference {
		best = max(best, bestMatch(ref, guessed))
	}
	return best
}

func bestMatch(reference string, guessed []string) float64 {
	var best float64
	for _, g := range guessed {
		best = max(best, Ratio(reference, g))
	}
	return best
}

// Title compares a guessed title against the reference title
func Title(reference, guessed string, mainOnly bool) float64 {
	if mainOnly {
		reference, guessed = MainTitle(reference), MainTitle(guessed)
	}
	return Ratio(reference, guessed)
}

// Credits is the mean of the artist and title similarities
func Credits(refArtists []string, refTitle string, artists []string, title string, opts Options) float64 {
	return (Artists(refArtists, artists, opts.AllArtists) + Title(refTitle, title, opts.MainTitle)) / 2
}
