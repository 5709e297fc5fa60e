package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/schollz/closestmatch"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrMissingColumn = errors.New("missing column")

// Fold upper-cases s, strips accents and collapses inner whitespace, so
// "Razón  social" and "RAZON SOCIAL" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToUpper(out)), " ")
}

// minSimilarity is the bigram overlap a fuzzy header match must reach.
const minSimilarity = 0.75

// ResolveColumn finds the header in columns that stands for wanted.
// Lookup order: exact, folded, any hint contained in the folded header, then the
// closest fuzzy match if it is similar enough. Returns "" when nothing fits.
func ResolveColumn(columns []string, wanted string, hints ...string) string {
	for _, c := range columns {
		if c == wanted {
			return c
		}
	}
	fw := Fold(wanted)
	folded := make(map[string]string, len(columns))
	for _, c := range columns {
		fc := Fold(c)
		if fc == fw {
			return c
		}
		if _, seen := folded[fc]; !seen {
			folded[fc] = c
		}
	}
	for _, h := range hints {
		fh := Fold(h)
		for _, c := range columns {
			if strings.Contains(Fold(c), fh) {
				return c
			}
		}
	}
	if len(folded) == 0 {
		return ""
	}
	keys := make([]string, 0, len(folded))
	for _, c := range columns {
		fc := Fold(c)
		if fc != "" && folded[fc] == c {
			keys = append(keys, fc)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	cm := closestmatch.New(keys, []int{2, 3})
	best := cm.Closest(fw)
	if best == "" || similarity(best, fw) < minSimilarity {
		return ""
	}
	return folded[best]
}

// Require resolves every wanted column or reports all missing ones at once.
// The returned map goes from the wanted name to the actual header.
func Require(t *Table, wanted ...string) (map[string]string, error) {
	found := make(map[string]string, len(wanted))
	var missing []string
	for _, w := range wanted {
		c := ResolveColumn(t.Columns, w)
		if c == "" {
			missing = append(missing, w)
			continue
		}
		found[w] = c
	}
	if len(missing) > 0 {
		return found, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return found, nil
}

// Canonicalize renames resolved headers to their canonical names so later code can use
// the constants directly. Columns that cannot be resolved are left alone.
func Canonicalize(t *Table, canonical ...string) {
	for _, want := range canonical {
		if t.Has(want) {
			continue
		}
		if c := ResolveColumn(t.Columns, want); c != "" && !contains(canonical, c) {
			t.Rename(c, want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// similarity is the Dice coefficient over rune bigrams.
func similarity(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		if a == b {
			return 1
		}
		return 0
	}
	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}
	shared := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
