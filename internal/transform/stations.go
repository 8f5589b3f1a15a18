package transform

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	texttransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// codePattern matches candidate station codes in free text: NS station
// abbreviations are 2-5 uppercase letters (ASD, UT, GVC, EHV).
var codePattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

// foldChain strips combining marks so accented spellings in international
// routes ("Genève", "Liège-Guillemins") compare equal to ASCII input.
var foldChain = texttransform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func fold(s string) string {
	out, _, err := texttransform.String(foldChain, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(out)
}

// extractStations collects affected station codes from the structured
// payload fields, falling back to scanning the title when the feed omits
// them. The result is deduped, sorted and comma-joined: the denormalized
// list trades query complexity for load simplicity.
func (c *Cleaner) extractStations(p *nsPayload) string {
	set := make(map[string]struct{})

	add := func(s nsStation) {
		if s.StationCode != "" {
			set[s.StationCode] = struct{}{}
		} else if s.UICCode != "" {
			set[s.UICCode] = struct{}{}
		}
	}

	if p.Section != nil {
		for _, s := range p.Section.Stations {
			add(s)
		}
	}
	for _, ts := range p.Timespans {
		if ts.Situation == nil {
			continue
		}
		for _, s := range ts.Situation.Stations {
			add(s)
		}
	}

	// Fallback: the feed sometimes carries station information only in the
	// title ("Storing tussen Amsterdam Centraal en Utrecht").
	if len(set) == 0 && p.Title != "" {
		for _, code := range codePattern.FindAllString(p.Title, -1) {
			if c.isKnownCode(code) {
				set[code] = struct{}{}
			}
		}
		folded := fold(p.Title)
		for name, code := range c.foldedNames {
			if strings.Contains(folded, name) {
				set[code] = struct{}{}
			}
		}
	}

	if len(set) == 0 {
		return ""
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return strings.Join(codes, ",")
}

// isKnownCode validates a regex candidate against the station reference.
// With no reference loaded every candidate passes, matching the permissive
// behavior the title scan had before the reference table existed.
func (c *Cleaner) isKnownCode(code string) bool {
	if len(c.knownCodes) == 0 {
		return true
	}
	_, ok := c.knownCodes[code]
	return ok
}
