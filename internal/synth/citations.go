package synth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/snarg/interview-kb/internal/kb"
)

// Policy decides what happens to a citation that matches no retrieved chunk.
type Policy string

const (
	// PolicyDrop removes unverifiable tags from the answer.
	PolicyDrop Policy = "drop"
	// PolicyFlag keeps them in the text and reports them as unverified.
	PolicyFlag Policy = "flag"
)

// ParsePolicy accepts "drop" or "flag"; the empty string means drop.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyFlag:
		return PolicyFlag, nil
	}
	return "", fmt.Errorf("unknown citation policy %q", s)
}

// bracketPattern matches any single-line bracketed span. Known tags are
// looked up by their whole normalized content, so labels may contain commas.
var bracketPattern = regexp.MustCompile(`\[[^\[\]\n]*\]`)

// tagPattern matches "[source, speaker, timestamp]" for tags that are not in
// the retrieved context.
var tagPattern = regexp.MustCompile(`^\[\s*([^\[\],]+?)\s*,\s*([^\[\],]+?)\s*,\s*([^\[\],]+?)\s*\]$`)

var commaSpace = regexp.MustCompile(`\s*,\s*`)

// citationSet indexes the citations that retrieved chunks can back, keyed by
// normalized tag text.
type citationSet map[string]kb.Citation

func newCitationSet(res kb.QueryResult) citationSet {
	set := make(citationSet, len(res.Chunks))
	for _, sc := range res.Chunks {
		c := sc.Chunk.Citation()
		set[citationKey(c)] = c
	}
	return set
}

func citationKey(c kb.Citation) string {
	return normalizeTag(c.Tag())
}

// normalizeTag lowercases a tag and canonicalizes spacing around commas and
// inside the brackets.
func normalizeTag(tag string) string {
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(tag), "["), "]"))
	inner = strings.Join(strings.Fields(inner), " ")
	return strings.ToLower(commaSpace.ReplaceAllString(inner, ", "))
}

// lookup returns the retrieved citation a tag refers to.
func (s citationSet) lookup(c kb.Citation) (kb.Citation, bool) {
	got, ok := s[citationKey(c)]
	return got, ok
}

// citationResult is the outcome of checking one piece of answer text.
type citationResult struct {
	text       string
	valid      []kb.Citation
	unverified []kb.Citation
}

// checkCitations finds every tag in text and validates it against set.
// Bracketed text that is neither a known tag nor shaped like one is left
// alone. Under PolicyDrop unknown tags are cut from the returned text.
func checkCitations(text string, set citationSet, policy Policy) citationResult {
	var res citationResult
	res.text = bracketPattern.ReplaceAllStringFunc(text, func(span string) string {
		if c, ok := set[normalizeTag(span)]; ok {
			res.valid = append(res.valid, c)
			return c.Tag()
		}
		m := tagPattern.FindStringSubmatch(span)
		if m == nil {
			return span
		}
		res.unverified = append(res.unverified, kb.Citation{SourceID: m[1], Speaker: m[2], Timestamp: m[3]})
		if policy == PolicyDrop {
			return ""
		}
		return span
	})
	if policy == PolicyDrop && len(res.unverified) > 0 {
		res.text = tidy(res.text)
	}
	return res
}

var (
	spaceRun     = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeP = regexp.MustCompile(`[ \t]+([.,;:!?])`)
)

// tidy collapses whitespace left behind by removed tags.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		l = spaceRun.ReplaceAllString(l, " ")
		l = spaceBeforeP.ReplaceAllString(l, "$1")
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

// appendUnique adds citations not already present, keeping first-seen order.
func appendUnique(dst []kb.Citation, src ...kb.Citation) []kb.Citation {
	for _, c := range src {
		dup := false
		for _, d := range dst {
			if citationKey(d) == citationKey(c) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}
