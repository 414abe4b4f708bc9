// Package filler removes spoken disfluencies from transcript text using
// language-tagged, ordered regular-expression tables.
package filler

import (
	"fmt"
	"regexp"
	"strings"
)

// Drop is the replacement that removes a Token match while keeping the
// whitespace on both sides of it.
const Drop = "${1}${2}"

// space matches every rune strings.TrimSpace strips. RE2's \s alone is
// ASCII only and misses NBSP and \v.
const space = `[\s\v\x{85}\p{Z}]`

var (
	spaceRun   = regexp.MustCompile(`[ \t\v\f\p{Zs}]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Rule is one ordered substitution.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Table is the ordered rule list for a single language.
type Table struct {
	Language string
	Rules    []Rule
}

// RuleSpec is the uncompiled form of a Rule, as it appears in configuration.
type RuleSpec struct {
	Pattern     string
	Replacement string
}

// Token builds a pattern matching any of the given alternatives only when it
// stands alone: preceded by start of text or whitespace and followed by
// whitespace. Unicode spaces count as whitespace. Groups 1 and 2 capture the
// surrounding boundaries.
func Token(alternatives string) string {
	return `(^|` + space + `)(?:` + alternatives + `)(` + space + `)`
}

// Compile builds a Table from rule specs, failing on the first bad pattern.
func Compile(language string, specs []RuleSpec) (Table, error) {
	t := Table{Language: language, Rules: make([]Rule, 0, len(specs))}
	for i, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return Table{}, fmt.Errorf("filler %s rule %d: %w", language, i, err)
		}
		t.Rules = append(t.Rules, Rule{Pattern: re, Replacement: s.Replacement})
	}
	return t, nil
}

func mustTable(language string, alternatives ...string) Table {
	specs := make([]RuleSpec, len(alternatives))
	for i, alt := range alternatives {
		specs[i] = RuleSpec{Pattern: Token(alt), Replacement: Drop}
	}
	t, err := Compile(language, specs)
	if err != nil {
		panic(err)
	}
	return t
}

// Korean particles and hedges. Korean has weak word boundaries, so tokens are
// delimited by whitespace only.
var Korean = mustTable("ko",
	`아+`,
	`어+`,
	`음+`,
	`으+`,
	`그+`,
	`저+`,
	`뭐+`,
	`이제`,
	`그니까|그러니까`,
	`그게|저기`,
	`좀|막|약간`,
)

var English = mustTable("en",
	`(?i:u+m+)`,
	`(?i:u+h+)`,
	`(?i:e+r+m+)`,
	`(?i:h+m+)`,
)

// Cleaner applies the table registered for a language. Languages without a
// table only get whitespace normalization.
type Cleaner struct {
	tables map[string]Table
}

// New returns a Cleaner holding the given tables. A later table for the same
// language replaces an earlier one.
func New(tables ...Table) *Cleaner {
	c := &Cleaner{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		c.tables[t.Language] = t
	}
	return c
}

// Default returns a Cleaner with the built-in Korean and English tables.
func Default() *Cleaner {
	return New(Korean, English)
}

// Languages lists the languages with a registered table.
func (c *Cleaner) Languages() []string {
	langs := make([]string, 0, len(c.tables))
	for l := range c.tables {
		langs = append(langs, l)
	}
	return langs
}

// Clean removes fillers for the language, collapses runs of horizontal
// space, squeezes three or more newlines to two and trims the result. Clean
// is idempotent: trimming can expose a filler at the start of the text, so
// the steps repeat until the text settles.
func (c *Cleaner) Clean(language, text string) string {
	table, hasTable := c.tables[baseLanguage(language)]
	t := text
	for pass := 0; pass < maxPasses; pass++ {
		before := t
		if hasTable {
			t = apply(table.Rules, t)
		}
		t = spaceRun.ReplaceAllString(t, " ")
		t = newlineRun.ReplaceAllString(t, "\n\n")
		t = strings.TrimSpace(t)
		if t == before {
			break
		}
	}
	return t
}

// maxPasses bounds rule application for configured rules that never settle.
const maxPasses = 64

// apply runs the rule list until a full pass changes nothing. Token rules
// consume their trailing boundary, so adjacent fillers need more than one
// pass.
func apply(rules []Rule, text string) string {
	for pass := 0; pass < maxPasses; pass++ {
		before := text
		for _, r := range rules {
			for i := 0; i < maxPasses; i++ {
				next := r.Pattern.ReplaceAllString(text, r.Replacement)
				if next == text {
					break
				}
				text = next
			}
		}
		if text == before {
			break
		}
	}
	return text
}

// baseLanguage maps "ko-KR" and "ko_KR" to "ko".
func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}
