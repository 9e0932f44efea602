// Package lang implements the per-client localised message catalogue
// (spec §4 "Language / message catalogue") and its printf-format
// parity validator, ported from
// original_source/src/langs.c + src/langs_format.c. The on-disk
// translation file format itself is out of scope (spec §1 Non-goals:
// "helpfile and translation-file on-disk formats beyond what is
// needed for loading") — Load accepts a simple "id = format string"
// line format sufficient to populate the catalogue; callers needing a
// richer source format can build a Catalogue directly with Add.
package lang

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ID identifies a message within the catalogue, stable across
// languages so the same ID resolves to each language's translation.
type ID int

// specKind is the conversion family a %-specifier falls into; only
// the kind and the long/longlong/unsigned flags need to match between
// translations, matching lang_fmt's LANG_FMT_* bits.
type specKind int

const (
	kindString specKind = iota
	kindChar
	kindInteger
	kindHex
)

type spec struct {
	kind      specKind
	long      bool
	longlong  bool
	unsigned  bool
}

// Catalogue holds every language's translation of every message ID.
// Language 0 is the default/base language: every fallback chain ends
// there (spec Ambiguities: "fall back to the default language, then
// to language index 0").
type Catalogue struct {
	langNames []string // index -> name, index 0 is default
	langIndex map[string]int
	messages  map[int]map[ID]string
}

// New creates an empty catalogue. defaultLang is always registered as
// language index 0.
func New(defaultLang string) *Catalogue {
	c := &Catalogue{
		langIndex: make(map[string]int),
		messages:  make(map[int]map[ID]string),
	}
	c.addLanguage(defaultLang)
	return c
}

func (c *Catalogue) addLanguage(name string) int {
	if idx, ok := c.langIndex[name]; ok {
		return idx
	}
	idx := len(c.langNames)
	c.langNames = append(c.langNames, name)
	c.langIndex[name] = idx
	c.messages[idx] = make(map[ID]string)
	return idx
}

// Add registers a message in a given language, validating it against
// the default language's format specifiers once the default entry
// for that ID exists (see Validate). It is not an error to add the
// default language's own text, which becomes the validation baseline
// for every other language's translation of the same ID.
func (c *Catalogue) Add(langName string, id ID, format string) error {
	idx := c.addLanguage(langName)
	if idx != 0 {
		if base, ok := c.messages[0][id]; ok {
			if err := Validate(base, format); err != nil {
				return fmt.Errorf("lang: %s message %d: %w", langName, id, err)
			}
		}
	}
	c.messages[idx][id] = format
	return nil
}

// Load reads "id = format" lines (blank lines and lines starting with
// '#' ignored) into langName.
func (c *Catalogue) Load(langName string, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		if err := c.Add(langName, ID(n), strings.TrimSpace(parts[1])); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Message resolves id for client language langName, falling back to
// the default language, which New always registers as language index
// 0, so the default-language and index-0 fallbacks are one lookup.
func (c *Catalogue) Message(langName string, id ID) string {
	if idx, ok := c.langIndex[langName]; ok {
		if m, ok := c.messages[idx][id]; ok {
			return m
		}
	}
	if m, ok := c.messages[0][id]; ok {
		return m
	}
	return fmt.Sprintf("<untranslated message %d>", id)
}

// Languages returns the registered language names, default first.
func (c *Catalogue) Languages() []string {
	out := append([]string(nil), c.langNames...)
	sort.SliceStable(out[1:], func(i, j int) bool { return out[1:][i] < out[1:][j] })
	return out
}

// Validate walks base and translated in lockstep and fails if their
// ordered sequence of conversion specifiers differs — this is a
// safety property (spec Design Notes: "port this verbatim — it is a
// safety property, not a nicety"), not a style nicety: a mismatched
// specifier sequence is a potential crash or type-confusion once the
// format string reaches fmt.Sprintf with mismatched args.
func Validate(base, translated string) error {
	b, err := parseSpecs(base)
	if err != nil {
		return fmt.Errorf("base format invalid: %w", err)
	}
	t, err := parseSpecs(translated)
	if err != nil {
		return fmt.Errorf("translated format invalid: %w", err)
	}
	if len(b) != len(t) {
		return fmt.Errorf("specifier count mismatch: base has %d, translation has %d", len(b), len(t))
	}
	for i := range b {
		if b[i] != t[i] {
			return fmt.Errorf("specifier %d mismatch: base %+v, translation %+v", i, b[i], t[i])
		}
	}
	return nil
}

func parseSpecs(format string) ([]spec, error) {
	var out []spec
	runes := []rune(format)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' {
			continue
		}
		i++
		var cur spec
		for i < len(runes) {
			switch runes[i] {
			case '%':
				// literal %%, not a conversion; skip it and keep scanning
			case 'l':
				if cur.long {
					cur.longlong = true
				} else {
					cur.long = true
				}
				i++
				continue
			case 'u':
				cur.unsigned = true
				cur.kind = kindInteger
				out = append(out, cur)
			case 'd', 'i':
				cur.kind = kindInteger
				out = append(out, cur)
			case 'x', 'X':
				cur.kind = kindHex
				out = append(out, cur)
			case 'c':
				cur.kind = kindChar
				out = append(out, cur)
			case 's':
				cur.kind = kindString
				out = append(out, cur)
			default:
				// skip width/flag/precision characters like original's
				// lang_fmt_parse does implicitly by only special-casing
				// the conversion letters it cares about.
				i++
				continue
			}
			break
		}
	}
	return out, nil
}
