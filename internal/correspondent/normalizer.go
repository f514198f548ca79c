// Package correspondent derives canonical correspondent identities from raw
// sender strings and reconciles duplicates on the delivery target.
package correspondent

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// legalSuffixes are trailing legal-form tokens stripped from company names.
// Longer variants must precede their prefixes.
var legalSuffixes = []string{
	"spol. s r.o.", "spol s r.o.", "s. r. o.", "s.r.o.", "s.r.o", "sro",
	"a. s.", "a.s.", "a.s",
	"k.s.", "v.o.s.",
	"gmbh & co. kg", "gmbh", "ag",
	"inc.", "inc", "ltd.", "ltd", "llc", "corp.", "corp", "co.",
	"z.s.", "o.p.s.", "s.e.", "se",
}

// serviceSuffixes are trailing mailbox-role tokens that say nothing about
// the counterparty's identity.
var serviceSuffixes = []string{
	"newsletter", "newsletters", "alerts", "alert", "notifications",
	"notification", "support", "info", "noreply", "no-reply", "team",
	"mailer", "billing", "fakturace", "podpora", "obchod", "marketing",
}

// domainSuffixes are stripped when the sender collapses to a bare domain.
var domainSuffixes = []string{
	".co.uk", ".com.au",
	".cz", ".sk", ".com", ".net", ".org", ".eu", ".de", ".at", ".pl", ".io",
}

// nonAlnum drops everything NFKD decomposition left behind that is not a
// letter or digit; diacritics become plain letters, emoji disappear.
var nonAlnum = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.Predicate(func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
	})),
	norm.NFC,
)

// Normalize reduces a raw sender string to its normalized key. The pipeline
// is deterministic and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	// "Display Name <mailbox@domain>" keeps the display name; a bare
	// address keeps its local part unless it is a role mailbox, in which
	// case the domain identifies the sender better.
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if name := strings.TrimSpace(s[:i]); name != "" {
			s = name
		} else {
			s = strings.Trim(s[i:], "<> ")
		}
	}
	if at := strings.IndexByte(s, '@'); at >= 0 {
		local := s[:at]
		domain := s[at+1:]
		if isRoleMailbox(local) {
			s = domain
		} else {
			s = local
		}
	}

	s = stripSuffixTokens(s, legalSuffixes)
	s = stripSuffixTokens(s, serviceSuffixes)
	for _, suffix := range domainSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}

	if out, _, err := transform.String(nonAlnum, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}

func isRoleMailbox(local string) bool {
	local = strings.TrimRight(local, "0123456789")
	for _, role := range serviceSuffixes {
		if local == role {
			return true
		}
	}
	return false
}

// stripSuffixTokens repeatedly removes trailing tokens from the list,
// together with any separator punctuation left before them.
func stripSuffixTokens(s string, tokens []string) string {
	for {
		trimmed := strings.TrimRight(strings.TrimSpace(s), ",.-_ ")
		stripped := false
		for _, tok := range tokens {
			if strings.HasSuffix(trimmed, tok) && len(trimmed) > len(tok) {
				s = strings.TrimSpace(trimmed[:len(trimmed)-len(tok)])
				stripped = true
				break
			}
		}
		if !stripped {
			return strings.TrimRight(strings.TrimSpace(s), ",.-_ ")
		}
	}
}

// Mappings resolves normalized keys to curated display names.
type Mappings map[string]string

// LoadMappings reads a YAML key-to-display-name table; an empty path means
// no curated names.
func LoadMappings(path string) (Mappings, error) {
	if path == "" {
		return Mappings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "correspondent: read mappings %s", path)
	}
	var m Mappings
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "correspondent: parse mappings %s", path)
	}
	return m, nil
}

// DisplayName returns the human-facing name for a raw sender: the curated
// mapping when one exists, otherwise the title-cased normalized key.
func (m Mappings) DisplayName(raw string) string {
	key := Normalize(raw)
	if name, ok := m[key]; ok {
		return name
	}
	return titleCase(key)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
