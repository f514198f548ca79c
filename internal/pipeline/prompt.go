// Package pipeline implements the per-phase workers and the shared
// claim-process-release loop they run on.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/majlabs/docflow/internal/model"
)

// systemPrompt frames the external model call; the local engine gets the
// same instructions inlined in the user prompt.
const systemPrompt = "Jsi extraktor strukturovaných dat z firemních dokumentů. Odpovídáš výhradně validním JSON bez markdown."

// maxPromptBodyChars bounds the document text embedded in a prompt.
const maxPromptBodyChars = 3000

// buildPrompt renders the analysis prompt for one item. kindHint narrows
// the answer space when a phase already has a suspicion.
func buildPrompt(env *model.Envelope, text string, kindHint model.DocumentKind) string {
	var b strings.Builder

	b.WriteString("Analyzuj tento email a extrahuj strukturované informace.\n\nEMAIL:\n")
	if env != nil {
		fmt.Fprintf(&b, "Od: %s\n", addressLine(env.From))
		if len(env.To) > 0 {
			fmt.Fprintf(&b, "Komu: %s\n", addressLine(env.To[0]))
		}
		fmt.Fprintf(&b, "Předmět: %s\n", env.Subject)
		if !env.Date.IsZero() {
			fmt.Fprintf(&b, "Datum: %s\n", env.Date.Format("2006-01-02"))
		}
	}

	b.WriteString("\nOBSAH:\n")
	b.WriteString(clipRunes(text, maxPromptBodyChars))
	b.WriteString("\n\n")

	if kindHint != "" && kindHint != model.KindUnknown {
		fmt.Fprintf(&b, "Pravděpodobný typ dokumentu: %s\n\n", kindHint)
	}

	b.WriteString("Odpověz POUZE validním JSON (bez markdown) s těmito poli:\n")
	b.WriteString(`{
  "doc_typ": "`)
	kinds := make([]string, 0, len(model.AllKinds)-1)
	for _, k := range model.AllKinds {
		if k != model.KindUnknown {
			kinds = append(kinds, string(k))
		}
	}
	b.WriteString(strings.Join(kinds, "|"))
	b.WriteString(`",
  "protistrana_nazev": "název firmy/odesílatele",
  "protistrana_ico": "IČO pokud je uvedeno",
  "protistrana_typ": "firma|OSVČ|FO",
  "castka_celkem": 0.0,
  "datum_dokumentu": "YYYY-MM-DD",
  "cislo_dokumentu": "číslo dokumentu",
  "mena": "CZK|EUR|USD",
  "stav_platby": "zaplaceno|nezaplaceno",
  "datum_splatnosti": "YYYY-MM-DD",
  "kategorie": "kategorie dokumentu",
  "od_osoba": "jméno odesílatele",
  "od_firma": "firma odesílatele",
  "pro_osoba": "jméno příjemce",
  "pro_firma": "firma příjemce",
  "predmet": "stručný popis o čem dokument je",
  "ai_summary": "souhrn max 100 slov",
  "ai_keywords": "klíčová slova oddělená čárkou",
  "ai_popis": "podrobnější popis obsahu",
  "typ_sluzby": "typ služby pokud je",
  "nazev_sluzby": "název služby",
  "predmet_typ": "typ předmětu",
  "predmet_nazev": "název předmětu",
  "polozky_text": "položky jako text",
  "perioda": "období dokumentu",
  "confidence": 0.0
}`)

	return b.String()
}

func addressLine(a model.Address) string {
	if a.Name != "" {
		return a.Name + " <" + a.Email + ">"
	}
	return a.Email
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
