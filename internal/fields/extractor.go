// Package fields extracts the 31-field document contract from plain text
// using regex patterns. It is the deterministic baseline every analyzer
// phase starts from; model verdicts only fill the gaps it leaves.
package fields

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/majlabs/docflow/internal/model"
)

var (
	icoRe = regexp.MustCompile(`(?i)IČO?[:\s]*(\d{8})`)

	amountRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)celkem\s*(?:k\s*úhradě)?[:\s]*([0-9\s,.]+[0-9])\s*(Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)total\s*(?:amount)?[:\s]*([0-9\s,.]+[0-9])\s*(Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)k\s*úhradě[:\s]*([0-9\s,.]+[0-9])\s*(Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)částka[:\s]*([0-9\s,.]+[0-9])\s*(Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)suma[:\s]*([0-9\s,.]+[0-9])\s*(Kč|CZK|EUR|€|\$|USD)?`),
	}

	dateYMDRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	dateDMYRe = regexp.MustCompile(`(\d{1,2})[./](\d{1,2})[./](\d{4})`)
	dueDateRe = regexp.MustCompile(`(?i)(?:splatnost[a-zěí]*|due\s*date)[:\s]*(\d{1,2})[./](\d{1,2})[./](\d{4})`)

	docNumRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)číslo\s*(?:faktury|dokladu)[:\s]*([A-Z0-9/-]+)`),
		regexp.MustCompile(`(?i)(?:faktura|invoice|doklad)\s*(?:č|číslo|nr?|number)?[.:\s#]*([A-Z0-9/-]+)`),
	}

	supplierRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:dodavatel|supplier)[:\s]*([^\n]{3,60})`),
		regexp.MustCompile(`(?i)(?:vystavil|issued\s*by)[:\s]*([^\n]{3,60})`),
	}
	customerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:odběratel|customer)[:\s]*([^\n]{3,60})`),
		regexp.MustCompile(`(?i)(?:příjemce|recipient)[:\s]*([^\n]{3,60})`),
	}
	companySuffixRe = regexp.MustCompile(`(?i)\s*(IČO?.*|DIČ.*|s\.r\.o\..*|a\.s\..*|spol\..*|,.*)$`)

	subjectRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:předmět|věc)[:\s]*([^\n]{10,100})`),
		regexp.MustCompile(`(?i)subject[:\s]*([^\n]{10,100})`),
	}

	periodMonthRe = regexp.MustCompile(`(?i)(?:období|period|za\s*měsíc)[:\s]*(\d{1,2})[./](\d{4})`)
	periodYearRe  = regexp.MustCompile(`(?i)(?:období|period)[:\s]*(\d{4})`)
	periodBareRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{4})\b`)

	itemRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*(.+?)\s{2,}(\d+)\s*[xX×]\s*([0-9 ,.]*[0-9])`)
)

// serviceTypes maps a service category to the tokens that signal it.
// Evaluated in order so the first category that matches wins.
var serviceTypes = []struct {
	name   string
	tokens []string
}{
	{"hosting", []string{"hosting", "server", "cloud", "aws", "azure"}},
	{"telekomunikace", []string{"telefon", "tarif", "internet", "wifi"}},
	{"software", []string{"licence", "software", "subscription", "saas"}},
	{"energie", []string{"elektřina", "plyn", "energie", "čez", "innogy"}},
	{"pojištění", []string{"pojištění", "insurance", "pojistka"}},
	{"účetnictví", []string{"účetní", "daňov", "audit"}},
	{"právní", []string{"advokát", "právní", "notář"}},
	{"doprava", []string{"doprava", "přeprava", "kurýr"}},
	{"marketing", []string{"reklama", "marketing", "google ads"}},
}

var keywordTokens = []struct{ keyword, token string }{
	{"faktura", "faktur"},
	{"smlouva", "smlouv"},
	{"objednávka", "objednáv"},
	{"platba", "platb"},
	{"účet", "účet"},
	{"pojištění", "pojišt"},
	{"daň", "daň"},
	{"licence", "licenc"},
	{"služba", "služb"},
	{"zboží", "zboží"},
}

// Item is one extracted document line.
type Item struct {
	Description string `json:"popis"`
	Quantity    int    `json:"mnozstvi"`
	UnitPrice   string `json:"cena"`
}

// Extract fills the contract fields from text plus the email envelope.
// kind seeds doc_typ and kategorie; fields nothing matches stay nil.
func Extract(text string, env *model.Envelope, kind model.DocumentKind) model.FieldSet {
	fs := model.NewFieldSet()

	if kind != model.KindUnknown && kind != "" {
		fs["doc_typ"] = string(kind)
		fs["kategorie"] = kind.Category()
	}

	if env != nil {
		if env.From.Email != "" {
			fs["email_from"] = formatAddress(env.From)
		}
		if len(env.To) > 0 {
			tos := make([]string, len(env.To))
			for i, a := range env.To {
				tos[i] = formatAddress(a)
			}
			fs["email_to"] = strings.Join(tos, ", ")
			if env.To[0].Name != "" {
				fs["pro_osoba"] = env.To[0].Name
			}
		}
		if env.Subject != "" {
			fs["email_subject"] = env.Subject
			fs["predmet"] = truncate(env.Subject, 200)
		}
		if env.From.Name != "" {
			fs["od_osoba"] = env.From.Name
		}
	}

	if strings.TrimSpace(text) == "" {
		return fs
	}
	lower := strings.ToLower(text)

	extractCounterparty(fs, text, lower)
	if amount, ok := extractAmount(text); ok {
		fs["castka_celkem"] = amount
	}
	if date := extractDate(text); date != "" {
		fs["datum_dokumentu"] = date
	}
	if num := extractDocNumber(text); num != "" {
		fs["cislo_dokumentu"] = num
	}
	if cur := extractCurrency(text, lower); cur != "" {
		fs["mena"] = cur
	}
	if status := extractPaymentStatus(lower); status != "" {
		fs["stav_platby"] = status
	}
	if due := extractDueDate(text); due != "" {
		fs["datum_splatnosti"] = due
	}
	extractCompanies(fs, text)
	if kw := extractKeywords(lower); kw != "" {
		fs["ai_keywords"] = kw
	}
	if sum := extractSummary(text); sum != "" {
		fs["ai_summary"] = sum
	}
	extractService(fs, lower)
	extractSubject(fs, text, kind)
	extractItems(fs, text)
	if period := extractPeriod(text); period != "" {
		fs["perioda"] = period
	}

	return fs
}

func extractCounterparty(fs model.FieldSet, text, lower string) {
	if m := icoRe.FindStringSubmatch(text); m != nil {
		fs["protistrana_ico"] = m[1]
		if strings.Contains(lower, "osvč") || strings.Contains(lower, "živnost") {
			fs["protistrana_typ"] = "OSVČ"
		} else {
			fs["protistrana_typ"] = "firma"
		}
	}
	for _, re := range supplierRes {
		if m := re.FindStringSubmatch(text); m != nil {
			name := companySuffixRe.ReplaceAllString(strings.TrimSpace(m[1]), "")
			if name != "" {
				fs["protistrana_nazev"] = truncate(name, 100)
			}
			break
		}
	}
}

func extractAmount(text string) (float64, bool) {
	for _, re := range amountRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := parseAmount(m[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

// parseAmount normalizes Czech number formatting: spaces (including NBSP)
// as thousands separators, comma or dot as the decimal mark.
func parseAmount(raw string) (float64, error) {
	s := strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(raw)
	if strings.Count(s, ".") > 1 {
		last := strings.LastIndex(s, ".")
		s = strings.ReplaceAll(s[:last], ".", "") + s[last:]
	}
	return strconv.ParseFloat(s, 64)
}

func extractDate(text string) string {
	if m := dateYMDRe.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
	}
	if m := dateDMYRe.FindStringSubmatch(text); m != nil {
		return m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1])
	}
	return ""
}

func extractDueDate(text string) string {
	if m := dueDateRe.FindStringSubmatch(text); m != nil {
		return m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1])
	}
	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func formatAddress(a model.Address) string {
	if a.Name != "" {
		return a.Name + " <" + a.Email + ">"
	}
	return a.Email
}

func extractDocNumber(text string) string {
	for _, re := range docNumRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		num := strings.Trim(m[1], ".-/")
		if len(num) >= 3 && len(num) <= 30 {
			return num
		}
	}
	return ""
}

func extractCurrency(text, lower string) string {
	switch {
	case strings.Contains(lower, "czk") || strings.Contains(lower, "kč"):
		return "CZK"
	case strings.Contains(lower, "eur") || strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(lower, "usd") || strings.Contains(text, "$"):
		return "USD"
	case strings.Contains(lower, "gbp") || strings.Contains(text, "£"):
		return "GBP"
	}
	return ""
}

func extractPaymentStatus(lower string) string {
	for _, tok := range []string{"zaplaceno", "uhrazeno", "paid", "bezahlt"} {
		if strings.Contains(lower, tok) {
			return "zaplaceno"
		}
	}
	for _, tok := range []string{"nezaplaceno", "unpaid", "k úhradě", "splatno"} {
		if strings.Contains(lower, tok) {
			return "nezaplaceno"
		}
	}
	return ""
}

func extractCompanies(fs model.FieldSet, text string) {
	for _, re := range supplierRes {
		if m := re.FindStringSubmatch(text); m != nil {
			fs["od_firma"] = truncate(strings.TrimSpace(m[1]), 100)
			break
		}
	}
	for _, re := range customerRes {
		if m := re.FindStringSubmatch(text); m != nil {
			fs["pro_firma"] = truncate(strings.TrimSpace(m[1]), 100)
			break
		}
	}
}

func extractKeywords(lower string) string {
	var found []string
	for _, kt := range keywordTokens {
		if strings.Contains(lower, kt.token) {
			found = append(found, kt.keyword)
		}
	}
	return strings.Join(found, ", ")
}

// extractSummary takes the first content-looking line, skipping header
// debris the OCR step tends to leave at the top.
func extractSummary(text string) string {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 20 {
			continue
		}
		count++
		if count > 5 {
			return ""
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "from:") || strings.Contains(lower, "to:") ||
			strings.Contains(lower, "date:") || strings.Contains(lower, "subject:") ||
			strings.Contains(line, "---") {
			continue
		}
		if len(line) > 30 {
			return truncate(line, 200)
		}
	}
	return ""
}

func extractService(fs model.FieldSet, lower string) {
	for _, st := range serviceTypes {
		for _, token := range st.tokens {
			idx := strings.Index(lower, token)
			if idx < 0 {
				continue
			}
			fs["typ_sluzby"] = st.name
			rest := strings.TrimLeft(lower[idx+len(token):], ": \t")
			if end := strings.IndexAny(rest, "\n,"); end >= 0 {
				rest = rest[:end]
			}
			rest = strings.TrimSpace(rest)
			if len(rest) >= 3 {
				fs["nazev_sluzby"] = truncate(rest, 50)
			}
			return
		}
	}
}

func extractSubject(fs model.FieldSet, text string, kind model.DocumentKind) {
	switch kind {
	case model.KindInvoice:
		fs["predmet_typ"] = "fakturace"
	case model.KindContract:
		fs["predmet_typ"] = "smlouva"
	case model.KindOrder:
		fs["predmet_typ"] = "objednávka"
	}
	for _, re := range subjectRes {
		if m := re.FindStringSubmatch(text); m != nil {
			fs["predmet_nazev"] = truncate(strings.TrimSpace(m[1]), 100)
			break
		}
	}
}

func extractItems(fs model.FieldSet, text string) {
	var items []Item
	for _, m := range itemRe.FindAllStringSubmatch(text, 20) {
		qty, _ := strconv.Atoi(m[2])
		items = append(items, Item{
			Description: truncate(strings.TrimSpace(m[1]), 100),
			Quantity:    qty,
			UnitPrice:   strings.ReplaceAll(strings.ReplaceAll(m[3], " ", ""), ",", "."),
		})
	}
	if len(items) == 0 {
		return
	}

	lines := make([]string, 0, min(len(items), 10))
	for _, it := range items[:min(len(items), 10)] {
		lines = append(lines, fmt.Sprintf("%s (%dx %s)", it.Description, it.Quantity, it.UnitPrice))
	}
	fs["polozky_text"] = strings.Join(lines, "; ")

	if raw, err := json.Marshal(items); err == nil {
		fs["polozky_json"] = string(raw)
	}
}

func extractPeriod(text string) string {
	if m := periodMonthRe.FindStringSubmatch(text); m != nil {
		return m[1] + "/" + m[2]
	}
	if m := periodYearRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := periodBareRe.FindStringSubmatch(text); m != nil {
		return m[1] + "/" + m[2]
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
