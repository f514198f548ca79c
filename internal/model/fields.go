package model

// FieldNames is the fixed 31-field contract between the analyzer phases and
// delivery. The names are the downstream custom-field identifiers; order is
// the canonical presentation order.
var FieldNames = []string{
	"doc_typ",
	"protistrana_nazev",
	"protistrana_ico",
	"protistrana_typ",
	"castka_celkem",
	"datum_dokumentu",
	"cislo_dokumentu",
	"mena",
	"stav_platby",
	"datum_splatnosti",
	"kategorie",
	"email_from",
	"email_to",
	"email_subject",
	"od_osoba",
	"od_osoba_role",
	"od_firma",
	"pro_osoba",
	"pro_osoba_role",
	"pro_firma",
	"predmet",
	"ai_summary",
	"ai_keywords",
	"ai_popis",
	"typ_sluzby",
	"nazev_sluzby",
	"predmet_typ",
	"predmet_nazev",
	"polozky_text",
	"polozky_json",
	"perioda",
}

// FieldSet holds the extracted values keyed by field name. Absent or
// non-extractable fields carry nil.
type FieldSet map[string]any

// NewFieldSet returns a FieldSet with every contract field present and nil.
func NewFieldSet() FieldSet {
	fs := make(FieldSet, len(FieldNames))
	for _, name := range FieldNames {
		fs[name] = nil
	}
	return fs
}

// Str returns the field as a string, or "" when absent or non-string.
func (fs FieldSet) Str(name string) string {
	if v, ok := fs[name].(string); ok {
		return v
	}
	return ""
}

// Num returns the field as a float64, or 0 when absent or non-numeric.
func (fs FieldSet) Num(name string) float64 {
	switch v := fs[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Merge copies non-nil values from other into fs, keeping existing
// non-nil values. Used when a later analyzer only fills gaps.
func (fs FieldSet) Merge(other FieldSet) {
	for _, name := range FieldNames {
		if fs[name] == nil && other[name] != nil {
			fs[name] = other[name]
		}
	}
}
