// Package isdoc renders accounting documents as ISDOC 6.0.2 invoices, the
// structured XML payload attached to accounting artifacts.
package isdoc

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/model"
)

const (
	namespace      = "http://isdoc.cz/namespace/2013"
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation = "http://isdoc.cz/namespace/2013 http://isdoc.cz/6.0.2/xsd/isdoc-invoice-6.0.2.xsd"
	version        = "6.0.2"

	// Czech standard VAT rate applied when the document does not break
	// the amount down itself.
	vatRate = 0.21
)

// documentTypeCode maps kinds to ISDOC DocumentType codes.
func documentTypeCode(kind model.DocumentKind) string {
	switch kind {
	case model.KindProforma:
		return "4"
	case model.KindReceipt, model.KindPaymentDocument:
		return "6"
	default:
		return "1"
	}
}

type invoice struct {
	XMLName        xml.Name `xml:"Invoice"`
	Namespace      string   `xml:"xmlns,attr"`
	XSI            string   `xml:"xmlns:xsi,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`
	Version        string   `xml:"version,attr"`

	DocumentType      string `xml:"DocumentType"`
	ID                string `xml:"ID"`
	UUID              string `xml:"UUID"`
	IssueDate         string `xml:"IssueDate,omitempty"`
	VATApplicable     string `xml:"VATApplicable,omitempty"`
	LocalCurrencyCode string `xml:"LocalCurrencyCode"`
	CurrRate          string `xml:"CurrRate"`
	RefCurrRate       string `xml:"RefCurrRate"`

	Supplier *party `xml:"AccountingSupplierParty>Party,omitempty"`
	Customer *party `xml:"AccountingCustomerParty>Party,omitempty"`

	Payment *paymentMeans `xml:"PaymentMeans,omitempty"`

	TaxTotal *taxTotal     `xml:"TaxTotal,omitempty"`
	Monetary monetaryTotal `xml:"LegalMonetaryTotal"`

	Lines []invoiceLine `xml:"InvoiceLine"`
}

type party struct {
	Name      string     `xml:"PartyName>Name,omitempty"`
	ID        string     `xml:"PartyIdentification>ID,omitempty"`
	TaxScheme *taxScheme `xml:"PartyTaxScheme,omitempty"`
}

type taxScheme struct {
	CompanyID string `xml:"CompanyID"`
	SchemeID  string `xml:"TaxScheme>ID"`
}

type paymentMeans struct {
	Code      string `xml:"PaymentMeansCode"`
	PaymentID string `xml:"PaymentID>ID,omitempty"`
}

type taxTotal struct {
	TaxAmount string      `xml:"TaxAmount"`
	Sub       taxSubTotal `xml:"TaxSubTotal"`
}

type taxSubTotal struct {
	TaxableAmount string `xml:"TaxableAmount"`
	TaxAmount     string `xml:"TaxAmount"`
	Percent       string `xml:"TaxCategory>Percent"`
}

type monetaryTotal struct {
	TaxExclusiveAmount               string `xml:"TaxExclusiveAmount"`
	TaxInclusiveAmount               string `xml:"TaxInclusiveAmount"`
	AlreadyClaimedTaxExclusiveAmount string `xml:"AlreadyClaimedTaxExclusiveAmount"`
	AlreadyClaimedTaxInclusiveAmount string `xml:"AlreadyClaimedTaxInclusiveAmount"`
	PayableRoundingAmount            string `xml:"PayableRoundingAmount"`
	PaidDepositsAmount               string `xml:"PaidDepositsAmount"`
	PayableAmount                    string `xml:"PayableAmount"`
}

type invoiceLine struct {
	ID                 string       `xml:"ID"`
	Quantity           quantityElem `xml:"InvoicedQuantity"`
	LineExtension      string       `xml:"LineExtensionAmount"`
	LineExtensionGross string       `xml:"LineExtensionAmountTaxInclusive"`
	Description        string       `xml:"Item>Description"`
}

type quantityElem struct {
	UnitCode string `xml:"unitCode,attr"`
	Value    string `xml:",chardata"`
}

// Emit renders the field set as ISDOC XML. Only accounting kinds carry the
// payload; other kinds return an error so callers fail loudly instead of
// shipping junk.
func Emit(itemID string, kind model.DocumentKind, fs model.FieldSet) ([]byte, error) {
	if !kind.IsAccounting() && kind != model.KindProforma {
		return nil, eris.Errorf("isdoc: kind %s carries no structured payload", kind)
	}

	total := fs.Num("castka_celkem")
	net := total / (1 + vatRate)
	vat := total - net

	currency := fs.Str("mena")
	if currency == "" {
		currency = "CZK"
	}

	docID := fs.Str("cislo_dokumentu")
	if docID == "" {
		docID = itemID
	}

	inv := invoice{
		Namespace:      namespace,
		XSI:            xsiNamespace,
		SchemaLocation: schemaLocation,
		Version:        version,

		DocumentType:      documentTypeCode(kind),
		ID:                docID,
		UUID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(itemID)).String(),
		IssueDate:         fs.Str("datum_dokumentu"),
		LocalCurrencyCode: currency,
		CurrRate:          "1",
		RefCurrRate:       "1",

		Monetary: monetaryTotal{
			TaxExclusiveAmount:               money(net),
			TaxInclusiveAmount:               money(total),
			AlreadyClaimedTaxExclusiveAmount: "0.00",
			AlreadyClaimedTaxInclusiveAmount: "0.00",
			PayableRoundingAmount:            "0.00",
			PaidDepositsAmount:               "0.00",
			PayableAmount:                    money(total),
		},
	}

	if fs.Str("datum_splatnosti") != "" {
		inv.VATApplicable = "true"
	}

	if name, ico := fs.Str("protistrana_nazev"), fs.Str("protistrana_ico"); name != "" || ico != "" {
		inv.Supplier = &party{Name: name, ID: ico}
	}
	if name := fs.Str("pro_firma"); name != "" {
		inv.Customer = &party{Name: name}
	}

	inv.Payment = &paymentMeans{Code: "42"}

	if total > 0 {
		inv.TaxTotal = &taxTotal{
			TaxAmount: money(vat),
			Sub: taxSubTotal{
				TaxableAmount: money(net),
				TaxAmount:     money(vat),
				Percent:       "21",
			},
		}
	}

	inv.Lines = buildLines(fs, net)

	out, err := xml.MarshalIndent(inv, "", "  ")
	if err != nil {
		return nil, eris.Wrapf(err, "isdoc: marshal %s", itemID)
	}
	return append([]byte(xml.Header), out...), nil
}

// buildLines converts extracted items into invoice lines, falling back to a
// single summary line when no items were recognized.
func buildLines(fs model.FieldSet, net float64) []invoiceLine {
	type extractedItem struct {
		Description string          `json:"popis"`
		Quantity    int             `json:"mnozstvi"`
		UnitPrice   json.RawMessage `json:"cena"`
	}

	var items []extractedItem
	if raw := fs.Str("polozky_json"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &items)
	}

	if len(items) == 0 {
		desc := fs.Str("predmet")
		if desc == "" {
			desc = "Položka dokladu"
		}
		return []invoiceLine{{
			ID:                 "1",
			Quantity:           quantityElem{UnitCode: "C62", Value: "1"},
			LineExtension:      money(net),
			LineExtensionGross: money(net * (1 + vatRate)),
			Description:        clip(desc, 256),
		}}
	}

	lines := make([]invoiceLine, 0, len(items))
	for i, it := range items {
		price := parseRawPrice(it.UnitPrice)
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		lines = append(lines, invoiceLine{
			ID:                 strconv.Itoa(i + 1),
			Quantity:           quantityElem{UnitCode: "C62", Value: strconv.Itoa(qty)},
			LineExtension:      money(price),
			LineExtensionGross: money(price * (1 + vatRate)),
			Description:        clip(it.Description, 256),
		})
	}
	return lines
}

// parseRawPrice accepts both JSON numbers and string-encoded prices.
func parseRawPrice(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
