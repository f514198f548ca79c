package isdoc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/model"
)

func invoiceFields() model.FieldSet {
	fs := model.NewFieldSet()
	fs["cislo_dokumentu"] = "2024-001"
	fs["castka_celkem"] = 1210.0
	fs["mena"] = "CZK"
	fs["datum_dokumentu"] = "2024-12-15"
	fs["datum_splatnosti"] = "2024-12-29"
	fs["protistrana_nazev"] = "ABC Software"
	fs["protistrana_ico"] = "12345678"
	fs["predmet"] = "Licence software"
	return fs
}

func TestEmit_Invoice(t *testing.T) {
	out, err := Emit("item-0001", model.KindInvoice, invoiceFields())
	require.NoError(t, err)

	xml := string(out)
	assert.True(t, strings.HasPrefix(xml, "<?xml"))
	assert.Contains(t, xml, `version="6.0.2"`)
	assert.Contains(t, xml, "<DocumentType>1</DocumentType>")
	assert.Contains(t, xml, "<ID>2024-001</ID>")
	assert.Contains(t, xml, "<IssueDate>2024-12-15</IssueDate>")
	assert.Contains(t, xml, "<LocalCurrencyCode>CZK</LocalCurrencyCode>")
	assert.Contains(t, xml, "<TaxInclusiveAmount>1210.00</TaxInclusiveAmount>")
	assert.Contains(t, xml, "<TaxExclusiveAmount>1000.00</TaxExclusiveAmount>")
	assert.Contains(t, xml, "<Name>ABC Software</Name>")
	assert.Contains(t, xml, "<ID>12345678</ID>")
	assert.Contains(t, xml, "<VATApplicable>true</VATApplicable>")
}

func TestEmit_DeterministicUUID(t *testing.T) {
	a, err := Emit("item-0001", model.KindInvoice, invoiceFields())
	require.NoError(t, err)
	b, err := Emit("item-0001", model.KindInvoice, invoiceFields())
	require.NoError(t, err)

	// Same item must render byte-identical output so re-runs never churn
	// artifacts.
	assert.Equal(t, a, b)
}

func TestEmit_FallbackLine(t *testing.T) {
	fs := invoiceFields()

	out, err := Emit("item-0002", model.KindReceipt, fs)
	require.NoError(t, err)

	xml := string(out)
	assert.Contains(t, xml, "<DocumentType>6</DocumentType>")
	assert.Contains(t, xml, "<Description>Licence software</Description>")
	assert.Contains(t, xml, `unitCode="C62"`)
}

func TestEmit_ItemLines(t *testing.T) {
	fs := invoiceFields()
	fs["polozky_json"] = `[{"popis":"Licence","mnozstvi":12,"cena":"1500.00"},{"popis":"Podpora","mnozstvi":1,"cena":"5000.00"}]`

	out, err := Emit("item-0003", model.KindInvoice, fs)
	require.NoError(t, err)

	xml := string(out)
	assert.Contains(t, xml, "<Description>Licence</Description>")
	assert.Contains(t, xml, "<Description>Podpora</Description>")
	assert.Contains(t, xml, ">12</InvoicedQuantity>")
	assert.Contains(t, xml, "<LineExtensionAmount>5000.00</LineExtensionAmount>")
}

func TestEmit_NonAccountingKind(t *testing.T) {
	_, err := Emit("item-0004", model.KindCorrespondence, invoiceFields())
	require.Error(t, err)
}

func TestEmit_MissingDocNumberUsesItemID(t *testing.T) {
	fs := invoiceFields()
	fs["cislo_dokumentu"] = nil

	out, err := Emit("item-0005", model.KindInvoice, fs)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<ID>item-0005</ID>")
}
