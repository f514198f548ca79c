package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindInvoice, ParseKind("invoice"))
	assert.Equal(t, KindParkingTicket, ParseKind("parking_ticket"))
	assert.Equal(t, KindUnknown, ParseKind("unknown"))

	// Anything outside the closed set collapses to unknown.
	assert.Equal(t, KindUnknown, ParseKind("INVOICE"))
	assert.Equal(t, KindUnknown, ParseKind("faktura"))
	assert.Equal(t, KindUnknown, ParseKind(""))
}

func TestIsAccounting(t *testing.T) {
	assert.True(t, KindInvoice.IsAccounting())
	assert.True(t, KindReceipt.IsAccounting())
	assert.True(t, KindTaxDocument.IsAccounting())
	assert.True(t, KindBankStatement.IsAccounting())

	assert.False(t, KindMarketing.IsAccounting())
	assert.False(t, KindContract.IsAccounting())
	assert.False(t, KindUnknown.IsAccounting())
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "ucetni", KindInvoice.Category())
	assert.Equal(t, "danove", KindTaxDocument.Category())
	assert.Equal(t, "pravni", KindContract.Category())
	assert.Equal(t, "auto", KindCarWash.Category())
	assert.Equal(t, "interni", KindITNotes.Category())
	assert.Equal(t, "ostatni", KindUnknown.Category())
	assert.Equal(t, "ostatni", KindSystemNotification.Category())
}

func TestFieldSetMergeFillsGapsOnly(t *testing.T) {
	base := NewFieldSet()
	base["cislo_dokumentu"] = "2024-001"

	other := NewFieldSet()
	other["cislo_dokumentu"] = "should-not-win"
	other["castka_celkem"] = 1210.0

	base.Merge(other)
	assert.Equal(t, "2024-001", base.Str("cislo_dokumentu"))
	assert.Equal(t, 1210.0, base.Num("castka_celkem"))
}
