package model

// DocumentKind is the closed classification set. Every analyzer phase assigns
// exactly one kind; KindUnknown routes the item to the next phase.
type DocumentKind string

const (
	KindInvoice            DocumentKind = "invoice"
	KindReceipt            DocumentKind = "receipt"
	KindTaxDocument        DocumentKind = "tax_document"
	KindBankStatement      DocumentKind = "bank_statement"
	KindOrder              DocumentKind = "order"
	KindContract           DocumentKind = "contract"
	KindParkingTicket      DocumentKind = "parking_ticket"
	KindCarService         DocumentKind = "car_service"
	KindCarWash            DocumentKind = "car_wash"
	KindGlassWork          DocumentKind = "glass_work"
	KindProforma           DocumentKind = "proforma"
	KindDeliveryNote       DocumentKind = "delivery_note"
	KindPaymentDocument    DocumentKind = "payment_document"
	KindSystemNotification DocumentKind = "system_notification"
	KindMarketing          DocumentKind = "marketing"
	KindCorrespondence     DocumentKind = "correspondence"
	KindITNotes            DocumentKind = "it_notes"
	KindProjectNotes       DocumentKind = "project_notes"
	KindUnknown            DocumentKind = "unknown"
)

// AllKinds lists every valid kind, used for validating model verdicts.
var AllKinds = []DocumentKind{
	KindInvoice, KindReceipt, KindTaxDocument, KindBankStatement,
	KindOrder, KindContract, KindParkingTicket, KindCarService,
	KindCarWash, KindGlassWork, KindProforma, KindDeliveryNote,
	KindPaymentDocument, KindSystemNotification, KindMarketing,
	KindCorrespondence, KindITNotes, KindProjectNotes, KindUnknown,
}

// ParseKind validates a raw string against the closed set. Unrecognized
// values map to KindUnknown so model output can never widen the set.
func ParseKind(raw string) DocumentKind {
	k := DocumentKind(raw)
	for _, valid := range AllKinds {
		if k == valid {
			return k
		}
	}
	return KindUnknown
}

// accountingKinds get a structured XML payload on top of the field set.
var accountingKinds = map[DocumentKind]bool{
	KindInvoice:       true,
	KindReceipt:       true,
	KindTaxDocument:   true,
	KindBankStatement: true,
}

// IsAccounting reports whether the kind produces a structured XML payload.
func (k DocumentKind) IsAccounting() bool {
	return accountingKinds[k]
}

// Category maps a kind to its bookkeeping category, mirroring the
// downstream tag vocabulary.
func (k DocumentKind) Category() string {
	switch k {
	case KindInvoice, KindReceipt, KindBankStatement, KindProforma, KindPaymentDocument:
		return "ucetni"
	case KindTaxDocument:
		return "danove"
	case KindContract:
		return "pravni"
	case KindOrder, KindDeliveryNote:
		return "obchodni"
	case KindParkingTicket, KindCarService, KindCarWash, KindGlassWork:
		return "auto"
	case KindMarketing:
		return "marketing"
	case KindCorrespondence:
		return "korespondence"
	case KindITNotes, KindProjectNotes:
		return "interni"
	default:
		return "ostatni"
	}
}
