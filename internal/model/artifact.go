package model

import "time"

// Phase identifies which stage of the pipeline produced a record.
type Phase int

const (
	PhaseLayout   Phase = 1 // layout/OCR + rule classification
	PhaseLocal    Phase = 2 // hierarchical local inference
	PhaseExternal Phase = 3 // external large model
	PhaseReview   Phase = 4 // manual review
	PhaseDelivery Phase = 5 // downstream delivery
)

// AnalyzerPhases lists the phases that can produce artifacts, in order.
var AnalyzerPhases = []Phase{PhaseLayout, PhaseLocal, PhaseExternal, PhaseReview}

// Verdict is one model's answer during hierarchical inference.
type Verdict struct {
	Model      string       `json:"model"`
	Kind       DocumentKind `json:"doc_kind"`
	Fields     FieldSet     `json:"fields,omitempty"`
	Confidence float64      `json:"confidence"`
	Err        string       `json:"error,omitempty"`
}

// Artifact is the single success record for an item. Exactly one phase
// writes it; later phases skip items that already have one.
type Artifact struct {
	ItemID          string       `json:"item_id"`
	Phase           Phase        `json:"phase"`
	Kind            DocumentKind `json:"doc_kind"`
	Fields          FieldSet     `json:"fields"`
	RawTextSHA256   string       `json:"raw_text_sha256"`
	ContentMD5      string       `json:"content_md5"`
	Confidence      float64      `json:"confidence"`
	EscalationTrace []Verdict    `json:"escalation_trace,omitempty"`
	ProcessedAt     time.Time    `json:"processed_at"`
}

// FailureReason classifies why an item fell through to the next phase.
type FailureReason string

const (
	ReasonOCRInsufficient FailureReason = "ocr_insufficient"
	ReasonOCRTimeout      FailureReason = "ocr_timeout"
	ReasonOCRError        FailureReason = "ocr_error"
	ReasonUnclassified    FailureReason = "unclassified"
	ReasonModelTimeout    FailureReason = "model_timeout"
	ReasonUnparseable     FailureReason = "model_unparseable"
	ReasonDisagreement    FailureReason = "model_disagreement_unresolved"
	ReasonQuotaExhausted  FailureReason = "quota_exhausted"
	ReasonDeliveryFatal   FailureReason = "delivery_fatal"
)

// FailureRecord is appended to a phase's failure stream and becomes the
// next phase's input. Records must stay below the 4 KiB atomic-append
// bound, so the text snippet is truncated at write time.
type FailureRecord struct {
	ItemID      string        `json:"item_id"`
	Phase       Phase         `json:"phase"`
	Reason      FailureReason `json:"reason"`
	TextSnippet string        `json:"last_text_snippet,omitempty"`
	FailedAt    time.Time     `json:"failed_at"`
}
