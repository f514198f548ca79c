package model

import "time"

// Address is a parsed mailbox (display name plus address).
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Envelope carries the parsed email headers and body text for a work item.
type Envelope struct {
	From    Address   `json:"from"`
	To      []Address `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

// Attachment is one attachment blob on disk, in envelope order.
type Attachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// WorkItem is the atomic unit of processing. ID is derived from the item's
// directory name under the input root and is stable across hosts. Slot is
// the item's position in the global input enumeration, used for range
// partitioning.
type WorkItem struct {
	ID          string       `json:"item_id"`
	Slot        int          `json:"slot"`
	Dir         string       `json:"dir"`
	Envelope    Envelope     `json:"envelope"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
