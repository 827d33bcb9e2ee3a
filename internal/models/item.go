package models

// Item represents a reported lost item.
// The item name is the key in the items collection and is not stored in the value.
type Item struct {
	// Location is where the item was lost or found.
	Location string `json:"location"`

	// ContactInfo is the username to contact about the item.
	ContactInfo string `json:"contact_info"`

	// ReportedBy is the username that submitted the report.
	ReportedBy string `json:"reported_by"`

	// Photo is the attachment reference of the uploaded photo, or nil.
	Photo *string `json:"photo"`

	// Messages is the item's thread in insertion order. Append-only.
	Messages []Message `json:"messages"`

	// ReportedAt is the Unix timestamp when the report was submitted.
	// Zero for reports written by older versions.
	ReportedAt int64 `json:"reported_at,omitempty"`
}

// HasPhoto reports whether a photo was uploaded with the report.
func (i Item) HasPhoto() bool {
	return i.Photo != nil && *i.Photo != ""
}

// PhotoRef returns the photo reference or an empty string.
func (i Item) PhotoRef() string {
	if i.Photo == nil {
		return ""
	}
	return *i.Photo
}

// Message is a single message in an item's thread.
// Messages are immutable once appended.
type Message struct {
	ID     string `json:"id,omitempty"`
	From   string `json:"from"`
	To     string `json:"to"`
	Text   string `json:"text"`
	SentAt int64  `json:"sent_at,omitempty"`
}
