package domain

// Recipient is a single addressee within a recipient batch. Fields holds
// the per-recipient substitution values referenced by the campaign body
// template (certificate_id, course name, arbitrary CSV columns).
type Recipient struct {
	Email         string            `json:"email" db:"email"`
	Name          string            `json:"name" db:"name"`
	Fields        map[string]string `json:"fields" db:"fields"`
	AttachmentRef string            `json:"attachment_ref" db:"attachment_ref"`
}

// Attachment is an opaque blob resolved by the certificate-generation
// subsystem, attached as-is to the outgoing message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}
