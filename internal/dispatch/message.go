package dispatch

import (
	"fmt"
	"strings"

	"assignbot/internal/document"
)

const (
	// DefaultSignature is the italic footer of every notification.
	DefaultSignature = "Tibeb Design & Build ERP"
	// ReferenceType is the static reference label shown in the message.
	ReferenceType = "Task"

	fallbackAllocatedBy = "System"
	fallbackSubject     = "No description"
)

// messageTemplate uses Telegram's legacy Markdown: *bold*, _italic_.
const messageTemplate = `*New Notification Arrived!* 🔔

*Notification Details:*
• Allocated by: %s
• Reference Type: %s
• Description: %s

_%s_
`

// AllocatedBy returns the owner, then the last modifier, then "System".
func AllocatedBy(doc document.Doc) string {
	if v := strings.TrimSpace(doc.Owner); v != "" {
		return doc.Owner
	}
	if v := strings.TrimSpace(doc.ModifiedBy); v != "" {
		return doc.ModifiedBy
	}
	return fallbackAllocatedBy
}

// Render builds the Markdown notification text for doc.
func Render(doc document.Doc, signature string) string {
	if strings.TrimSpace(signature) == "" {
		signature = DefaultSignature
	}
	subject := doc.Subject
	if strings.TrimSpace(subject) == "" {
		subject = fallbackSubject
	}
	return fmt.Sprintf(messageTemplate, AllocatedBy(doc), ReferenceType, subject, signature)
}
