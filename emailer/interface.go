// Package emailer delivers share links by mail through SendGrid or SMTP.
package emailer

// Attachment is a file sent along with a Message.
type Attachment struct {
	Name     string
	Data     []byte
	MimeType string
}

// Message is one outgoing HTML mail.
type Message struct {
	ToName      string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender is the identity mails are sent from.
type Sender struct {
	Name    string
	Address string
}

type Emailer interface {
	Send(msg Message) error
}

func (a Attachment) mimeType() string {
	if a.MimeType == "" {
		return "application/octet-stream"
	}
	return a.MimeType
}
