package emailer

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendgridHost = "https://api.sendgrid.com"

type SendgridApiMail struct {
	apiKey string
	from   Sender
}

func NewSendgridApiMail(apiKey string, from Sender) *SendgridApiMail {
	return &SendgridApiMail{apiKey: apiKey, from: from}
}

// v3Mail converts msg to the SendGrid v3 mail body.
func (o *SendgridApiMail) v3Mail(msg Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(o.from.Name, o.from.Address))
	m.AddContent(mail.NewContent("text/html", msg.HTML))

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail(msg.ToName, msg.To))
	personalization.Subject = msg.Subject
	m.AddPersonalizations(personalization)

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.mimeType())
		att.SetFilename(a.Name)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m
}

func (o *SendgridApiMail) Send(msg Message) error {
	request := sendgrid.GetRequest(o.apiKey, "/v3/mail/send", sendgridHost)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(o.v3Mail(msg))
	resp, err := sendgrid.API(request)
	if err != nil {
		return fmt.Errorf("cannot send mail to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("cannot send mail to %s: sendgrid returned %d: %s", msg.To, resp.StatusCode, resp.Body)
	}
	return nil
}
