package emailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// DefaultSubject of share link mails
const DefaultSubject = "Your VPN connection"

var shareLinkContent = template.Must(template.New("sharelink").Parse(`Hi {{.Name}},</br>
<p>import the link below in the AmneziaVPN app, or scan the attached QR code.</p>
<p><code>{{.Link}}</code></p>
<p>Best</p>
`))

// ShareLinkContent renders the mail body carrying a share link.
func ShareLinkContent(name, link string) (string, error) {
	var buf bytes.Buffer
	err := shareLinkContent.Execute(&buf, struct{ Name, Link string }{name, link})
	if err != nil {
		return "", fmt.Errorf("cannot render share link mail: %w", err)
	}
	return buf.String(), nil
}

// SendShareLink mails a share link with its QR code and a .vpn file attached.
func SendShareLink(e Emailer, toName, to, link string, qrPNG []byte) error {
	content, err := ShareLinkContent(toName, link)
	if err != nil {
		return err
	}
	attachments := []Attachment{
		{Name: fileName(toName) + ".vpn", Data: []byte(link), MimeType: "text/plain"},
	}
	if len(qrPNG) > 0 {
		attachments = append(attachments, Attachment{Name: "qr.png", Data: qrPNG, MimeType: "image/png"})
	}
	return e.Send(Message{
		ToName:      toName,
		To:          to,
		Subject:     DefaultSubject,
		HTML:        content,
		Attachments: attachments,
	})
}

// fileName keeps letters, digits, dot, dash and underscore.
func fileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, name)
	if name == "" {
		return "client"
	}
	return name
}
