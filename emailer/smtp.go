package emailer

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mail "github.com/xhit/go-simple-mail/v2"
)

// SmtpConfig of an SMTP relay. AuthType is PLAIN, LOGIN or NONE and
// Encryption is NONE, SSL, SSLTLS, TLS or STARTTLS.
type SmtpConfig struct {
	Hostname   string
	Port       int
	Username   string
	Password   string
	AuthType   string
	Encryption string
	NoTLSCheck bool
}

const smtpTimeout = 10 * time.Second

type SmtpMail struct {
	cfg        SmtpConfig
	authType   mail.AuthType
	encryption mail.Encryption
	from       Sender
}

func NewSmtpMail(cfg SmtpConfig, from Sender) *SmtpMail {
	return &SmtpMail{
		cfg:        cfg,
		authType:   parseAuthType(cfg.AuthType),
		encryption: parseEncryption(cfg.Encryption),
		from:       from,
	}
}

func parseAuthType(s string) mail.AuthType {
	switch strings.ToUpper(s) {
	case "PLAIN":
		return mail.AuthPlain
	case "LOGIN":
		return mail.AuthLogin
	}
	return mail.AuthNone
}

func parseEncryption(s string) mail.Encryption {
	switch strings.ToUpper(s) {
	case "NONE":
		return mail.EncryptionNone
	case "SSL":
		return mail.EncryptionSSL
	case "SSLTLS":
		return mail.EncryptionSSLTLS
	case "TLS":
		return mail.EncryptionTLS
	}
	return mail.EncryptionSTARTTLS
}

func addressField(address string, name string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

func (o *SmtpMail) server() *mail.SMTPServer {
	server := mail.NewSMTPClient()
	server.Host = o.cfg.Hostname
	server.Port = o.cfg.Port
	server.Authentication = o.authType
	server.Username = o.cfg.Username
	server.Password = o.cfg.Password
	server.Encryption = o.encryption
	server.KeepAlive = false
	server.ConnectTimeout = smtpTimeout
	server.SendTimeout = smtpTimeout
	if o.cfg.NoTLSCheck {
		server.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return server
}

// message builds the MIME mail of msg.
func (o *SmtpMail) message(msg Message) *mail.Email {
	email := mail.NewMSG()
	email.SetFrom(addressField(o.from.Address, o.from.Name)).
		AddTo(addressField(msg.To, msg.ToName)).
		SetSubject(msg.Subject).
		SetBody(mail.TextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		email.Attach(&mail.File{Name: a.Name, Data: a.Data, MimeType: a.mimeType()})
	}
	return email
}

func (o *SmtpMail) Send(msg Message) error {
	email := o.message(msg)
	if email.Error != nil {
		return fmt.Errorf("cannot build mail to %s: %w", msg.To, email.Error)
	}
	client, err := o.server().Connect()
	if err != nil {
		return fmt.Errorf("cannot connect to smtp server %s:%d: %w", o.cfg.Hostname, o.cfg.Port, err)
	}
	defer client.Close()
	if err := email.Send(client); err != nil {
		return fmt.Errorf("cannot send mail to %s: %w", msg.To, err)
	}
	return nil
}
