package emailer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	msg Message
}

func (r *recorder) Send(msg Message) error {
	r.msg = msg
	return nil
}

func TestSendShareLink(t *testing.T) {
	r := &recorder{}
	if err := SendShareLink(r, "alice [phone]", "alice@example.com", "vpn://AAAA", []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if r.msg.Subject != DefaultSubject || r.msg.To != "alice@example.com" {
		t.Errorf("unexpected envelope %+v", r.msg)
	}
	if !strings.Contains(r.msg.HTML, "<code>vpn://AAAA</code>") {
		t.Errorf("content lacks the link:\n%s", r.msg.HTML)
	}
	want := []Attachment{
		{Name: "alice_phone.vpn", Data: []byte("vpn://AAAA"), MimeType: "text/plain"},
		{Name: "qr.png", Data: []byte{1, 2}, MimeType: "image/png"},
	}
	if diff := cmp.Diff(want, r.msg.Attachments); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}
}

func TestShareLinkContentEscapes(t *testing.T) {
	content, err := ShareLinkContent("<b>eve</b>", "vpn://x")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(content, "<b>eve</b>") {
		t.Errorf("name not escaped:\n%s", content)
	}
}
