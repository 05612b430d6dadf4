package sharelink

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecode(t *testing.T) {
	in := map[string]interface{}{
		"description": "alice | AmneziaWG",
		"dns1":        "1.1.1.1",
		"containers":  []interface{}{map[string]interface{}{"container": "amnezia-awg"}},
	}
	link, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(link, Scheme) {
		t.Fatalf("link %q lacks scheme", link)
	}
	body := strings.TrimPrefix(link, Scheme)
	if strings.ContainsAny(body, "+/=") {
		t.Errorf("link body %q is not url safe", body)
	}

	payload, size, err := Decode(link)
	if err != nil {
		t.Fatal(err)
	}
	if int(size) != len(payload) {
		t.Errorf("header %d, payload %d bytes", size, len(payload))
	}
	want, _ := json.Marshal(in)
	if !bytes.Equal(payload, want) {
		t.Errorf("payload mismatch:\n%s", cmp.Diff(string(want), string(payload)))
	}
}

func TestEncodeBytesLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("[Peer]\nAllowedIPs = 0.0.0.0/0\n"), 500)
	link, err := EncodeBytes(payload)
	if err != nil {
		t.Fatal(err)
	}
	got, size, err := Decode(link)
	if err != nil {
		t.Fatal(err)
	}
	if int(size) != len(payload) || !bytes.Equal(got, payload) {
		t.Errorf("round trip lost data: header %d, got %d bytes", size, len(got))
	}
	if len(link) >= len(payload) {
		t.Errorf("link of %d bytes is not compressed", len(link))
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, link := range []string{
		"https://example.com",
		"vpn://!!!",
		"vpn://AAA",
		"vpn://AAAAAAAAAA",
	} {
		if _, _, err := Decode(link); !errors.Is(err, ErrMalformedLink) {
			t.Errorf("Decode(%q) = %v, want ErrMalformedLink", link, err)
		}
	}
}

func TestQRCode(t *testing.T) {
	url, err := QRCode("vpn://AAAA")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("unexpected data url prefix: %.40s", url)
	}
}
