// Package sharelink encodes client bootstrap profiles as vpn:// links.
//
// A link is "vpn://" followed by the URL-safe, unpadded base64 form of a
// 4-byte big-endian length header and the zlib stream of the JSON payload.
// The header holds the uncompressed payload length, which is the layout
// Qt's qCompress produces and the Amnezia clients expect.
package sharelink

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/skip2/go-qrcode"
)

const (
	Scheme           = "vpn://"
	CompressionLevel = 8
	headerSize       = 4
)

var ErrMalformedLink = errors.New("malformed share link")

// Encode marshals v to JSON and packs it into a link.
func Encode(v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot marshal share payload: %w", err)
	}
	return EncodeBytes(payload)
}

// EncodeBytes packs an already serialized payload into a link.
func EncodeBytes(payload []byte) (string, error) {
	var buf bytes.Buffer
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	buf.Write(header)

	zw, err := zlib.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(payload); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return Scheme + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode unpacks a link and returns the payload and the length header.
func Decode(link string) ([]byte, uint32, error) {
	if !strings.HasPrefix(link, Scheme) {
		return nil, 0, fmt.Errorf("%w: missing %s scheme", ErrMalformedLink, Scheme)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(link, Scheme), "="))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if len(raw) < headerSize {
		return nil, 0, fmt.Errorf("%w: short header", ErrMalformedLink)
	}
	size := binary.BigEndian.Uint32(raw[:headerSize])
	zr, err := zlib.NewReader(bytes.NewReader(raw[headerSize:]))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	return payload, size, nil
}

// QRCode renders the link as a PNG data URL.
func QRCode(link string) (string, error) {
	png, err := QRPNG(link, 512)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// QRPNG renders the link as a PNG image of the given size.
func QRPNG(link string, size int) ([]byte, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("cannot render qr code: %w", err)
	}
	return png, nil
}
