// Package wgconf parses and edits WireGuard-family configuration documents
// at the granularity of sections. Every line is kept verbatim so that a
// document renders back byte for byte except for the lines that were edited.
package wgconf

import (
	"strings"
)

const (
	sectionInterface = "Interface"
	sectionPeer      = "Peer"

	keyPublicKey    = "PublicKey"
	keyPresharedKey = "PresharedKey"
	keyAllowedIPs   = "AllowedIPs"
	keyAddress      = "Address"
)

// Section is a bracketed block of the document. The preamble before the
// first header is a Section with an empty Name.
type Section struct {
	Name string
	// lines holds the raw text, lines[0] being the header line for named sections.
	lines []string
}

// Document is a parsed configuration
type Document struct {
	sections []*Section
}

// Parse splits text into sections. It never fails: lines it does not
// understand are carried along untouched.
func Parse(text string) *Document {
	cur := &Section{}
	doc := &Document{sections: []*Section{cur}}
	for _, line := range strings.Split(text, "\n") {
		if name, ok := parseHeader(line); ok {
			cur = &Section{Name: name}
			doc.sections = append(doc.sections, cur)
		}
		cur.lines = append(cur.lines, line)
	}
	return doc
}

// String renders the document.
func (d *Document) String() string {
	var all []string
	for _, s := range d.sections {
		all = append(all, s.lines...)
	}
	return strings.Join(all, "\n")
}

// Sections returns the named sections in document order.
func (d *Document) Sections() []*Section {
	var out []*Section
	for _, s := range d.sections {
		if s.Name != "" {
			out = append(out, s)
		}
	}
	return out
}

// Peers returns every [Peer] section.
func (d *Document) Peers() []*Section {
	var out []*Section
	for _, s := range d.sections {
		if s.IsPeer() {
			out = append(out, s)
		}
	}
	return out
}

// Interface returns the first [Interface] section, or nil.
func (d *Document) Interface() *Section {
	for _, s := range d.sections {
		if strings.EqualFold(s.Name, sectionInterface) {
			return s
		}
	}
	return nil
}

// InterfaceValue returns the value of key in the [Interface] section.
func (d *Document) InterfaceValue(key string) (string, bool) {
	iface := d.Interface()
	if iface == nil {
		return "", false
	}
	return iface.Value(key)
}

// IsPeer reports whether s is a [Peer] section.
func (s *Section) IsPeer() bool {
	return strings.EqualFold(s.Name, sectionPeer)
}

// Value returns the first value of key. Key names are case-insensitive.
func (s *Section) Value(key string) (string, bool) {
	if i := s.index(key); i >= 0 {
		_, v, _ := parseKeyValue(s.lines[i])
		return v, true
	}
	return "", false
}

// Set replaces the first line holding key, or inserts a new line after the
// line holding after (or at the end of the section's key lines when after is
// absent).
func (s *Section) Set(key, value, after string) {
	line := key + " = " + value
	if i := s.index(key); i >= 0 {
		s.lines[i] = line
		return
	}
	at := s.index(after)
	if at < 0 {
		at = s.lastKeyLine()
	}
	s.lines = append(s.lines[:at+1], append([]string{line}, s.lines[at+1:]...)...)
}

func (s *Section) index(key string) int {
	if key == "" {
		return -1
	}
	for i, line := range s.lines {
		k, _, ok := parseKeyValue(line)
		if ok && strings.EqualFold(k, key) {
			return i
		}
	}
	return -1
}

func (s *Section) lastKeyLine() int {
	last := 0
	for i, line := range s.lines {
		if _, _, ok := parseKeyValue(line); ok {
			last = i
		}
	}
	return last
}

func parseHeader(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if len(t) < 2 || t[0] != '[' || t[len(t)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(t[1 : len(t)-1]), true
}

// parseKeyValue splits a "Key = Value" line. Values may contain '=' (base64
// keys do), so only the first one separates.
func parseKeyValue(line string) (key, value string, ok bool) {
	t := strings.TrimSpace(line)
	if t == "" || t[0] == '#' || t[0] == ';' || t[0] == '[' {
		return "", "", false
	}
	k, v, found := strings.Cut(t, "=")
	if !found {
		return "", "", false
	}
	k = strings.TrimSpace(k)
	if k == "" {
		return "", "", false
	}
	return k, strings.TrimSpace(v), true
}
