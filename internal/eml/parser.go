// Package eml parses the RFC 5322 envelope of a work item. An item
// directory holds one message.eml plus the attachment blobs extracted from
// it during archive export; the parser reads headers and the best-effort
// text body, and enumerates the sibling attachments in name order.
package eml

import (
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/majlabs/docflow/internal/model"
)

// EnvelopeFilename is the message file inside each item directory.
const EnvelopeFilename = "message.eml"

// LoadItem fills the envelope and attachment list of a scanned item
// skeleton. The skeleton's ID, Slot, and Dir must already be set.
func LoadItem(item *model.WorkItem) error {
	env, err := ParseFile(filepath.Join(item.Dir, EnvelopeFilename))
	if err != nil {
		return err
	}
	item.Envelope = *env

	entries, err := os.ReadDir(item.Dir)
	if err != nil {
		return eris.Wrapf(err, "eml: read item dir %s", item.Dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == EnvelopeFilename || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	item.Attachments = item.Attachments[:0]
	for _, name := range names {
		path := filepath.Join(item.Dir, name)
		info, err := os.Stat(path)
		if err != nil {
			return eris.Wrapf(err, "eml: stat attachment %s", path)
		}
		item.Attachments = append(item.Attachments, model.Attachment{
			Filename: name,
			Path:     path,
			Size:     info.Size(),
		})
	}
	return nil
}

// ParseFile parses an .eml file into an envelope.
func ParseFile(path string) (*model.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "eml: open %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses an RFC 5322 message into an envelope.
func Parse(r io.Reader) (*model.Envelope, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, eris.Wrap(err, "eml: read message")
	}

	env := &model.Envelope{
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}

	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		env.From = model.Address{Name: decodeHeader(from.Name), Email: strings.ToLower(from.Address)}
	} else {
		// Sender string that is only an email address, or malformed.
		env.From = model.Address{Email: strings.ToLower(strings.TrimSpace(msg.Header.Get("From")))}
	}

	if tos, err := msg.Header.AddressList("To"); err == nil {
		for _, a := range tos {
			env.To = append(env.To, model.Address{Name: decodeHeader(a.Name), Email: strings.ToLower(a.Address)})
		}
	}

	if date, err := msg.Header.Date(); err == nil {
		env.Date = date
	}

	body, err := extractTextBody(msg)
	if err != nil {
		return nil, err
	}
	env.Body = body
	return env, nil
}

// extractTextBody walks the MIME structure and returns the first text/plain
// part, falling back to text/html stripped of tags, then to the raw body.
func extractTextBody(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return textFromMultipart(msg.Body, params["boundary"])
	}

	data, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return "", err
	}
	if mediaType == "text/html" {
		return stripTags(data), nil
	}
	return data, nil
}

func textFromMultipart(r io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", eris.New("eml: multipart message without boundary")
	}

	var htmlFallback string
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate truncated archives: return what we have.
			break
		}

		partType, params, typeErr := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if typeErr != nil {
			continue
		}
		switch {
		case partType == "text/plain":
			text, decErr := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
			if decErr == nil && strings.TrimSpace(text) != "" {
				return text, nil
			}
		case partType == "text/html" && htmlFallback == "":
			if html, decErr := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"]); decErr == nil {
				htmlFallback = stripTags(html)
			}
		case strings.HasPrefix(partType, "multipart/"):
			if nested, nestErr := textFromMultipart(part, params["boundary"]); nestErr == nil && nested != "" {
				return nested, nil
			}
		}
	}
	return htmlFallback, nil
}

func decodeBody(r io.Reader, transferEncoding, charset string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = newBase64Reader(r)
	}

	if enc := encodingFor(charset); enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "eml: decode body")
	}
	return string(data), nil
}

// encodingFor maps charsets common in Czech/German email archives. UTF-8
// and US-ASCII need no transform.
func encodingFor(charset string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2
	case "windows-1250", "cp1250":
		return charmap.Windows1250
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	default:
		return nil
	}
}

var headerDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		if enc := encodingFor(charset); enc != nil {
			return transform.NewReader(input, enc.NewDecoder()), nil
		}
		return input, nil
	},
}

func decodeHeader(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// stripTags reduces HTML to its text content. Good enough for keyword
// classification; layout fidelity does not matter here.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	text := b.String()
	for _, pair := range [][2]string{
		{"&nbsp;", " "}, {"&amp;", "&"}, {"&lt;", "<"}, {"&gt;", ">"}, {"&quot;", `"`},
	} {
		text = strings.ReplaceAll(text, pair[0], pair[1])
	}
	return strings.Join(strings.Fields(text), " ")
}
