package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/mail"
)

const (
	// base64LineLength is the RFC 2045 limit for encoded lines.
	base64LineLength = 76
	// headerLineLength is where header values are folded (RFC 5322 2.1.1).
	headerLineLength = 78
	// encodedWordLength is the RFC 2047 limit for one encoded word.
	encodedWordLength = 75
)

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "")

// entity is one MIME entity: its own headers plus a body writer.
type entity struct {
	header textproto.MIMEHeader
	write  func(w io.Writer) error
}

// buildMessage builds the raw RFC 5322 message.
//
//	multipart/mixed           (only with attachments)
//	  multipart/alternative   (only with HTML)
//	    text/plain            quoted-printable
//	    text/html             quoted-printable
//	  attachment              base64
func (s *Sender) buildMessage(email mail.Email) ([]byte, error) {
	var msg bytes.Buffer

	writeHeader(&msg, "From", formatAddress(email.From))
	if len(email.To) > 0 {
		writeHeader(&msg, "To", formatAddressList(email.To))
	}
	if len(email.Cc) > 0 {
		writeHeader(&msg, "Cc", formatAddressList(email.Cc))
	}
	writeHeader(&msg, "Subject", encodeText(email.Subject))
	writeHeader(&msg, "Date", s.now().Format(time.RFC1123Z))
	writeHeader(&msg, "Message-ID", messageID(email.From.Address))
	writeHeader(&msg, "MIME-Version", "1.0")

	keys := make([]string, 0, len(email.Headers))
	for k := range email.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&msg, textproto.CanonicalMIMEHeaderKey(k), encodeText(email.Headers[k]))
	}

	body := textEntity("text/plain", email.Body)
	if email.HTML != "" {
		body = multipartEntity("alternative", body, textEntity("text/html", email.HTML))
	}
	if len(email.Attachments) > 0 {
		parts := []entity{body}
		for _, a := range email.Attachments {
			if a.Filename == "" {
				return nil, errors.New("attachment without filename")
			}
			parts = append(parts, attachmentEntity(a))
		}
		body = multipartEntity("mixed", parts...)
	}

	writeMIMEHeader(&msg, body.header)
	msg.WriteString("\r\n")
	if err := body.write(&msg); err != nil {
		return nil, errors.Wrap(err, "failed to encode body")
	}

	return msg.Bytes(), nil
}

func textEntity(contentType, text string) entity {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return entity{header: h, write: func(w io.Writer) error {
		qp := quotedprintable.NewWriter(w)
		if _, err := io.WriteString(qp, text); err != nil {
			return err
		}
		return qp.Close()
	}}
}

func attachmentEntity(a mail.Attachment) entity {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", mime.FormatMediaType(contentType, map[string]string{"name": a.Filename}))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	h.Set("Content-Transfer-Encoding", "base64")
	return entity{header: h, write: func(w io.Writer) error {
		return writeBase64(w, a.Content)
	}}
}

func multipartEntity(subtype string, parts ...entity) entity {
	boundary := "certmailer-" + uuid.NewString()

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", mime.FormatMediaType("multipart/"+subtype, map[string]string{"boundary": boundary}))
	return entity{header: h, write: func(w io.Writer) error {
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(boundary); err != nil {
			return err
		}
		for _, p := range parts {
			pw, err := mw.CreatePart(p.header)
			if err != nil {
				return err
			}
			if err := p.write(pw); err != nil {
				return err
			}
		}
		return mw.Close()
	}}
}

func writeBase64(w io.Writer, content []byte) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 0 {
		n := min(base64LineLength, len(encoded))
		if _, err := io.WriteString(w, encoded[:n]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

// writeHeader writes one header field, folding the value at spaces once a line
// would pass headerLineLength.
func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(":")
	lineLen := len(key) + 1
	for _, word := range strings.Fields(headerSanitizer.Replace(value)) {
		if lineLen+1+len(word) > headerLineLength {
			buf.WriteString("\r\n")
			lineLen = 0
		}
		buf.WriteByte(' ')
		buf.WriteString(word)
		lineLen += 1 + len(word)
	}
	buf.WriteString("\r\n")
}

// encodeText encodes an unstructured header value (RFC 2047). Non-ASCII text becomes
// encoded words; a token too long to fold is encoded as well, so no line grows past
// one encoded word.
func encodeText(s string) string {
	encoded := mime.QEncoding.Encode("utf-8", s)
	for _, word := range strings.Split(encoded, " ") {
		if len(word) > encodedWordLength {
			return qEncodeWords(s)
		}
	}
	return encoded
}

// qEncodeWords Q-encodes all of s into space separated encoded words. Runes are never
// split across words.
func qEncodeWords(s string) string {
	const prefix, suffix = "=?utf-8?q?", "?="

	var (
		words []string
		word  strings.Builder
		char  strings.Builder
	)
	for _, r := range s {
		char.Reset()
		for _, b := range []byte(string(r)) {
			switch {
			case b == ' ':
				char.WriteByte('_')
			case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9', strings.IndexByte("!*+-/", b) >= 0:
				char.WriteByte(b)
			default:
				fmt.Fprintf(&char, "=%02X", b)
			}
		}
		if word.Len() > 0 && len(prefix)+word.Len()+char.Len()+len(suffix) > encodedWordLength {
			words = append(words, prefix+word.String()+suffix)
			word.Reset()
		}
		word.WriteString(char.String())
	}
	if word.Len() > 0 {
		words = append(words, prefix+word.String()+suffix)
	}
	return strings.Join(words, " ")
}

func writeMIMEHeader(buf *bytes.Buffer, h textproto.MIMEHeader) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			writeHeader(buf, k, v)
		}
	}
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

// formatAddress formats a single address, RFC 2047 encoding non-ASCII names.
func formatAddress(addr mail.Address) string {
	return (&netmail.Address{Name: addr.Name, Address: addr.Address}).String()
}

// formatAddressList formats a list of addresses.
func formatAddressList(addrs []mail.Address) string {
	formatted := make([]string, len(addrs))
	for i, addr := range addrs {
		formatted[i] = formatAddress(addr)
	}
	return strings.Join(formatted, ", ")
}
