package service

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corvusHold/certmail/internal/mailer/domain"
)

// BuildMIME renders msg as an RFC 5322 message. Inline parts go into a
// multipart/related block next to the HTML body, the rest into
// multipart/mixed. It returns the raw bytes and the Message-ID header value.
func BuildMIME(msg domain.Message, now time.Time) ([]byte, string) {
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), hostOf(msg.From))

	var b strings.Builder
	from := mail.Address{Name: msg.FromName, Address: msg.From}
	to := mail.Address{Name: msg.ToName, Address: msg.To}
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: " + id + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	inline, regular := partition(msg.Attachments)
	if len(regular) == 0 {
		writeBody(&b, msg.HTML, inline)
		return []byte(b.String()), id
	}
	mixed := boundary("mixed")
	b.WriteString("Content-Type: multipart/mixed; boundary=" + mixed + "\r\n\r\n")
	b.WriteString("--" + mixed + "\r\n")
	writeBody(&b, msg.HTML, inline)
	for _, a := range regular {
		writePart(&b, a, mixed)
	}
	b.WriteString("--" + mixed + "--\r\n")
	return []byte(b.String()), id
}

func writeBody(b *strings.Builder, html string, inline []domain.Attachment) {
	if len(inline) == 0 {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		writeBase64(b, []byte(html))
		return
	}
	rel := boundary("rel")
	b.WriteString("Content-Type: multipart/related; boundary=" + rel + "\r\n\r\n")
	b.WriteString("--" + rel + "\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	writeBase64(b, []byte(html))
	for _, a := range inline {
		writePart(b, a, rel)
	}
	b.WriteString("--" + rel + "--\r\n")
}

func writePart(b *strings.Builder, a domain.Attachment, bnd string) {
	ct := a.ContentType
	if ct == "" {
		ct = DetectContentType(a.FileName, a.Data)
	}
	disposition := "attachment"
	if a.Inline {
		disposition = "inline"
	}
	b.WriteString("--" + bnd + "\r\n")
	b.WriteString("Content-Type: " + ct + "\r\n")
	// RFC 2231 encodes non-ASCII and control characters in the file name.
	b.WriteString("Content-Disposition: " + mime.FormatMediaType(disposition, map[string]string{"filename": a.FileName}) + "\r\n")
	if a.ContentID != "" {
		b.WriteString("Content-ID: <" + strings.Trim(a.ContentID, "<>") + ">\r\n")
	}
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	writeBase64(b, a.Data)
}

// writeBase64 wraps encoded lines at 76 characters.
func writeBase64(b *strings.Builder, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(enc); i += 76 {
		end := i + 76
		if end > len(enc) {
			end = len(enc)
		}
		b.WriteString(enc[i:end])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
}

func partition(list []domain.Attachment) (inline, regular []domain.Attachment) {
	for _, a := range list {
		if a.Inline {
			inline = append(inline, a)
			continue
		}
		regular = append(regular, a)
	}
	return inline, regular
}

func boundary(kind string) string {
	return kind + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func hostOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// DetectContentType prefers sniffing the bytes and falls back to the file
// extension.
func DetectContentType(fileName string, data []byte) string {
	if len(data) > 0 {
		if ct := http.DetectContentType(data); ct != "application/octet-stream" {
			return ct
		}
	}
	if ext := filepath.Ext(fileName); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}

// DecodeDataURI accepts plain base64 or a data URI with a base64 payload.
func DecodeDataURI(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		parts := strings.SplitN(s, ",", 2)
		if len(parts) != 2 || !strings.HasSuffix(parts[0], ";base64") {
			return nil, fmt.Errorf("invalid data URI")
		}
		s = parts[1]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}
