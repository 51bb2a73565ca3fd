package service

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/corvusHold/certmail/internal/mailer/domain"
)

const logoCID = "logo"

var bodyTmpl = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
{{- if .Logo}}
  <p><img src="cid:{{.LogoCID}}" alt="logo" style="max-height: 80px;"></p>
{{- end}}
  <p>Dear {{.Name}},</p>
  <p>Congratulations! Please find your certificate attached to this email.</p>
  <p>Regards,<br>{{.Signature}}</p>
</body>
</html>
`))

// Composer renders the certificate email for a recipient.
type Composer struct {
	logo      []byte
	signature string
}

// NewComposer loads the optional logo. A missing file disables the logo.
func NewComposer(logoPath, signature string) (*Composer, error) {
	c := &Composer{signature: signature}
	if signature == "" {
		c.signature = "Certificate Team"
	}
	if logoPath == "" {
		return c, nil
	}
	data, err := os.ReadFile(logoPath)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read logo: %w", err)
	}
	c.logo = data
	return c, nil
}

// HasLogo reports whether a logo was loaded.
func (c *Composer) HasLogo() bool { return len(c.logo) > 0 }

// Subject is the deterministic subject line for name.
func Subject(name string) string {
	return "Your Certificate - " + strings.TrimSpace(name)
}

// Compose builds the message from the given sender identity. inline
// controls whether the logo is embedded; hosted delivery does not carry
// cid parts.
func (c *Composer) Compose(r domain.Recipient, from, fromName string, inline bool) (domain.Message, error) {
	withLogo := inline && c.HasLogo()
	var body bytes.Buffer
	err := bodyTmpl.Execute(&body, struct {
		Name, LogoCID, Signature string
		Logo                     bool
	}{Name: r.Name, LogoCID: logoCID, Signature: c.signature, Logo: withLogo})
	if err != nil {
		return domain.Message{}, fmt.Errorf("render body: %w", err)
	}

	name := r.FileName
	if name == "" {
		name = "certificate.png"
	}
	msg := domain.Message{
		From:     from,
		FromName: fromName,
		To:       r.Email,
		ToName:   r.Name,
		Subject:  Subject(r.Name),
		HTML:     body.String(),
		Attachments: []domain.Attachment{{
			FileName:    filepath.Base(name),
			ContentType: DetectContentType(name, r.Certificate),
			Data:        r.Certificate,
		}},
	}
	if withLogo {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			FileName:    "logo.png",
			ContentType: DetectContentType("logo.png", c.logo),
			Data:        c.logo,
			ContentID:   logoCID,
			Inline:      true,
		})
	}
	return msg, nil
}
