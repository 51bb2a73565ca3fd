package main

import (
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// loadRoster reads a CSV with a header row naming at least "email" and
// "name" columns, plus an optional "file" column. Certificates are read from
// imagesDir; when the file column is missing or empty the image is expected
// at <slug(name)>.png.
func loadRoster(r io.Reader, imagesDir string) ([]RecipientPayload, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	emailCol, ok := cols["email"]
	if !ok {
		return nil, fmt.Errorf("roster has no email column")
	}
	nameCol, ok := cols["name"]
	if !ok {
		return nil, fmt.Errorf("roster has no name column")
	}
	fileCol, hasFile := cols["file"]

	var out []RecipientPayload
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("roster line %d: %w", line, err)
		}
		email := strings.TrimSpace(field(rec, emailCol))
		name := strings.TrimSpace(field(rec, nameCol))
		if email == "" {
			continue
		}
		file := ""
		if hasFile {
			file = strings.TrimSpace(field(rec, fileCol))
		}
		if file == "" {
			file = slug(name) + ".png"
		}
		data, err := os.ReadFile(filepath.Join(imagesDir, filepath.Base(file)))
		if err != nil {
			return nil, fmt.Errorf("roster line %d: certificate for %s: %w", line, email, err)
		}
		out = append(out, RecipientPayload{
			Email:             email,
			Name:              name,
			CertificateBase64: base64.StdEncoding.EncodeToString(data),
			FileName:          filepath.Base(file),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}
	return out, nil
}

func loadRosterFile(path, imagesDir string) ([]RecipientPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return loadRoster(f, imagesDir)
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// slug maps a display name to a file stem: runs of anything but letters and
// digits become a single underscore.
func slug(name string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			sep = false
			continue
		}
		if !sep && b.Len() > 0 {
			b.WriteByte('_')
			sep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
