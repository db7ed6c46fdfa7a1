// Package email parses .eml and Outlook .msg messages. Attachments are
// returned separately and become their own documents.
package email

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/feichai0017/tender-ingest/internal/models"
)

// message is the format-independent view of a parsed e-mail.
type message struct {
	Subject     string
	From        string
	To          []string
	Cc          []string
	Date        time.Time
	MessageID   string
	Text        string
	HTML        string
	Attachments []models.Attachment
	Warnings    []string
}

func (m *message) content() *models.ParsedContent {
	content := models.NewParsedContent()
	body := strings.TrimSpace(m.Text)
	if body == "" && m.HTML != "" {
		body = htmlToText(m.HTML)
	}

	var header []string
	if m.Subject != "" {
		header = append(header, "Subject: "+m.Subject)
	}
	if m.From != "" {
		header = append(header, "From: "+m.From)
	}
	if len(m.To) > 0 {
		header = append(header, "To: "+strings.Join(m.To, ", "))
	}
	if len(m.Attachments) > 0 {
		names := make([]string, len(m.Attachments))
		for i, a := range m.Attachments {
			names[i] = a.Filename
		}
		header = append(header, "Attachments: "+strings.Join(names, ", "))
	}
	content.Text = strings.TrimSpace(strings.Join(header, "\n") + "\n\n" + body)

	meta := content.Metadata
	meta["subject"] = m.Subject
	meta["from"] = m.From
	meta["to"] = m.To
	meta["cc"] = m.Cc
	meta["message_id"] = m.MessageID
	meta["attachment_count"] = len(m.Attachments)
	if !m.Date.IsZero() {
		meta["date"] = m.Date.UTC().Format(time.RFC3339)
	}
	content.Attachments = m.Attachments
	for _, w := range m.Warnings {
		content.Degrade(w)
	}
	return content
}

var (
	blockTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	scriptTags = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	anyTag     = regexp.MustCompile(`<[^>]+>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	entities   = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
)

// htmlToText is a tag stripper for bodies with no plain-text alternative.
func htmlToText(html string) string {
	s := scriptTags.ReplaceAllString(html, "")
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = entities.Replace(s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func attachmentName(name string, index int, contentType string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fmt.Sprintf("attachment-%d%s", index+1, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	case "message/rfc822":
		return ".eml"
	}
	return ".bin"
}
