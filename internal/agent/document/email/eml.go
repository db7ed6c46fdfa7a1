package email

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

type EMLParser struct{}

var _ document.Parser = (*EMLParser)(nil)

func NewEMLParser() *EMLParser { return &EMLParser{} }

func (p *EMLParser) Family() models.FormatFamily { return models.FamilyEmail }

func (p *EMLParser) Extensions() []string { return []string{".eml"} }

func (p *EMLParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	content, err := p.Parse(ctx, file)
	if err != nil {
		return nil, err
	}
	return content.Metadata, nil
}

func (p *EMLParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, fmt.Errorf("failed to read envelope: %w", err))
	}

	msg := &message{
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
		To:        addresses(env, "To"),
		Cc:        addresses(env, "Cc"),
		MessageID: strings.Trim(env.GetHeader("Message-Id"), "<> "),
		Text:      env.Text,
		HTML:      env.HTML,
	}
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.Date = d
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.OtherParts...)
	for i, part := range parts {
		if len(part.Content) == 0 {
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    attachmentName(part.FileName, i, part.ContentType),
			ContentType: part.ContentType,
			Data:        part.Content,
		})
	}
	for _, perr := range env.Errors {
		if perr.Severe {
			msg.Warnings = append(msg.Warnings, perr.Error())
		}
	}
	return msg.content(), nil
}

func addresses(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil {
		if raw := strings.TrimSpace(env.GetHeader(header)); raw != "" {
			return []string{raw}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
