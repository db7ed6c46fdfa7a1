package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strings"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/models"
)

// MAPI property ids read from __substg1.0_<id><type> streams.
const (
	propSubject       = "0037"
	propTransportHdrs = "007D"
	propSenderName    = "0C1A"
	propSenderEmail   = "0C1F"
	propDisplayCc     = "0E03"
	propDisplayTo     = "0E04"
	propBody          = "1000"
	propHTML          = "1013"
	propMessageID     = "1035"
	propAttachData    = "3701"
	propAttachShort   = "3704"
	propAttachLong    = "3707"
	propAttachMime    = "370E"

	attachPrefix = "__attach_version1.0_"
	recipPrefix  = "__recip_version1.0_"
	substgPrefix = "__substg1.0_"
)

// MSGParser reads Outlook messages from the OLE compound file.
type MSGParser struct{}

var _ document.Parser = (*MSGParser)(nil)

func NewMSGParser() *MSGParser { return &MSGParser{} }

func (p *MSGParser) Family() models.FormatFamily { return models.FamilyEmail }

func (p *MSGParser) Extensions() []string { return []string{".msg"} }

func (p *MSGParser) ExtractMetadata(ctx context.Context, file *document.File) (map[string]interface{}, error) {
	content, err := p.Parse(ctx, file)
	if err != nil {
		return nil, err
	}
	return content.Metadata, nil
}

type msgAttachment struct {
	long, short, mime string
	data              []byte
}

func (p *MSGParser) Parse(ctx context.Context, file *document.File) (*models.ParsedContent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, document.Fail(models.ReasonCorruptInput, fmt.Errorf("failed to open compound file: %w", err))
	}

	props := make(map[string]string)
	attachments := make(map[string]*msgAttachment)
	var warnings []string

	for entry, nerr := doc.Next(); nerr == nil; entry, nerr = doc.Next() {
		if !strings.HasPrefix(entry.Name, substgPrefix) || entry.Size == 0 {
			continue
		}
		id, typ := propertyTag(entry.Name)
		owner := ownerStorage(entry.Path)
		if strings.HasPrefix(owner, recipPrefix) {
			continue
		}

		raw := make([]byte, entry.Size)
		if _, err := io.ReadFull(entry, raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("stream %s: %v", entry.Name, err))
			continue
		}

		if strings.HasPrefix(owner, attachPrefix) {
			att := attachments[owner]
			if att == nil {
				att = &msgAttachment{}
				attachments[owner] = att
			}
			switch id {
			case propAttachData:
				att.data = raw
			case propAttachLong:
				att.long = decodeProp(raw, typ)
			case propAttachShort:
				att.short = decodeProp(raw, typ)
			case propAttachMime:
				att.mime = decodeProp(raw, typ)
			}
			continue
		}
		if owner != "" {
			continue
		}
		props[id] = decodeProp(raw, typ)
	}

	if len(props) == 0 {
		return nil, document.Failf(models.ReasonCorruptInput, "no message properties found")
	}

	msg := &message{
		Subject:   props[propSubject],
		From:      sender(props[propSenderName], props[propSenderEmail]),
		To:        splitDisplay(props[propDisplayTo]),
		Cc:        splitDisplay(props[propDisplayCc]),
		MessageID: strings.Trim(props[propMessageID], "<> "),
		Text:      props[propBody],
		HTML:      props[propHTML],
		Warnings:  warnings,
	}
	if hdrs := props[propTransportHdrs]; hdrs != "" {
		if m, err := mail.ReadMessage(strings.NewReader(hdrs + "\r\n\r\n")); err == nil {
			if d, err := m.Header.Date(); err == nil {
				msg.Date = d
			}
			if msg.MessageID == "" {
				msg.MessageID = strings.Trim(m.Header.Get("Message-Id"), "<> ")
			}
		}
	}

	owners := make([]string, 0, len(attachments))
	for owner := range attachments {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for i, owner := range owners {
		att := attachments[owner]
		if len(att.data) == 0 {
			continue
		}
		name := att.long
		if name == "" {
			name = att.short
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    attachmentName(name, i, att.mime),
			ContentType: att.mime,
			Data:        att.data,
		})
	}
	return msg.content(), nil
}

// propertyTag splits "__substg1.0_0037001F" into ("0037", "001F").
func propertyTag(name string) (id, typ string) {
	tag := strings.ToUpper(strings.TrimPrefix(name, substgPrefix))
	if len(tag) < 8 {
		return tag, ""
	}
	return tag[:4], tag[4:8]
}

func ownerStorage(path []string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if strings.HasPrefix(path[i], attachPrefix) || strings.HasPrefix(path[i], recipPrefix) {
			return path[i]
		}
	}
	return ""
}

func decodeProp(raw []byte, typ string) string {
	switch typ {
	case "001F":
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return ""
		}
		return strings.TrimRight(string(out), "\x00")
	case "001E":
		out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return strings.TrimRight(string(raw), "\x00")
		}
		return strings.TrimRight(string(out), "\x00")
	default:
		return string(raw)
	}
}

func sender(name, addr string) string {
	switch {
	case name != "" && addr != "" && name != addr:
		return (&mail.Address{Name: name, Address: addr}).String()
	case addr != "":
		return addr
	default:
		return name
	}
}

func splitDisplay(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
