package mailbox

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Attachment is one file part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a parsed application email.
type Message struct {
	UID         uint32
	MessageID   string
	Subject     string
	FromName    string
	FromAddress string
	Date        time.Time
	TextBody    string
	Attachments []Attachment
}

// CandidateName is the sender display name, or the local part of the address.
func (m *Message) CandidateName() string {
	if name := strings.TrimSpace(m.FromName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(m.FromAddress, "@")
	return local
}

// ParseMessage decodes an RFC 5322 message. Attachments keep message order.
func ParseMessage(uid uint32, r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("read message uid %d: %w", uid, err)
	}
	defer mr.Close()

	msg := &Message{UID: uid}

	header := mr.Header
	if msg.Subject, err = header.Subject(); err != nil {
		msg.Subject = header.Get("Subject")
	}
	msg.MessageID, _ = header.MessageID()
	msg.Date, _ = header.Date()
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromName = from[0].Name
		msg.FromAddress = strings.ToLower(from[0].Address)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part of message uid %d: %w", uid, err)
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			if err := msg.addAttachment(filename, contentType, part.Body); err != nil {
				return nil, err
			}
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			if filename := inlineFilename(h, params); filename != "" {
				if err := msg.addAttachment(filename, contentType, part.Body); err != nil {
					return nil, err
				}
				continue
			}
			if (contentType == "text/plain" || contentType == "") && msg.TextBody == "" {
				body, err := io.ReadAll(part.Body)
				if err != nil {
					return nil, fmt.Errorf("read body of message uid %d: %w", uid, err)
				}
				msg.TextBody = strings.TrimSpace(string(body))
			}
		}
	}

	return msg, nil
}

func (m *Message) addAttachment(filename, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read attachment %q of message uid %d: %w", filename, m.UID, err)
	}
	m.Attachments = append(m.Attachments, Attachment{
		Filename:    strings.TrimSpace(filename),
		ContentType: contentType,
		Data:        data,
	})
	return nil
}

// inlineFilename finds a filename on inline parts some clients use for attached files.
func inlineFilename(h *mail.InlineHeader, ctParams map[string]string) string {
	if _, params, err := h.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return decodeWord(name)
		}
	}
	return decodeWord(ctParams["name"])
}

func decodeWord(s string) string {
	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	if decoded, err := dec.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}
