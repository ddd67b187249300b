package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// FetchedEmail represents an email fetched from IMAP
type FetchedEmail struct {
	SeqNum         uint32
	UID            uint32
	MessageID      string
	Subject        string
	From           string
	To             []string
	Date           time.Time
	ReceivedAt     time.Time
	Body           string
	HTMLBody       string
	HasAttachments bool
	Flags          []string
}

// fetchItems is what every page requests: envelope, flags, structure and the full body without setting \Seen
func fetchItems() []imap.FetchItem {
	section := &imap.BodySectionName{Peek: true}
	return []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchBodyStructure,
		section.FetchItem(),
	}
}

// parseIMAPMessage parses an IMAP message into a FetchedEmail
func parseIMAPMessage(msg *imap.Message) FetchedEmail {
	email := FetchedEmail{
		SeqNum:     msg.SeqNum,
		UID:        msg.Uid,
		ReceivedAt: msg.InternalDate,
		Flags:      msg.Flags,
	}

	if msg.Envelope != nil {
		email.MessageID = strings.TrimSpace(msg.Envelope.MessageId)
		email.Subject = msg.Envelope.Subject
		email.Date = msg.Envelope.Date

		if len(msg.Envelope.From) > 0 {
			email.From = formatAddress(msg.Envelope.From[0])
		}
		for _, addr := range msg.Envelope.To {
			email.To = append(email.To, formatAddress(addr))
		}
	}

	// Only the full body section is requested
	for _, literal := range msg.Body {
		if literal == nil {
			continue
		}
		if content, err := io.ReadAll(literal); err == nil {
			parseRawBody(content, &email)
		}
	}

	if msg.BodyStructure != nil && hasAttachments(msg.BodyStructure) {
		email.HasAttachments = true
	}
	if email.Date.IsZero() {
		email.Date = email.ReceivedAt
	}
	if email.MessageID == "" {
		email.MessageID = generatedMessageID(email.Date, email.Subject, email.From)
	}

	return email
}

func parseRawBody(content []byte, email *FetchedEmail) {
	r := bytes.NewReader(content)
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		// Try parsing as plain mail
		r.Seek(0, io.SeekStart)
		m, err := mail.ReadMessage(r)
		if err != nil {
			return
		}
		if email.MessageID == "" {
			email.MessageID = strings.TrimSpace(m.Header.Get("Message-Id"))
		}
		body, _ := io.ReadAll(m.Body)
		email.Body = string(body)
		return
	}

	if email.MessageID == "" {
		email.MessageID = strings.TrimSpace(entity.Header.Get("Message-Id"))
	}
	if email.Subject == "" {
		email.Subject, _ = entity.Header.Text("Subject")
	}
	parseMessageEntity(entity, email)
}

// parseMessageEntity recursively collects the first text and html parts
func parseMessageEntity(entity *message.Entity, email *FetchedEmail) {
	mediaType, params, _ := entity.Header.ContentType()

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := entity.MultipartReader()
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			parseMessageEntity(part, email)
		}
	case isAttachmentPart(entity, mediaType, params):
		email.HasAttachments = true
	case (mediaType == "text/plain" || mediaType == "") && email.Body == "":
		body, _ := io.ReadAll(entity.Body)
		email.Body = string(body)
	case mediaType == "text/html" && email.HTMLBody == "":
		body, _ := io.ReadAll(entity.Body)
		email.HTMLBody = string(body)
	}
}

func isAttachmentPart(entity *message.Entity, mediaType string, params map[string]string) bool {
	// attachment 或 inline 带文件名都视为附件
	if disposition := entity.Header.Get("Content-Disposition"); disposition != "" {
		dispType, dispParams, err := mime.ParseMediaType(disposition)
		if err == nil && (dispType == "attachment" || (dispType == "inline" && dispParams["filename"] != "")) {
			return true
		}
	}
	if params["name"] != "" {
		return true
	}
	return mediaType != "" && !strings.HasPrefix(mediaType, "text/") && !strings.HasPrefix(mediaType, "multipart/")
}

// generatedMessageID derives a stable id for messages lacking a Message-ID header
func generatedMessageID(date time.Time, subject, from string) string {
	seed := fmt.Sprintf("%d|%s|%s", date.UnixNano(), subject, from)
	sum := sha256.Sum256([]byte(seed))
	return "gen:" + hex.EncodeToString(sum[:16])
}

// formatAddress formats an IMAP address to a string
func formatAddress(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

// hasAttachments checks if a body structure has attachments
func hasAttachments(bs *imap.BodyStructure) bool {
	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}
