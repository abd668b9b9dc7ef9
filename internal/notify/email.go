package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

// Email is one outbound message. Body is markdown.
type Email struct {
	To         []string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
}

// EmailSink sends email and returns the Message-ID it used.
type EmailSink interface {
	Send(ctx context.Context, msg Email) (string, error)
}

// SMTPSender delivers email over SMTP.
type SMTPSender struct {
	cfg      config.EmailConfig
	renderer *Renderer
	clock    func() time.Time
}

// NewSMTPSender builds a sender. A disabled config yields a sender whose
// Send succeeds without connecting.
func NewSMTPSender(cfg config.EmailConfig, renderer *Renderer) *SMTPSender {
	return &SMTPSender{cfg: cfg, renderer: renderer, clock: time.Now}
}

func (s *SMTPSender) Send(ctx context.Context, msg Email) (string, error) {
	if !s.cfg.Enabled {
		return "", nil
	}
	if len(msg.To) == 0 {
		return "", fmt.Errorf("no recipients specified")
	}

	messageID := s.newMessageID()
	raw, err := s.build(msg, messageID)
	if err != nil {
		return "", err
	}
	if err := s.deliver(ctx, msg.To, raw); err != nil {
		return "", err
	}
	return messageID, nil
}

func (s *SMTPSender) newMessageID() string {
	domain := s.cfg.MessageIDDomain
	if domain == "" {
		domain = "localhost"
	}
	return uuid.NewString() + "@" + domain
}

func (s *SMTPSender) build(msg Email, messageID string) ([]byte, error) {
	from, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse sender %q: %w", s.cfg.From, err)
	}
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", addr, err)
		}
		to = append(to, parsed)
	}

	var h mail.Header
	h.SetDate(s.clock())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	h.SetMessageID(messageID)
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
		refs := msg.References
		if len(refs) == 0 {
			refs = []string{msg.InReplyTo}
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	inline, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writePart(inline, "text/plain", msg.Body); err != nil {
		return nil, err
	}
	if err := writePart(inline, "text/html", s.renderer.HTML(msg.Body)); err != nil {
		return nil, err
	}
	if err := inline.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

func (s *SMTPSender) deliver(ctx context.Context, to []string, raw []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := net.Dialer{Timeout: s.cfg.Timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	deadline := time.Now().Add(s.cfg.Timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	sender, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return err
	}
	if err := client.Mail(sender.Address); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("set recipient %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("initiate data transfer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data transfer: %w", err)
	}
	return client.Quit()
}
