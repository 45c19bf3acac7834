package dispatcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPProvider delivers over SMTP, upgrading with STARTTLS when offered.
type SMTPProvider struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
	br       *MicroBreaker
	now      func() time.Time
}

func NewSMTPProvider(
	host string, port int, username, password string,
	timeout time.Duration, failThreshold int, openFor time.Duration,
) *SMTPProvider {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &SMTPProvider{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
		br:       NewMicroBreaker(failThreshold, openFor),
		now:      time.Now,
	}
}

func (p *SMTPProvider) Name() string  { return "smtp" }
func (p *SMTPProvider) Ready() bool   { return p.br.Ready() }
func (p *SMTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *SMTPProvider) Send(ctx context.Context, msg OutboundEmail) error {
	if err := p.deliver(ctx, msg); err != nil {
		p.br.OnFailure()
		return err
	}

	p.br.OnSuccess()

	return nil
}

func (p *SMTPProvider) deliver(ctx context.Context, msg OutboundEmail) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("smtp: no recipients")
	}

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	deadline := p.now().Add(p.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, p.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: p.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if p.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", p.username, p.password, p.host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(msg, p.now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end DATA: %w", err)
	}

	return c.Quit()
}

// buildMessage renders a text/plain RFC 5322 message with a quoted-printable body.
func buildMessage(msg OutboundEmail, now time.Time) []byte {
	var b bytes.Buffer

	writeHeader := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	writeHeader("From", msg.From)
	writeHeader("To", strings.Join(msg.To, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.UTC().Format(time.RFC1123Z))
	if msg.EmailID != "" {
		writeHeader("Message-ID", "<"+msg.EmailID+"@"+domainOf(msg.From)+">")
	}
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/plain; charset="utf-8"`)
	writeHeader("Content-Transfer-Encoding", "quoted-printable")
	b.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&b)
	_, _ = qp.Write([]byte(strings.ReplaceAll(msg.Body, "\r\n", "\n")))
	_ = qp.Close()
	b.WriteString("\r\n")

	return b.Bytes()
}

func domainOf(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return strings.TrimSuffix(addr[at+1:], ">")
	}
	return "localhost"
}
