package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// SMTPConfig holds delivery settings for the outgoing mail server.
type SMTPConfig struct {
	Host          string
	Port          int
	Timeout       time.Duration
	LocalHostname string
	Username      string
	Password      string
	SSLKeyfile    string
	SSLCertfile   string
}

func (c SMTPConfig) addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 25
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c SMTPConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// implicitTLS reports whether the connection itself should be TLS from the
// first byte, rather than plaintext with optional STARTTLS.
func (c SMTPConfig) implicitTLS() bool {
	return c.SSLKeyfile != "" && c.SSLCertfile != ""
}

// Sender delivers already-built messages over SMTP.
type Sender struct {
	cfg SMTPConfig
}

func NewSender(cfg SMTPConfig) *Sender {
	return &Sender{cfg: cfg}
}

// Reachable reports whether the SMTP server accepts connections right now.
func (s *Sender) Reachable() bool {
	conn, err := net.DialTimeout("tcp", s.cfg.addr(), s.cfg.timeout())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Send delivers one message. Any failure is returned to the caller; retry
// policy belongs to whoever holds the spool.
func (s *Sender) Send(from string, to []string, msg []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("send mail: no recipients")
	}

	conn, err := net.DialTimeout("tcp", s.cfg.addr(), s.cfg.timeout())
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	conn.SetDeadline(time.Now().Add(s.cfg.timeout()))

	if s.cfg.implicitTLS() {
		cert, err := tls.LoadX509KeyPair(s.cfg.SSLCertfile, s.cfg.SSLKeyfile)
		if err != nil {
			conn.Close()
			return fmt.Errorf("load smtp client certificate: %w", err)
		}
		conn = tls.Client(conn, &tls.Config{
			ServerName:   s.cfg.Host,
			Certificates: []tls.Certificate{cert},
		})
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if s.cfg.LocalHostname != "" {
		if err := client.Hello(s.cfg.LocalHostname); err != nil {
			return fmt.Errorf("smtp hello: %w", err)
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}
