// Package mail sends a rendered summary to each recipient over SMTP.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	body = "Please find the attached summary PDF."
)

// ErrMissingFields is returned when the subject, recipients or attachment is
// absent.
var ErrMissingFields = errors.New("missing required fields")

// ErrDisabled is returned by a dispatcher built without an SMTP host.
var ErrDisabled = errors.New("mail dispatch is not configured")

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Attachment struct {
	Name string
	Data []byte
}

type Detail struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Result struct {
	Message    string   `json:"message"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Details    []Detail `json:"details"`
}

// OK reports whether every recipient was sent to.
func (r Result) OK() bool { return r.Failed == 0 && r.Successful > 0 }

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

type Dispatcher struct {
	from   string
	client sender
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Host == "" {
		return &Dispatcher{from: cfg.From}, nil
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(30 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &Dispatcher{from: cfg.From, client: client}, nil
}

// AttachmentName is the dated file name the summary PDF is sent under.
func AttachmentName(now time.Time) string {
	return "meeting-summary-" + now.Format("2006-01-02") + ".pdf"
}

// Dispatch sends one message per recipient. A failure for one recipient is
// recorded in the result and does not stop the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, subject string, recipients []string, att Attachment) (Result, error) {
	if strings.TrimSpace(subject) == "" || len(recipients) == 0 || len(att.Data) == 0 {
		return Result{}, ErrMissingFields
	}
	if d.client == nil {
		return Result{}, ErrDisabled
	}

	res := Result{Details: make([]Detail, 0, len(recipients))}
	for _, email := range recipients {
		err := d.send(ctx, subject, email, att)
		if err != nil {
			slog.Warn("mail: send failed", "to", email, "error", err)
			res.Failed++
			res.Details = append(res.Details, Detail{Email: email, Status: StatusFailed, Error: err.Error()})
			continue
		}
		res.Successful++
		res.Details = append(res.Details, Detail{Email: email, Status: StatusSent})
	}

	switch {
	case res.Failed == 0:
		res.Message = "Emails dispatched successfully!"
	case res.Successful == 0:
		res.Message = "Failed to send emails"
	default:
		res.Message = fmt.Sprintf("Sent %d of %d emails", res.Successful, len(recipients))
	}
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, subject, to string, att Attachment) error {
	msg := gomail.NewMsg()
	if err := msg.From(d.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextPlain, body)
	if err := msg.AttachReader(att.Name, bytes.NewReader(att.Data)); err != nil {
		return fmt.Errorf("attach %s: %w", att.Name, err)
	}

	if err := d.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}
