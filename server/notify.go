package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// smtpMailer sends notification mail through an SMTP relay.
type smtpMailer struct {
	addr string
}

func (m smtpMailer) Sendmail(ctx context.Context, to []string, subject, body, from string) (bool, string) {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	err := smtp.SendMail(m.addr, nil, from, to, msg.Bytes())
	if err != nil {
		log.Printf("notify: mail to %v: %s", to, err)
		raven.CaptureError(err, map[string]string{"smtp": m.addr})
		return false, err.Error()
	}
	return true, fmt.Sprintf("mail sent to %d recipients", len(to))
}

// jabberHook hands instant messages to a notification bot over HTTP. The
// bot receives {"jids": [...], "payload": {...}}.
type jabberHook struct {
	url    string
	client *http.Client
}

func newJabberHook(url string) jabberHook {
	return jabberHook{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (j jabberHook) Notify(ctx context.Context, jids []string, payload map[string]string) error {
	body, err := json.Marshal(struct {
		JIDs    []string          `json:"jids"`
		Payload map[string]string `json:"payload"`
	}{jids, payload})
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", j.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := j.client.Do(req.WithContext(ctx))
	if err != nil {
		log.Printf("notify: jabber: %s", err)
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("jabber bot returned %s", resp.Status)
	}
	return nil
}
