package mailer

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/resend/resend-go/v2"
)

// Email is a rendered outbound message.
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer sends transactional email through Resend. In test mode (dev)
// messages are logged instead of sent so the pipeline can run without
// an API key.
type Mailer struct {
	apiKey   string
	from     string
	fromName string
	testMode bool
}

func New() *Mailer {
	return &Mailer{
		apiKey:   os.Getenv("RESEND_API_KEY"),
		from:     os.Getenv("EMAIL_FROM"),
		fromName: os.Getenv("EMAIL_FROM_NAME"),
		testMode: os.Getenv("EMAIL_TEST_MODE") == "true",
	}
}

// Send delivers the email via Resend.
func (m *Mailer) Send(email *Email) error {
	if m.testMode {
		m.logToConsole(email)
		return nil
	}

	if m.apiKey == "" {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}
	if email.HTMLBody == "" && email.TextBody == "" {
		return fmt.Errorf("email must have either HTMLBody or TextBody")
	}

	client := resend.NewClient(m.apiKey)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.fromName, m.from),
		To:      email.To,
		Subject: email.Subject,
	}
	if email.HTMLBody != "" {
		params.Html = email.HTMLBody
	}
	if email.TextBody != "" {
		params.Text = email.TextBody
	}

	sent, err := client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("send via resend: %w", err)
	}

	log.Printf("email sent via Resend (ID: %s) to %v", sent.Id, email.To)
	return nil
}

func (m *Mailer) logToConsole(email *Email) {
	separator := strings.Repeat("=", 60)
	log.Printf("\n%s\nEMAIL (test mode, not sent)\n%s", separator, separator)
	log.Printf("To: %v", email.To)
	log.Printf("Subject: %s", email.Subject)
	log.Printf("\n%s\n%s", email.TextBody, separator)
}
