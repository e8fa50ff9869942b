package common

// EmailSender delivers payer-facing notification emails. The bridge does not
// render or send mail itself in every deployment, so implementations range
// from a real SMTP client to the no-op below.
type EmailSender interface {
	Send(to, subject, html string) error
}

// InMemoryEmail records sent messages for tests.
type InMemoryEmail struct {
	Outbox []Email
}

// Email is a single captured message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

func (m *InMemoryEmail) Send(to, subject, html string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// Last returns the most recently captured message, or nil when none was sent.
func (m *InMemoryEmail) Last() *Email {
	if m == nil || len(m.Outbox) == 0 {
		return nil
	}
	return &m.Outbox[len(m.Outbox)-1]
}

// NopEmailSender discards every message. Used when email notifications are
// disabled by configuration.
type NopEmailSender struct{}

func (NopEmailSender) Send(string, string, string) error { return nil }
