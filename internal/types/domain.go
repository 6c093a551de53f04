package types

// UserPreferences holds per-channel opt-in flags. A nil pointer means the
// user never set the preference, which counts as enabled.
type UserPreferences struct {
	EmailNotifications *bool `json:"email_notifications,omitempty"`
	PushNotifications  *bool `json:"push_notifications,omitempty"`
}

// EmailEnabled reports whether email delivery is allowed. Only an explicit
// false disables it.
func (p *UserPreferences) EmailEnabled() bool {
	if p == nil || p.EmailNotifications == nil {
		return true
	}
	return *p.EmailNotifications
}

// UserProfile is the subset of the user-service record the worker needs.
type UserProfile struct {
	ID          string           `json:"id"`
	Email       string           `json:"email,omitempty"`
	Name        string           `json:"name,omitempty"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
}

// TemplateRenderRequest is sent to the template service.
type TemplateRenderRequest struct {
	TemplateCode     string            `json:"template_code"`
	NotificationType NotificationType  `json:"notification_type"`
	Variables        map[string]string `json:"variables"`
}

// TemplateRenderResult is the template service response payload. Either field
// may be absent.
type TemplateRenderResult struct {
	RenderedSubject *string `json:"rendered_subject,omitempty"`
	RenderedBody    *string `json:"rendered_body,omitempty"`
}

// RenderedContent is the ephemeral subject/body pair handed to the gateway.
type RenderedContent struct {
	Subject string
	Body    string
}

// DefaultSubject replaces an empty rendered subject.
const DefaultSubject = "Notification"

// ToContent applies the empty-field defaults.
func (r TemplateRenderResult) ToContent() RenderedContent {
	c := RenderedContent{Subject: DefaultSubject}
	if r.RenderedSubject != nil && *r.RenderedSubject != "" {
		c.Subject = *r.RenderedSubject
	}
	if r.RenderedBody != nil {
		c.Body = *r.RenderedBody
	}
	return c
}

// EmailAddress is a sender identity.
type EmailAddress struct {
	Address string
	Name    string
}

// SendInput is what a mail transport needs to send one message.
type SendInput struct {
	To          string
	From        EmailAddress
	Subject     string
	BodyHTML    string
	ReferenceID string
}

// SendResult is the transport's answer. StatusCode follows HTTP semantics;
// non-HTTP transports report 250-class SMTP success as 200.
type SendResult struct {
	StatusCode        int
	ProviderMessageID string
}

// Succeeded reports whether the transport accepted the message.
func (r SendResult) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}
