package types

import "strings"

// NotificationStatus is the latest known delivery state of a notification.
// Stored values are the uppercase tokens; the status callback carries the
// lowercase form.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "PENDING"
	StatusDelivered NotificationStatus = "DELIVERED"
	StatusFailed    NotificationStatus = "FAILED"
	StatusSkipped   NotificationStatus = "SKIPPED"
)

// StatusUnknown is returned by status lookups for ids the store has never seen.
// It is deliberately not a NotificationStatus.
const StatusUnknown = "unknown"

// ParseNotificationStatus normalizes a stored token. ok is false for values
// outside the four known states.
func ParseNotificationStatus(raw string) (NotificationStatus, bool) {
	s := NotificationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusDelivered, StatusFailed, StatusSkipped:
		return s, true
	}
	return "", false
}

// IsTerminalForDedup reports whether a notification in this state must never
// be processed again. FAILED is terminal for the retry loop only.
func (s NotificationStatus) IsTerminalForDedup() bool {
	return s == StatusDelivered || s == StatusSkipped
}

// Wire returns the lowercase token sent to the status callback endpoint.
func (s NotificationStatus) Wire() string {
	return strings.ToLower(string(s))
}

// NotificationType identifies the channel a template is rendered for.
type NotificationType string

const (
	NotificationTypeEmail NotificationType = "email"
	NotificationTypePush  NotificationType = "push"
)

// StoreBackend selects the status store implementation.
type StoreBackend string

const (
	StoreRedis    StoreBackend = "redis"
	StorePostgres StoreBackend = "postgres"
	StoreMemory   StoreBackend = "memory"
)

// EmailProviderName selects the outbound mail transport.
type EmailProviderName string

const (
	ProviderSendGrid EmailProviderName = "sendgrid"
	ProviderSES      EmailProviderName = "ses"
	ProviderSMTP     EmailProviderName = "smtp"
	ProviderStub     EmailProviderName = "stub"
)
