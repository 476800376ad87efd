package email

import "context"

// Recipient is one destination of a batched status update send. The token
// personalizes the manage/unsubscribe links in the rendered message.
type Recipient struct {
	Address string
	Token   string
}

// VerificationMessage carries a single verification send.
type VerificationMessage struct {
	To        string
	PageName  string
	VerifyURL string
}

// StatusUpdateMessage carries one batched status update send covering all
// recipients. Batching is deliberate: one transport call per event, not one
// per recipient.
type StatusUpdateMessage struct {
	Recipients []Recipient
	PageName   string
	Title      string
	Status     string
	Message    string
	Components []string
	Date       string
}

// Mailer is the outbound email transport. Implementations are injected into
// the channel at construction so tests can substitute a fake.
type Mailer interface {
	SendVerification(ctx context.Context, msg VerificationMessage) error
	SendStatusUpdate(ctx context.Context, msg StatusUpdateMessage) error
}
