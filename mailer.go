package auth

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

const defaultMailTimeout = 30 * time.Second

// Message is an outgoing email
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers email messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, msg Message) error

// Send implements Mailer
func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogMailer prints messages through the logger instead of delivering them
type LogMailer struct {
	Logger Logger
}

// Send implements Mailer
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	normalizeLogger(m.Logger).Info("mail", "from", msg.From, "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}

// VerificationMailer composes verification messages
type VerificationMailer struct {
	transport   Mailer
	from        string
	baseURL     string
	routePrefix string
}

// NewVerificationMailer builds links as {baseURL}{routePrefix}/verify/{token}
func NewVerificationMailer(transport Mailer, from, baseURL, routePrefix string) *VerificationMailer {
	return &VerificationMailer{
		transport:   transport,
		from:        from,
		baseURL:     strings.TrimRight(baseURL, "/"),
		routePrefix: "/" + strings.Trim(routePrefix, "/"),
	}
}

// VerificationLink returns the link embedded in the message
func (v *VerificationMailer) VerificationLink(token string) string {
	prefix := v.routePrefix
	if prefix == "/" {
		prefix = ""
	}
	return fmt.Sprintf("%s%s/verify/%s", v.baseURL, prefix, token)
}

// SendVerification sends the verification link to email
func (v *VerificationMailer) SendVerification(ctx context.Context, email, token string) error {
	link := v.VerificationLink(token)
	escaped := html.EscapeString(link)
	return v.transport.Send(ctx, Message{
		From:    v.from,
		To:      email,
		Subject: "Please verify your email",
		Text:    "Click on the link to verify your email: " + link,
		HTML:    fmt.Sprintf(`<strong>Click on the link to verify your email: <a href="%s">%s</a></strong>`, escaped, escaped),
	})
}

// VerificationSender is what the verification flow needs from a mailer
type VerificationSender interface {
	SendVerification(ctx context.Context, email, token string) error
}

// MailDispatcher delivers verification mail off the request path. Failures
// are logged and recorded, never returned to the caller.
type MailDispatcher struct {
	sender   VerificationSender
	logger   Logger
	activity ActivitySink
	timeout  time.Duration
	wg       sync.WaitGroup
}

// MailDispatcherOption configures a MailDispatcher
type MailDispatcherOption func(*MailDispatcher)

// WithMailTimeout bounds each delivery
func WithMailTimeout(timeout time.Duration) MailDispatcherOption {
	return func(d *MailDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMailActivitySink records delivery failures
func WithMailActivitySink(sink ActivitySink) MailDispatcherOption {
	return func(d *MailDispatcher) {
		d.activity = sink
	}
}

// WithMailLogger sets the logger
func WithMailLogger(logger Logger) MailDispatcherOption {
	return func(d *MailDispatcher) {
		d.logger = logger
	}
}

// NewMailDispatcher returns a dispatcher over sender
func NewMailDispatcher(sender VerificationSender, opts ...MailDispatcherOption) *MailDispatcher {
	d := &MailDispatcher{
		sender:  sender,
		timeout: defaultMailTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = normalizeLogger(d.logger)
	d.activity = normalizeActivitySink(d.activity)
	return d
}

// Dispatch schedules delivery and returns immediately. The request context
// is not used so delivery survives the end of the request.
//
// Deliveries run independently and are not ordered: a link dispatched at
// signup may arrive after one dispatched by a later reissue. Only the most
// recent token verifies, so a stale link fails with not found.
func (d *MailDispatcher) Dispatch(userID, email, token string) {
	if d == nil || d.sender == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sender.SendVerification(ctx, email, token); err != nil {
			d.logger.Error("verification mail delivery failed", "user_id", userID, "email", email, "error", err)
			recordActivity(ctx, d.activity, d.logger, ActivityEvent{
				EventType: ActivityEventMailDeliveryFailure,
				UserID:    userID,
				Email:     email,
				Metadata:  map[string]any{"error": err.Error()},
			})
			return
		}

		d.logger.Debug("verification mail sent", "user_id", userID, "email", email)
	}()
}

// Wait blocks until pending deliveries finish
func (d *MailDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
