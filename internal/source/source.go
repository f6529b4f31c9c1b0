package source

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedOperation is returned by clients that cannot serve a timeline.
var ErrUnsupportedOperation = errors.New("operation not supported by client")

// Item is a remote record the inbound sources deduplicate. The set of
// implementations is closed: Status and DirectMessage.
type Item interface {
	// ItemID returns the remote identifier. Identifiers grow over time.
	ItemID() int64

	// ItemTime returns the creation timestamp.
	ItemTime() time.Time

	isItem()
}

// Status is a broadcast post from a timeline.
type Status struct {
	ID        int64
	Text      string
	Author    string // screen name
	URL       string
	CreatedAt time.Time
}

func (s Status) ItemID() int64       { return s.ID }
func (s Status) ItemTime() time.Time { return s.CreatedAt }
func (Status) isItem()               {}

// DirectMessage is a private message addressed to the account.
type DirectMessage struct {
	ID        int64
	Text      string
	Sender    string
	Recipient string
	CreatedAt time.Time
}

func (m DirectMessage) ItemID() int64       { return m.ID }
func (m DirectMessage) ItemTime() time.Time { return m.CreatedAt }
func (DirectMessage) isItem()               {}

// Endpoint names a remote call with its own rate-limit budget.
type Endpoint string

const (
	EndpointProfile        Endpoint = "profile"
	EndpointHomeTimeline   Endpoint = "home_timeline"
	EndpointMentions       Endpoint = "mentions"
	EndpointDirectMessages Endpoint = "direct_messages"
)

// RateLimitStatus is the remote API's last reported request budget for one endpoint.
type RateLimitStatus struct {
	Known     bool // false until the remote has reported a budget
	Limit     int
	Remaining int
	Reset     time.Time
}

// Client fetches items for one remote account.
type Client interface {
	// ProfileID returns the stable identifier of the authenticated account.
	ProfileID(ctx context.Context) (string, error)

	// HomeTimeline returns statuses newer than sinceID. sinceID 0 means no lower bound.
	HomeTimeline(ctx context.Context, sinceID int64) ([]Status, error)

	// Mentions returns statuses mentioning the account, newer than sinceID.
	Mentions(ctx context.Context, sinceID int64) ([]Status, error)

	// DirectMessages returns messages received by the account, newer than sinceID.
	DirectMessages(ctx context.Context, sinceID int64) ([]DirectMessage, error)

	// RateLimitStatus reports the current request budget of endpoint.
	RateLimitStatus(ctx context.Context, endpoint Endpoint) (RateLimitStatus, error)
}

// EndpointLimiter reports the budget of a single endpoint of Client.
type EndpointLimiter struct {
	Client   Client
	Endpoint Endpoint
}

func (l EndpointLimiter) RateLimitStatus(ctx context.Context) (RateLimitStatus, error) {
	return l.Client.RateLimitStatus(ctx, l.Endpoint)
}
