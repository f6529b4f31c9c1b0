package inbound

import (
	"context"
	"fmt"

	"github.com/ppiankov/pollmark/internal/source"
)

// Kind selects which timeline a Source polls.
type Kind string

const (
	KindTimeline       Kind = "timeline"
	KindMentions       Kind = "mentions"
	KindDirectMessages Kind = "direct_messages"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindTimeline, KindMentions, KindDirectMessages}

// ParseKind validates a configured kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind %q (want timeline, mentions or direct_messages)", s)
}

// ComponentType is the first segment of the marker key. Each kind has its own
// so different timelines of one account keep separate markers.
func (k Kind) ComponentType() string {
	switch k {
	case KindMentions:
		return "twitter:mentions-inbound-channel-adapter"
	case KindDirectMessages:
		return "twitter:dm-inbound-channel-adapter"
	default:
		return "twitter:inbound-channel-adapter"
	}
}

// Endpoint is the remote call this kind polls, whose budget paces it.
func (k Kind) Endpoint() source.Endpoint {
	switch k {
	case KindMentions:
		return source.EndpointMentions
	case KindDirectMessages:
		return source.EndpointDirectMessages
	default:
		return source.EndpointHomeTimeline
	}
}

// accepts reports whether item is a variant this kind forwards.
func (k Kind) accepts(item source.Item) bool {
	switch item.(type) {
	case source.Status:
		return k == KindTimeline || k == KindMentions
	case source.DirectMessage:
		return k == KindDirectMessages
	default:
		return false
	}
}

func (k Kind) fetch(ctx context.Context, c source.Client, sinceID int64) ([]source.Item, error) {
	switch k {
	case KindTimeline:
		statuses, err := c.HomeTimeline(ctx, sinceID)
		return statusItems(statuses), err
	case KindMentions:
		statuses, err := c.Mentions(ctx, sinceID)
		return statusItems(statuses), err
	case KindDirectMessages:
		msgs, err := c.DirectMessages(ctx, sinceID)
		items := make([]source.Item, 0, len(msgs))
		for _, m := range msgs {
			items = append(items, m)
		}
		return items, err
	default:
		return nil, fmt.Errorf("unknown source kind %q", k)
	}
}

func statusItems(statuses []source.Status) []source.Item {
	items := make([]source.Item, 0, len(statuses))
	for _, s := range statuses {
		items = append(items, s)
	}
	return items
}
