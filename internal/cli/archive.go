package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ppiankov/pollmark/internal/inbound"
	"github.com/ppiankov/pollmark/internal/privacy"
	"github.com/ppiankov/pollmark/internal/source"
	"github.com/ppiankov/pollmark/internal/store"
)

// drain archives every queued message of src. It stops at the first archive
// error; the failed message is lost from the queue but its marker has already
// advanced, so the error is returned for the caller to surface.
func (a *app) drain(ctx context.Context, src *inbound.Source) (int, error) {
	n := 0
	for {
		msg, ok := src.Receive()
		if !ok {
			return n, nil
		}
		if _, err := a.db.SaveItem(ctx, itemInput(src, msg, a.redact)); err != nil {
			return n, fmt.Errorf("archive %s item %d: %w", src.Kind(), msg.Payload.ItemID(), err)
		}
		n++
	}
}

// itemInput maps a delivered message onto an archive row. Text passes
// through redact; author and identifiers are stored as received.
func itemInput(src *inbound.Source, msg inbound.Message, redact *privacy.Redactor) store.ItemInput {
	in := store.ItemInput{
		Source:     sourceLabel(src),
		Kind:       string(src.Kind()),
		Account:    src.ProfileID(),
		ExternalID: strconv.FormatInt(msg.Payload.ItemID(), 10),
		CreatedAt:  msg.Payload.ItemTime(),
		ReceivedAt: msg.Headers.Timestamp,
		MessageID:  msg.Headers.ID.String(),
	}
	switch p := msg.Payload.(type) {
	case source.Status:
		in.Text = redact.Redact(p.Text)
		in.Author = p.Author
		in.URL = p.URL
	case source.DirectMessage:
		in.Text = redact.Redact(p.Text)
		in.Author = p.Sender
	}
	return in
}

func sourceLabel(src *inbound.Source) string {
	if src.Name() != "" {
		return src.Name()
	}
	return string(src.Kind())
}
