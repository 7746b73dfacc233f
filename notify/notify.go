/*
Package notify turns unnotified grants into celebration mails.

PURPOSE:
  Grants are written with Notified=false. A Notifier collects a user's
  pending grants, composes one RFC 5322 message listing them, hands it to an
  Outbox and then marks the grants notified. Messages are composed, never
  sent; delivery is whatever the Outbox does with the bytes.

FLOW:
  ListGrants(Unnotified) -> Display -> Compose -> Outbox.Deliver -> MarkNotified

  A grant is only marked after its message was delivered, so a failed
  delivery is retried on the next flush.

SEE ALSO:
  - rewards/display.go: Celebration and points messages
  - generic/store.go: GrantStore.MarkNotified
*/
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/logger"
	"github.com/warp/achievement-engine/rewards"
)

// =============================================================================
// OUTBOX
// =============================================================================

// Outbox receives composed messages.
type Outbox interface {
	Deliver(ctx context.Context, userID generic.UserID, msg []byte) error
}

// DirOutbox writes each message as an .eml file under Dir.
type DirOutbox struct {
	Dir string
}

func (o DirOutbox) Deliver(_ context.Context, userID generic.UserID, msg []byte) error {
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("creating outbox dir: %w", err)
	}
	name := fmt.Sprintf("%s-%d.eml", sanitize(string(userID)), time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(o.Dir, name), msg, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Delivery is one message captured by a MemoryOutbox.
type Delivery struct {
	UserID  generic.UserID
	Message []byte
}

// MemoryOutbox keeps messages in memory.
type MemoryOutbox struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (o *MemoryOutbox) Deliver(_ context.Context, userID generic.UserID, msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries = append(o.deliveries, Delivery{UserID: userID, Message: append([]byte(nil), msg...)})
	return nil
}

func (o *MemoryOutbox) Deliveries() []Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Delivery(nil), o.deliveries...)
}

// =============================================================================
// NOTIFIER
// =============================================================================

type Notifier struct {
	Grants    generic.GrantStore
	Catalog   rewards.Catalog
	Hierarchy rewards.HierarchySource // optional, resolves item titles
	Outbox    Outbox
	From      mail.Address
	// Recipient maps a user to an address. Defaults to <user>@localhost.
	Recipient func(generic.UserID) mail.Address
	Log       *logger.Logger
	Now       func() time.Time
}

func NewNotifier(grants generic.GrantStore, catalog rewards.Catalog, outbox Outbox, from string, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{
		Grants:  grants,
		Catalog: catalog,
		Outbox:  outbox,
		From:    mail.Address{Name: "Achievements", Address: from},
		Log:     log,
		Now:     time.Now,
	}
}

// Pending returns the user's unnotified grants, oldest first.
func (n *Notifier) Pending(ctx context.Context, userID generic.UserID) ([]rewards.GrantDisplay, []generic.GrantID, error) {
	grants, err := n.Grants.ListGrants(ctx, generic.GrantFilter{UserID: userID, Unnotified: true})
	if err != nil {
		return nil, nil, fmt.Errorf("listing unnotified grants: %w", err)
	}
	if len(grants) == 0 {
		return nil, nil, nil
	}
	catalog, err := n.Catalog.Rewards(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading reward catalog: %w", err)
	}
	byID := make(map[generic.RewardID]rewards.Reward, len(catalog))
	for _, r := range catalog {
		byID[r.ID] = r
	}

	var h goals.Hierarchy
	if n.Hierarchy != nil {
		if h, err = n.Hierarchy.LoadHierarchy(ctx, userID); err != nil {
			return nil, nil, fmt.Errorf("loading hierarchy: %w", err)
		}
	}

	sort.SliceStable(grants, func(i, j int) bool { return grants[i].EarnedAt.Before(grants[j].EarnedAt) })

	displays := make([]rewards.GrantDisplay, 0, len(grants))
	ids := make([]generic.GrantID, 0, len(grants))
	for _, g := range grants {
		r, ok := byID[g.RewardID]
		if !ok {
			n.Log.Warn("grant references unknown reward", "grant_id", string(g.ID), "reward_id", string(g.RewardID))
			continue
		}
		displays = append(displays, rewards.Display(g, r, h))
		ids = append(ids, g.ID)
	}
	return displays, ids, nil
}

// Flush delivers one message for the user's pending grants and marks them
// notified. It returns the number of grants covered; zero means nothing was
// sent.
func (n *Notifier) Flush(ctx context.Context, userID generic.UserID) (int, error) {
	displays, ids, err := n.Pending(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(displays) == 0 {
		return 0, nil
	}

	msg, err := Compose(n.From, n.recipient(userID), displays, n.now())
	if err != nil {
		return 0, err
	}
	if err := n.Outbox.Deliver(ctx, userID, msg); err != nil {
		return 0, fmt.Errorf("delivering to %s: %w", userID, err)
	}
	if err := n.Grants.MarkNotified(ctx, ids...); err != nil {
		return 0, fmt.Errorf("marking grants notified: %w", err)
	}
	n.Log.Info("notification delivered", "user_id", string(userID), "grants", len(ids))
	return len(ids), nil
}

// FlushAll flushes every user holding unnotified grants. A failing user is
// logged and skipped.
func (n *Notifier) FlushAll(ctx context.Context) (int, error) {
	grants, err := n.Grants.ListGrants(ctx, generic.GrantFilter{Unnotified: true})
	if err != nil {
		return 0, fmt.Errorf("listing unnotified grants: %w", err)
	}
	seen := make(map[generic.UserID]bool)
	var users []generic.UserID
	for _, g := range grants {
		if !seen[g.UserID] {
			seen[g.UserID] = true
			users = append(users, g.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	total := 0
	for _, u := range users {
		count, err := n.Flush(ctx, u)
		if err != nil {
			n.Log.Warn("notification failed", "user_id", string(u), "error", err)
			continue
		}
		total += count
	}
	return total, nil
}

func (n *Notifier) recipient(userID generic.UserID) mail.Address {
	if n.Recipient != nil {
		return n.Recipient(userID)
	}
	return mail.Address{Name: string(userID), Address: sanitize(string(userID)) + "@localhost"}
}

func (n *Notifier) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

// =============================================================================
// COMPOSITION
// =============================================================================

// Subject is the mail subject for a batch of grants.
func Subject(displays []rewards.GrantDisplay) string {
	if len(displays) == 1 {
		return displays[0].Celebration
	}
	return fmt.Sprintf("🎉 You unlocked %d achievements!", len(displays))
}

// Compose builds a multipart/alternative message with a plain text and an
// HTML rendering of the grants.
func Compose(from, to mail.Address, displays []rewards.GrantDisplay, now time.Time) ([]byte, error) {
	if len(displays) == 0 {
		return nil, &generic.ValidationError{Field: "grants", Reason: "nothing to notify"}
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{&from})
	h.SetAddressList("To", []*mail.Address{&to})
	h.SetSubject(Subject(displays))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	if err := writePart(tw, "text/plain", plainBody(displays)); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", htmlBody(displays)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return w.Close()
}

func plainBody(displays []rewards.GrantDisplay) string {
	var b strings.Builder
	total := 0
	for _, d := range displays {
		fmt.Fprintf(&b, "%s %s\n", d.Reward.Icon, d.Celebration)
		fmt.Fprintf(&b, "   %s\n", d.Reward.Description)
		if d.AssociatedItem != nil {
			fmt.Fprintf(&b, "   For: %s\n", itemLabel(d.AssociatedItem))
		}
		fmt.Fprintf(&b, "   %s\n\n", d.PointsMessage)
		total += d.Reward.Points
	}
	fmt.Fprintf(&b, "Total: %d points\n", total)
	return b.String()
}

func htmlBody(displays []rewards.GrantDisplay) string {
	var b strings.Builder
	b.WriteString("<html><body>\n<ul>\n")
	for _, d := range displays {
		fmt.Fprintf(&b, `<li style="border-left: 4px solid %s; padding-left: 8px">`, html.EscapeString(d.Reward.Color))
		fmt.Fprintf(&b, "<strong>%s %s</strong><br>", html.EscapeString(d.Reward.Icon), html.EscapeString(d.Celebration))
		fmt.Fprintf(&b, "%s<br>", html.EscapeString(d.Reward.Description))
		if d.AssociatedItem != nil {
			fmt.Fprintf(&b, "<em>%s</em><br>", html.EscapeString(itemLabel(d.AssociatedItem)))
		}
		fmt.Fprintf(&b, "%s</li>\n", html.EscapeString(d.PointsMessage))
	}
	b.WriteString("</ul>\n</body></html>\n")
	return b.String()
}

func itemLabel(item *rewards.ItemSummary) string {
	if item.Title != "" {
		return fmt.Sprintf("%s %q", item.Type, item.Title)
	}
	return item.Type + " " + item.ID
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
