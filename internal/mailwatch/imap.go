package mailwatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Account is an IMAP login.
type Account struct {
	Addr     string // host:port
	Username string
	Password string
	Mailbox  string // default "INBOX"
	// Insecure dials plain TCP instead of implicit TLS.
	Insecure bool
}

// Dialer returns a DialFunc that logs into acct and selects its mailbox.
// The session is torn down when the poll context ends.
func Dialer(acct Account) DialFunc {
	return func(ctx context.Context) (Mailbox, error) {
		dial := imapclient.DialTLS
		if acct.Insecure {
			dial = imapclient.DialInsecure
		}
		c, err := dial(acct.Addr, nil)
		if err != nil {
			return nil, fmt.Errorf("imap dial %s: %w", acct.Addr, err)
		}
		mb := &imapMailbox{c: c, stop: context.AfterFunc(ctx, func() { _ = c.Close() })}

		if err := c.Login(acct.Username, acct.Password).Wait(); err != nil {
			_ = mb.Close()
			return nil, fmt.Errorf("imap login: %w", err)
		}
		box := acct.Mailbox
		if box == "" {
			box = "INBOX"
		}
		if _, err := c.Select(box, nil).Wait(); err != nil {
			_ = mb.Close()
			return nil, fmt.Errorf("imap select %s: %w", box, err)
		}
		return mb, nil
	}
}

type imapMailbox struct {
	c    *imapclient.Client
	stop func() bool
}

func (m *imapMailbox) UnseenFrom(ctx context.Context, sender string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header:  []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}
	data, err := m.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	// Peek keeps \Seen untouched until the message was delivered.
	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := m.c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	out := make([]Message, 0, len(bufs))
	for _, b := range bufs {
		raw := b.FindBodySection(section)
		if raw == nil {
			continue
		}
		out = append(out, Message{UID: uint32(b.UID), Raw: raw})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *imapMailbox) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.c.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("imap store: %w", err)
	}
	return nil
}

func (m *imapMailbox) Close() error {
	m.stop()
	_ = m.c.Logout().Wait()
	return m.c.Close()
}
