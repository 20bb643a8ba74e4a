// Package mailbox owns the IMAP session used by the ingestion loop.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

const (
	DefaultMailbox = "INBOX"
	dialTimeout    = 30 * time.Second
)

var ErrNotConfigured = errors.New("imap credentials are not configured")

// Credentials are the connection settings of the mail server.
type Credentials struct {
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string
}

// Complete reports whether host, user and secret are all set.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.User) != "" && c.Password != ""
}

func (c Credentials) addr() string {
	port := c.Port
	if port == 0 {
		port = 993
		if !c.TLS {
			port = 143
		}
	}
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(port))
}

// FolderState is the result of a folder existence check.
type FolderState int

const (
	FolderNotFound FolderState = iota
	FolderExists
)

func (s FolderState) String() string {
	if s == FolderExists {
		return "exists"
	}
	return "not_found"
}

// imapClient is the subset of *client.Client the session relies on.
type imapClient interface {
	Login(username, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Create(name string) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidMove(seqset *imap.SeqSet, dest string) error
}

// Session is a single authenticated IMAP connection. It is owned by one
// goroutine; Lock guards the list and process phase of a poll cycle.
type Session struct {
	mu       sync.Mutex
	client   imapClient
	mailbox  string
	selected string
	logger   *zap.Logger
}

// Dial connects and authenticates. It returns ErrNotConfigured when
// credentials are incomplete.
func Dial(ctx context.Context, creds Credentials, mailbox string, logger *zap.Logger) (*Session, error) {
	if !creds.Complete() {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		c   *client.Client
		err error
	)
	if creds.TLS {
		c, err = client.DialWithDialerTLS(dialer, creds.addr(), &tls.Config{ServerName: strings.TrimSpace(creds.Host)})
	} else {
		c, err = client.DialWithDialer(dialer, creds.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", creds.addr(), err)
	}

	if err := c.Login(creds.User, creds.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login as %s: %w", creds.User, err)
	}

	return newSession(c, mailbox, logger), nil
}

func newSession(c imapClient, mailbox string, logger *zap.Logger) *Session {
	if strings.TrimSpace(mailbox) == "" {
		mailbox = DefaultMailbox
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{client: c, mailbox: mailbox, logger: logger}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) Mailbox() string { return s.mailbox }

// FolderState checks whether a folder exists without trying to open it.
func (s *Session) FolderState(name string) (FolderState, error) {
	ch := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", name, ch)
	}()

	state := FolderNotFound
	for info := range ch {
		if info != nil && strings.EqualFold(info.Name, name) {
			state = FolderExists
		}
	}
	if err := <-done; err != nil {
		return FolderNotFound, fmt.Errorf("list folder %s: %w", name, err)
	}
	return state, nil
}

// EnsureFolder creates the folder when it does not exist yet.
func (s *Session) EnsureFolder(name string) error {
	state, err := s.FolderState(name)
	if err != nil {
		return err
	}
	if state == FolderExists {
		return nil
	}

	if err := s.client.Create(name); err != nil {
		return fmt.Errorf("create folder %s: %w", name, err)
	}
	s.logger.Info("created mail folder", zap.String("folder", name))
	return nil
}

func (s *Session) selectFolder(name string) error {
	if s.selected == name {
		return nil
	}
	if _, err := s.client.Select(name, false); err != nil {
		s.selected = ""
		return fmt.Errorf("select %s: %w", name, err)
	}
	s.selected = name
	return nil
}

// UnseenUIDs selects the polled mailbox and lists messages without the seen flag.
func (s *Session) UnseenUIDs() ([]uint32, error) {
	// Reselect on every cycle so the server reports new mail.
	s.selected = ""
	if err := s.selectFolder(s.mailbox); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	return uids, nil
}

// Fetch downloads one message from the polled mailbox without setting the seen flag.
func (s *Session) Fetch(uid uint32) (*Message, error) {
	if err := s.selectFolder(s.mailbox); err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(uidSet(uid), items, ch)
	}()

	var raw *imap.Message
	for msg := range ch {
		if raw == nil && msg != nil {
			raw = msg
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("fetch uid %d: message not found", uid)
	}

	body := raw.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("fetch uid %d: server returned no body", uid)
	}

	return ParseMessage(uid, body)
}

func (s *Session) MarkSeen(uid uint32) error {
	if err := s.selectFolder(s.mailbox); err != nil {
		return err
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(uidSet(uid), item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark uid %d seen: %w", uid, err)
	}
	return nil
}

// Move moves a message from the polled mailbox to folder.
func (s *Session) Move(uid uint32, folder string) error {
	if err := s.selectFolder(s.mailbox); err != nil {
		return err
	}
	if err := s.client.UidMove(uidSet(uid), folder); err != nil {
		return fmt.Errorf("move uid %d to %s: %w", uid, folder, err)
	}
	return nil
}

// Summary describes a message without downloading its body.
type Summary struct {
	UID     uint32
	Subject string
	From    string
	Date    time.Time
}

// ListMessages returns every message of folder, oldest first.
func (s *Session) ListMessages(folder string) ([]Summary, error) {
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	uids, err := s.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(set, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}, ch)
	}()

	summaries := make([]Summary, 0, len(uids))
	for msg := range ch {
		if msg == nil {
			continue
		}
		summary := Summary{UID: msg.Uid}
		if env := msg.Envelope; env != nil {
			summary.Subject = env.Subject
			summary.Date = env.Date
			if len(env.From) > 0 && env.From[0] != nil {
				summary.From = env.From[0].Address()
			}
		}
		summaries = append(summaries, summary)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch envelopes from %s: %w", folder, err)
	}

	return summaries, nil
}

// Requeue clears the seen flag of a message in from and moves it to to,
// so the next poll cycle picks it up again.
func (s *Session) Requeue(uid uint32, from, to string) error {
	if err := s.selectFolder(from); err != nil {
		return err
	}

	item := imap.FormatFlagsOp(imap.RemoveFlags, true)
	if err := s.client.UidStore(uidSet(uid), item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("clear seen flag of uid %d: %w", uid, err)
	}
	if err := s.client.UidMove(uidSet(uid), to); err != nil {
		return fmt.Errorf("move uid %d to %s: %w", uid, to, err)
	}
	return nil
}

func (s *Session) Logout() error {
	s.selected = ""
	if err := s.client.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func uidSet(uid uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(uid)
	return set
}
