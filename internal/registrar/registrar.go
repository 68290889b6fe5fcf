package registrar

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SipExchange/internal/repository/user"
	"SipExchange/internal/transport"
)

var ErrUserNotFound = errors.New("user not found")

// Binding is the registration state of one roster user. Conn is the
// transport the user is currently reachable on; the registrar never owns it.
type Binding struct {
	Username  string
	Password  string
	Contact   string
	ExpiresAt time.Time
	Source    string // remote address of the registering transport
	Conn      transport.Sender
}

func (b Binding) IsRegistered(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

type Registrar struct {
	mu     sync.RWMutex
	loc    map[string]*Binding // user -> binding
	domain string
	now    func() time.Time
}

type Option func(*Registrar)

func WithClock(now func() time.Time) Option {
	return func(r *Registrar) { r.now = now }
}

// New builds a registrar over a fixed roster. Users are never added or
// removed afterwards.
func New(domain string, roster []user.User, opts ...Option) *Registrar {
	r := &Registrar{
		loc:    make(map[string]*Binding, len(roster)),
		domain: domain,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, u := range roster {
		r.loc[u.Login] = &Binding{
			Username: u.Login,
			Password: u.Password,
			Contact:  fmt.Sprintf("sip:%s@%s", u.Login, domain),
		}
	}
	return r
}

// Register binds login to conn for expires. A zero duration unregisters:
// the expiry moves to now and the transport is released. Credentials are not
// checked.
func (r *Registrar) Register(login string, expires time.Duration, contact string, conn transport.Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.loc[login]
	if !ok {
		return fmt.Errorf("register %q: %w", login, ErrUserNotFound)
	}

	if expires < 0 {
		expires = 0
	}
	b.ExpiresAt = r.now().Add(expires)
	if contact != "" {
		b.Contact = contact
	}

	if expires == 0 {
		b.Conn = nil
		return nil
	}

	b.Conn = conn
	if conn != nil {
		b.Source = conn.RemoteAddr()
	}
	return nil
}

// IsRegistered reports whether login holds an unexpired registration.
// Expiry is only evaluated here, there is no sweeper.
func (r *Registrar) IsRegistered(login string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.loc[login]
	return ok && b.IsRegistered(r.now())
}

// Get returns a copy of the binding for login.
func (r *Registrar) Get(login string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.loc[login]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// Scrub releases every binding that references conn and ends its
// registration. It returns the affected users.
func (r *Registrar) Scrub(conn transport.Sender) []string {
	if conn == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var users []string
	now := r.now()
	for login, b := range r.loc {
		if b.Conn != conn {
			continue
		}
		b.Conn = nil
		if b.ExpiresAt.After(now) {
			b.ExpiresAt = now
		}
		users = append(users, login)
	}
	sort.Strings(users)
	return users
}

// List returns every roster binding ordered by username.
func (r *Registrar) List() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.loc))
	for _, b := range r.loc {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Count returns the number of currently registered users.
func (r *Registrar) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	n := 0
	for _, b := range r.loc {
		if b.IsRegistered(now) {
			n++
		}
	}
	return n
}

func (r *Registrar) Now() time.Time {
	return r.now()
}
