/*
Package session maps browser cookies to in-memory flow sessions.

Only a session UUID travels in the signed cookie; the state itself lives in a
bounded LRU cache and is lost on restart. A cron janitor evicts visitors that
have been idle for longer than the configured TTL.
*/
package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/flow"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
)

const (
	CookieName = "taste_session"
	idKey      = "sid"
)

// Options configures a Store.
type Options struct {
	Secret     []byte
	MaxEntries int
	IdleTTL    time.Duration
	SweepSpec  string
	Secure     bool
	Logger     *zerolog.Logger
}

// Store owns every live visitor session.
type Store struct {
	cookies *sessions.CookieStore
	cache   *lru.Cache[string, *flow.Session]
	idleTTL time.Duration
	sweep   string
	cron    *cron.Cron
	log     *zerolog.Logger
	now     func() time.Time
}

// NewStore builds a Store. It does not start the janitor; call Start.
func NewStore(opts Options) (*Store, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.SweepSpec == "" {
		opts.SweepSpec = "@every 10m"
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	cache, err := lru.NewWithEvict[string, *flow.Session](opts.MaxEntries, func(id string, _ *flow.Session) {
		logger.Debug().Str("session_id", id).Msg("session evicted")
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	hashKey, blockKey, err := cookieKeys(opts.Secret)
	if err != nil {
		return nil, err
	}
	cookies := sessions.NewCookieStore(hashKey, blockKey)
	cookies.Options.Path = "/"
	cookies.Options.HttpOnly = true
	cookies.Options.Secure = opts.Secure
	cookies.Options.SameSite = http.SameSiteLaxMode
	cookies.MaxAge(int(opts.IdleTTL.Seconds()))

	return &Store{
		cookies: cookies,
		cache:   cache,
		idleTTL: opts.IdleTTL,
		sweep:   opts.SweepSpec,
		log:     logger,
		now:     time.Now,
	}, nil
}

// cookieKeys derives independent signing and encryption keys from the secret.
func cookieKeys(secret []byte) (hashKey, blockKey []byte, err error) {
	r := hkdf.New(sha256.New, secret, nil, []byte("taste-of-weather session cookie"))
	hashKey = make([]byte, 64)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive cookie hash key: %w", err)
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive cookie block key: %w", err)
	}
	return hashKey, blockKey, nil
}

// Load returns the visitor's session, creating one (and setting the cookie)
// when the request has none or the old one expired.
func (s *Store) Load(w http.ResponseWriter, r *http.Request) (*flow.Session, error) {
	// A cookie that fails to verify (rotated secret) still yields a fresh
	// session rather than an error.
	cs, err := s.cookies.Get(r, CookieName)
	if err != nil {
		s.log.Debug().Err(err).Msg("discarding unreadable session cookie")
	}

	if id, ok := cs.Values[idKey].(string); ok && id != "" {
		if sess, found := s.cache.Get(id); found {
			sess.Touch(s.now())
			return sess, nil
		}
	}

	id := uuid.New().String()
	sess := flow.NewSession(id)
	sess.Touch(s.now())
	s.cache.Add(id, sess)

	cs.Values[idKey] = id
	if err := cs.Save(r, w); err != nil {
		return nil, fmt.Errorf("save session cookie: %w", err)
	}
	s.log.Info().Str("session_id", id).Msg("new visitor session")
	return sess, nil
}

// Get looks up a session by ID without touching cookies.
func (s *Store) Get(id string) (*flow.Session, bool) {
	return s.cache.Peek(id)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// PurgeIdle removes sessions idle for longer than the TTL and returns how many went.
func (s *Store) PurgeIdle() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for _, id := range s.cache.Keys() {
		sess, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		if sess.LastSeen().Before(cutoff) {
			s.cache.Remove(id)
			removed++
		}
	}
	return removed
}

// Start schedules the idle-session janitor.
func (s *Store) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.sweep, func() {
		if n := s.PurgeIdle(); n > 0 {
			s.log.Info().Int("removed", n).Int("remaining", s.cache.Len()).Msg("purged idle sessions")
		}
	}); err != nil {
		return fmt.Errorf("schedule session janitor %q: %w", s.sweep, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the janitor and waits for a running sweep to finish.
func (s *Store) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
