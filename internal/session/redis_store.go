package session

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session values in redis. The cookie only carries the
// signed and encrypted session id.
type RedisStore struct {
	Codecs  []securecookie.Codec
	Options *sessions.Options

	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using client. keyPairs follow the
// sessions.NewCookieStore convention.
func NewRedisStore(client redis.UniversalClient, prefix string, keyPairs ...[]byte) *RedisStore {
	return &RedisStore{
		Codecs: securecookie.CodecsFromPairs(keyPairs...),
		Options: &sessions.Options{
			Path:   "/",
			MaxAge: 86400 * 30,
		},
		client: client,
		prefix: prefix,
	}
}

// MaxAge sets the lifetime of new sessions and of the cookie signatures
func (s *RedisStore) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// Get returns the session cached in the request registry, loading it once
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie, or returns a new one
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.Codecs...); err != nil {
		return session, err
	}

	found, err := s.load(r.Context(), session)
	if err != nil {
		return session, err
	}
	session.IsNew = !found
	return session, nil
}

// Save writes the values to redis and refreshes the cookie. A negative
// MaxAge deletes both.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()

	if session.Options.MaxAge <= 0 {
		if session.ID != "" {
			if err := s.client.Del(ctx, s.key(session.ID)).Err(); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
	}

	if err := s.store(ctx, session); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("failed to encode session id: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) store(ctx context.Context, session *sessions.Session) error {
	values := make(map[string]string, len(session.Values))
	for k, v := range session.Values {
		ks, ok := k.(string)
		if !ok {
			return fmt.Errorf("session key %v is not a string", k)
		}
		vs, ok := v.(string)
		if !ok {
			return fmt.Errorf("session value %q is not a string", ks)
		}
		values[ks] = vs
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if err := s.client.Set(ctx, s.key(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, session *sessions.Session) (bool, error) {
	data, err := s.client.Get(ctx, s.key(session.ID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return false, fmt.Errorf("failed to decode session: %w", err)
	}
	for k, v := range values {
		session.Values[k] = v
	}
	return true, nil
}

var _ sessions.Store = (*RedisStore)(nil)
