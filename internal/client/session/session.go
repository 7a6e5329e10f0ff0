// Package session holds the signed-in identity of the command line client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/client/api"
	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

// Config wires a Store.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Persister  Persister
	// Revalidate makes Restore confirm a stored token with /auth/me.
	Revalidate bool
	Logger     *zap.Logger
}

// Store is the single owner of the current session. It is the token source
// of the transport it exposes through Client.
type Store struct {
	mu      sync.RWMutex
	current *models.Session

	client     *api.Client
	persister  Persister
	revalidate bool
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a Store and its authenticated transport.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Persister == nil {
		cfg.Persister = &MemoryPersister{}
	}
	s := &Store{
		persister:  cfg.Persister,
		revalidate: cfg.Revalidate,
		logger:     cfg.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.client = api.New(cfg.BaseURL, s,
		api.WithHTTPClient(cfg.HTTPClient),
		api.WithTimeout(cfg.Timeout),
		api.WithLogger(cfg.Logger),
	)
	return s
}

// Client returns the transport bound to this session.
func (s *Store) Client() *api.Client {
	return s.client
}

// Token implements api.TokenSource.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.Token == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthenticated, "not signed in")
	}
	return s.current.Token, nil
}

// Current returns a copy of the session, or nil when signed out.
func (s *Store) Current() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginReply covers the service reply as well as the legacy shapes, which
// used "token" and kept the role either at the top level or on the user.
type loginReply struct {
	AccessToken string         `json:"access_token"`
	Token       string         `json:"token"`
	Role        string         `json:"role"`
	User        profile        `json:"user"`
	IssuedAt    api.FlexTime   `json:"issued_at"`
	UserID      api.FlexString `json:"user_id"`
}

type profile struct {
	ID        api.FlexString `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Role      string         `json:"role"`
	IsAdmin   bool           `json:"is_admin"`
}

func (p profile) displayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

func (p profile) role(fallback string) models.UserRole {
	for _, raw := range []string{fallback, p.Role} {
		if role, ok := models.ParseRole(raw); ok {
			return role
		}
	}
	if p.IsAdmin {
		return models.RoleAdmin
	}
	return models.RoleCitizen
}

// Login authenticates and adopts the new session. Any failure leaves the
// previous session untouched.
func (s *Store) Login(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email and password are required")
	}

	res, err := s.client.DoPublic(ctx, http.MethodPost, "/auth/login", loginPayload{Email: email, Password: password})
	if err != nil {
		return nil, asAuthError(err)
	}
	var reply loginReply
	if err := json.Unmarshal(res.Data, &reply); err != nil {
		return nil, appErrors.Fetch(res.Status, "unexpected login response", err)
	}
	token := reply.AccessToken
	if token == "" {
		token = reply.Token
	}
	if token == "" {
		return nil, appErrors.Fetch(res.Status, "login response carried no token", nil)
	}

	userID := string(reply.User.ID)
	if userID == "" {
		userID = string(reply.UserID)
	}
	issued := reply.IssuedAt.Time
	if issued.IsZero() {
		issued = s.now()
	}
	if reply.User.Email == "" {
		reply.User.Email = email
	}
	sess := &models.Session{
		UserID:      userID,
		Role:        reply.User.role(reply.Role),
		Token:       token,
		DisplayName: reply.User.displayName(),
		Email:       reply.User.Email,
		IssuedAt:    issued,
	}

	if err := s.persister.Save(sess); err != nil {
		s.logger.Warn("failed to persist session", zap.Error(err))
	}
	s.set(sess)
	s.logger.Info("signed in", zap.String("user_id", sess.UserID), zap.String("role", string(sess.Role)))
	return s.Current(), nil
}

// Restore reloads the persisted session. A missing session, or one the
// service no longer accepts, yields nil without error.
func (s *Store) Restore(ctx context.Context) (*models.Session, error) {
	stored, err := s.persister.Load()
	if err != nil {
		s.logger.Warn("stored session unreadable", zap.Error(err))
		s.Logout(ctx)
		return nil, nil
	}
	if stored == nil || stored.Token == "" {
		return nil, nil
	}

	if s.revalidate {
		res, err := s.client.DoAs(ctx, http.MethodGet, "/auth/me", stored.Token, nil)
		if err != nil {
			s.logger.Info("stored session rejected", zap.Error(err))
			s.Logout(ctx)
			return nil, nil
		}
		var me profile
		if err := json.Unmarshal(res.Data, &me); err != nil {
			s.logger.Info("stored session profile unreadable", zap.Error(err))
			s.Logout(ctx)
			return nil, nil
		}
		if id := string(me.ID); id != "" {
			stored.UserID = id
		}
		stored.Role = me.role(string(stored.Role))
		if me.Email != "" {
			stored.Email = me.Email
			stored.DisplayName = me.displayName()
		}
		if err := s.persister.Save(stored); err != nil {
			s.logger.Warn("failed to persist session", zap.Error(err))
		}
	}

	s.set(stored)
	return s.Current(), nil
}

// Logout revokes the token on the service when possible and always clears
// local state.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil && current.Token != "" {
		if _, err := s.client.DoAs(ctx, http.MethodPost, "/auth/logout", current.Token, nil); err != nil {
			s.logger.Debug("remote logout failed", zap.Error(err))
		}
	}
	if err := s.persister.Clear(); err != nil {
		s.logger.Warn("failed to clear stored session", zap.Error(err))
	}
}

func (s *Store) set(sess *models.Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

func asAuthError(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && (appErr.Status == http.StatusUnauthorized || appErr.Status == http.StatusForbidden) {
		return appErrors.Wrap(err, appErrors.ErrAuth.Code, appErr.Status, appErr.Message)
	}
	return err
}
