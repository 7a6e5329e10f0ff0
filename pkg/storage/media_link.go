package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const mediaLinkAudience = "media"

var (
	// ErrLinkInvalid reports a malformed or forged media link.
	ErrLinkInvalid = errors.New("invalid media link")
	// ErrLinkExpired reports a media link past its expiry.
	ErrLinkExpired = errors.New("media link expired")
)

// MediaLink is what a signed download token grants access to.
type MediaLink struct {
	MediaID   string
	Path      string
	ExpiresAt time.Time
}

type mediaLinkClaims struct {
	Path string `json:"p"`
	jwt.RegisteredClaims
}

// MediaLinkSigner issues short lived tokens that name one stored file, so
// uploads can be served without an Authorization header.
type MediaLinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewMediaLinkSigner returns a signer. A non-positive ttl means one day.
func NewMediaLinkSigner(secret string, ttl time.Duration) *MediaLinkSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MediaLinkSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a token for the media record stored at path.
func (s *MediaLinkSigner) Sign(mediaID, path string) (string, time.Time, error) {
	if mediaID == "" || path == "" {
		return "", time.Time{}, fmt.Errorf("%w: media id and path are required", ErrLinkInvalid)
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("media link secret is not configured")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	claims := mediaLinkClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   mediaID,
			Audience:  jwt.ClaimStrings{mediaLinkAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks the signature and expiry of a token.
func (s *MediaLinkSigner) Verify(token string) (MediaLink, error) {
	claims := &mediaLinkClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(mediaLinkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return MediaLink{}, ErrLinkExpired
	case err != nil:
		return MediaLink{}, fmt.Errorf("%w: %v", ErrLinkInvalid, err)
	case claims.Subject == "" || claims.Path == "":
		return MediaLink{}, ErrLinkInvalid
	}
	return MediaLink{MediaID: claims.Subject, Path: claims.Path, ExpiresAt: claims.ExpiresAt.Time}, nil
}
