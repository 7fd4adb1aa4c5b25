package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

const actorKey = "actor"

// Claims is the bearer token payload. Subject carries the member id.
type Claims struct {
	ChapterID string     `json:"chapter_id"`
	Role      model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Issue signs a token for actor, valid for ttl. Used by the CLI and tests;
// production tokens come from the membership service with the same secret.
func (v *Verifier) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ChapterID: actor.ChapterID,
		Role:      actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.MemberID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse validates token and returns the actor it names.
func (v *Verifier) Parse(token string) (model.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return model.Actor{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return model.Actor{}, fmt.Errorf("token subject %q is not a member id", claims.Subject)
	}
	role := claims.Role
	switch role {
	case model.RoleMember, model.RoleOrganizer, model.RoleAdmin:
	case "":
		role = model.RoleMember
	default:
		return model.Actor{}, fmt.Errorf("unknown role %q", role)
	}
	return model.Actor{MemberID: id, ChapterID: claims.ChapterID, Role: role}, nil
}

// Required rejects requests without a valid bearer token.
func (v *Verifier) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		v.authenticate(c, header)
	}
}

// Optional lets anonymous requests through as a guest actor but still
// rejects a bad token.
func (v *Verifier) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(actorKey, model.Actor{})
			c.Next()
			return
		}
		v.authenticate(c, header)
	}
}

func (v *Verifier) authenticate(c *gin.Context, header string) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token format"})
		return
	}
	actor, err := v.Parse(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
		return
	}
	c.Set(actorKey, actor)
	c.Next()
}

// ActorFrom returns the actor stored by the middleware, or a guest.
func ActorFrom(c *gin.Context) model.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(model.Actor); ok {
			return a
		}
	}
	return model.Actor{}
}
