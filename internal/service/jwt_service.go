package service

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"cariusb-relay/internal/domain"
)

// JWTService valida access tokens emitidos por Supabase (HS256).
type JWTService struct {
	secret []byte
}

// Claims son los campos del access token de Supabase que usa el relay.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

// NewJWTService devuelve nil si no hay secreto; un servicio nil ignora tokens.
func NewJWTService(secret string) *JWTService {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &JWTService{secret: []byte(secret)}
}

func (s *JWTService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

func (s *JWTService) ParseAccessToken(accessToken string) (Claims, error) {
	if !s.Enabled() {
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(accessToken) == "" {
		return Claims{}, ErrJWTInvalid
	}
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	_, err := parser.ParseWithClaims(accessToken, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Role == "anon" {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

// ResolveIdentity determina quien envia el turno. Sin header (o sin secreto
// configurado) se usan los ids del cuerpo; un token presente pero invalido es
// un invalid_request.
func (s *JWTService) ResolveIdentity(authorization string, req domain.ChatRequest) (domain.Identity, error) {
	fromBody := domain.Identity{UserID: strings.TrimSpace(req.UserID), GuestID: strings.TrimSpace(req.GuestID)}
	token, ok := BearerToken(authorization)
	if !ok || !s.Enabled() {
		return fromBody, nil
	}
	claims, err := s.ParseAccessToken(token)
	if err != nil {
		return domain.Identity{}, newError(domain.CodeInvalidRequest, ErrInvalidToken.Error(), errors.Join(ErrInvalidToken, err))
	}
	return IdentityFromClaims(claims, fromBody.GuestID), nil
}

func IdentityFromClaims(claims Claims, guestID string) domain.Identity {
	return domain.Identity{
		UserID:   claims.Subject,
		GuestID:  guestID,
		Email:    strings.ToLower(strings.TrimSpace(claims.Email)),
		Verified: true,
	}
}

// BearerToken extrae el token de un header Authorization.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("bearer "):])
	return token, token != ""
}
