package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/service"
)

const identityKey = "identity"

// IdentityMiddleware resuelve la identidad de un endpoint JSON: bearer token
// de Supabase si viene, si no el guest_id del query string.
func IdentityMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		guestID := strings.TrimSpace(c.Query("guest_id"))
		if token, ok := service.BearerToken(c.GetHeader("Authorization")); ok && jwtSvc.Enabled() {
			claims, err := jwtSvc.ParseAccessToken(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				c.Abort()
				return
			}
			c.Set(identityKey, service.IdentityFromClaims(claims, guestID))
			c.Next()
			return
		}

		if guestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "guest_id or bearer token required"})
			c.Abort()
			return
		}
		c.Set(identityKey, domain.Identity{GuestID: guestID})
		c.Next()
	}
}

// GetIdentity obtiene la identidad resuelta desde el contexto.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := val.(domain.Identity)
	return id, ok
}
