package domain

import (
	"strings"
	"time"
)

// Identity describe quien envia un turno de chat.
type Identity struct {
	UserID   string
	GuestID  string
	Email    string
	Verified bool
}

// Key es la clave estable usada por rate limiting y uso.
func (i Identity) Key() string {
	if id := strings.TrimSpace(i.UserID); id != "" {
		return "user:" + id
	}
	if id := strings.TrimSpace(i.GuestID); id != "" {
		return "guest:" + id
	}
	return "anon"
}

// RateLimitKey es Key, salvo para llamadas anonimas: esas se separan por IP
// del cliente para no compartir un unico cupo global.
func (i Identity) RateLimitKey(clientIP string) string {
	key := i.Key()
	if ip := strings.TrimSpace(clientIP); key == "anon" && ip != "" {
		return "ip:" + ip
	}
	return key
}

func (i Identity) IsGuest() bool {
	return strings.TrimSpace(i.UserID) == ""
}

type Usage struct {
	UserID         string    `json:"user_id,omitempty"`
	GuestID        string    `json:"guest_id,omitempty"`
	Plan           Plan      `json:"plan"`
	MessagesUsed   int       `json:"messages_used"`
	DeepsearchUsed int       `json:"deepsearch_used"`
	LastReset      time.Time `json:"last_reset"`
}

type PlanLimits struct {
	MessagesPerDay   int `json:"messages_per_day"`
	DeepsearchPerDay int `json:"deepsearch_per_day"`
}

const UsageWindow = 24 * time.Hour

var planLimits = map[Plan]PlanLimits{
	PlanGuest: {MessagesPerDay: 5, DeepsearchPerDay: 1},
	PlanFree:  {MessagesPerDay: 100, DeepsearchPerDay: 10},
	PlanPro:   {MessagesPerDay: 2000, DeepsearchPerDay: 9999},
}

// LimitsFor devuelve los limites del plan; planes desconocidos caen a guest.
func LimitsFor(p Plan) PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanGuest]
}

// NeedsReset indica si la ventana diaria ya vencio.
func (u Usage) NeedsReset(now time.Time) bool {
	if u.LastReset.IsZero() {
		return true
	}
	return now.Sub(u.LastReset) >= UsageWindow
}
