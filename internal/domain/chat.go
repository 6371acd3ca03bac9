package domain

import (
	"encoding/json"
	"strings"
)

// DomainMode selecciona el webhook upstream que atiende un turno de chat.
type DomainMode string

const (
	DomainModeBicycle DomainMode = "bicycle"
	DomainModeAuto    DomainMode = "auto"
	DomainModeMoto    DomainMode = "moto"
	DomainModeTech    DomainMode = "tech"
)

// DefaultDomainMode se usa cuando el valor recibido no es reconocido.
const DefaultDomainMode = DomainModeTech

// DomainModes lista los modos validos en orden estable.
var DomainModes = []DomainMode{DomainModeBicycle, DomainModeAuto, DomainModeMoto, DomainModeTech}

// NormalizeDomainMode recorta, pasa a minusculas y mapea al conjunto cerrado.
func NormalizeDomainMode(v string) DomainMode {
	switch mode := DomainMode(strings.ToLower(strings.TrimSpace(v))); mode {
	case DomainModeBicycle, DomainModeAuto, DomainModeMoto, DomainModeTech:
		return mode
	default:
		return DefaultDomainMode
	}
}

// NormalizeRawDomainMode acepta cualquier valor JSON; solo los strings pueden
// mapear a un modo distinto del default.
func NormalizeRawDomainMode(raw json.RawMessage) DomainMode {
	if len(raw) == 0 {
		return DefaultDomainMode
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultDomainMode
	}
	return NormalizeDomainMode(s)
}

type Plan string

const (
	PlanGuest Plan = "guest"
	PlanFree  Plan = "free"
	PlanPro   Plan = "pro"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanGuest, PlanFree, PlanPro:
		return true
	}
	return false
}

type DeepsearchMode string

const (
	DeepsearchAuto DeepsearchMode = "auto"
	DeepsearchOn   DeepsearchMode = "on"
	DeepsearchOff  DeepsearchMode = "off"
)

// ChatRequest es el cuerpo validado de un turno de chat. Se serializa tal cual
// hacia el upstream, con DomainMode ya normalizado.
type ChatRequest struct {
	Message    string         `json:"message"`
	SessionID  string         `json:"session_id,omitempty"`
	Lang       string         `json:"lang,omitempty"`
	Deepsearch DeepsearchMode `json:"deepsearch,omitempty"`
	UserPlan   Plan           `json:"user_plan"`
	UserID     string         `json:"user_id,omitempty"`
	GuestID    string         `json:"guest_id,omitempty"`
	DomainMode DomainMode     `json:"domainMode"`

	// Campos legacy: se aceptan y se reenvian, pero el relay no los usa.
	ConversationID string            `json:"conversationId,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Messages       []json.RawMessage `json:"messages,omitempty"`
	IsGuest        *bool             `json:"is_guest,omitempty"`
	UserIDRaw      string            `json:"user_id_raw,omitempty"`
}

// UpstreamTarget es el endpoint resuelto para un modo junto con su secreto.
type UpstreamTarget struct {
	Mode       DomainMode
	URL        string
	AuthSecret string
}

// UsesBasicAuth indica si el secreto tiene forma usuario:password.
func (t UpstreamTarget) UsesBasicAuth() bool {
	return strings.Contains(t.AuthSecret, ":")
}
