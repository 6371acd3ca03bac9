package service

import (
	"bytes"
	"encoding/json"

	"github.com/gin-gonic/gin/binding"

	"cariusb-relay/internal/domain"
)

const (
	reasonParse      = "Failed to parse request body"
	reasonNotObject  = "Invalid request body"
	reasonValidation = "Request body validation failed"
)

// chatRequestBody refleja el cuerpo recibido; domainMode acepta cualquier
// valor JSON y se normaliza despues.
type chatRequestBody struct {
	Message    string          `json:"message" binding:"required"`
	SessionID  string          `json:"session_id"`
	Lang       string          `json:"lang"`
	// Puntero: omitempty solo salta el campo ausente, "" presente se rechaza.
	Deepsearch *string         `json:"deepsearch" binding:"omitempty,oneof=auto on off"`
	UserPlan   string          `json:"user_plan" binding:"required,oneof=guest free pro"`
	UserID     string          `json:"user_id"`
	GuestID    string          `json:"guest_id"`
	DomainMode json.RawMessage `json:"domainMode"`

	ConversationID string            `json:"conversationId"`
	Mode           string            `json:"mode"`
	Messages       []json.RawMessage `json:"messages"`
	IsGuest        *bool             `json:"is_guest"`
	UserIDRaw      string            `json:"user_id_raw"`
}

// Los campos opcionales pueden faltar pero no venir en null.
var nonNullableFields = []string{
	"message", "session_id", "lang", "deepsearch", "user_plan", "user_id", "guest_id",
	"conversationId", "mode", "messages", "is_guest", "user_id_raw",
}

// ValidateChatRequest convierte el cuerpo crudo en un ChatRequest valido o
// devuelve un *Error con codigo invalid_request. Es todo o nada.
func ValidateChatRequest(raw []byte) (domain.ChatRequest, error) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.ChatRequest{}, newError(domain.CodeInvalidRequest, reasonParse, err)
	}
	fields, ok := probe.(map[string]any)
	if !ok {
		return domain.ChatRequest{}, newError(domain.CodeInvalidRequest, reasonNotObject, nil)
	}
	for _, name := range nonNullableFields {
		if v, present := fields[name]; present && v == nil {
			return domain.ChatRequest{}, newError(domain.CodeInvalidRequest, reasonValidation, nil)
		}
	}

	var body chatRequestBody
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&body); err != nil {
		return domain.ChatRequest{}, newError(domain.CodeInvalidRequest, reasonValidation, err)
	}
	if err := binding.Validator.ValidateStruct(&body); err != nil {
		return domain.ChatRequest{}, newError(domain.CodeInvalidRequest, reasonValidation, err)
	}

	var deepsearch domain.DeepsearchMode
	if body.Deepsearch != nil {
		deepsearch = domain.DeepsearchMode(*body.Deepsearch)
	}

	return domain.ChatRequest{
		Message:        body.Message,
		SessionID:      body.SessionID,
		Lang:           body.Lang,
		Deepsearch:     deepsearch,
		UserPlan:       domain.Plan(body.UserPlan),
		UserID:         body.UserID,
		GuestID:        body.GuestID,
		DomainMode:     domain.NormalizeRawDomainMode(body.DomainMode),
		ConversationID: body.ConversationID,
		Mode:           body.Mode,
		Messages:       body.Messages,
		IsGuest:        body.IsGuest,
		UserIDRaw:      body.UserIDRaw,
	}, nil
}
