package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IntakeRequest is the payload for POST /create-checkout. The web app converts height and
// weight to centimetres and kilograms before sending. The tags hold the widest bounds of both
// unit systems; the struct-level rule narrows them per units_preference.
type IntakeRequest struct {
	TelegramID      LooseString `json:"telegram_id,omitempty"`
	Age             LooseFloat  `json:"age" validate:"required,gte=18,lte=120"`
	Gender          string      `json:"gender" validate:"required,max=32"`
	Height          LooseFloat  `json:"height" validate:"required,gte=91,lte=259"` // cm
	Weight          LooseFloat  `json:"weight" validate:"required,gte=29,lte=300"` // kg
	UnitsPreference string      `json:"units_preference" validate:"omitempty,oneof=metric imperial"`
	WaiversAccepted LooseBool   `json:"waivers_accepted"`
}

// PollRequest is the payload for POST /process-payment. camelCase keys are accepted too.
type PollRequest struct {
	SessionID  string      `json:"session_id" validate:"required"`
	TelegramID LooseString `json:"telegram_id"`
}

func (p *PollRequest) UnmarshalJSON(b []byte) error {
	var aux struct {
		SessionID      string      `json:"session_id"`
		SessionIDCamel string      `json:"sessionId"`
		TelegramID     LooseString `json:"telegram_id"`
		UserID         LooseString `json:"userId"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.SessionID = firstNonEmpty(aux.SessionID, aux.SessionIDCamel)
	p.TelegramID = LooseString(firstNonEmpty(string(aux.TelegramID), string(aux.UserID)))
	return nil
}

// UploadResultRequest is the payload for POST /admin/upload-result.
type UploadResultRequest struct {
	TelegramID LooseString `json:"telegram_id" validate:"required,numeric"`
	ResultURL  string      `json:"result_url" validate:"required,url"`
}

func (u *UploadResultRequest) UnmarshalJSON(b []byte) error {
	var aux struct {
		TelegramID      LooseString `json:"telegram_id"`
		TelegramIDCamel LooseString `json:"telegramId"`
		ResultURL       string      `json:"result_url"`
		ResultURLCamel  string      `json:"resultUrl"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	u.TelegramID = LooseString(firstNonEmpty(string(aux.TelegramID), string(aux.TelegramIDCamel)))
	u.ResultURL = firstNonEmpty(aux.ResultURL, aux.ResultURLCamel)
	return nil
}

// ResendRequest is the payload for POST /admin/resend-confirmation.
type ResendRequest struct {
	TelegramID LooseString `json:"telegram_id" validate:"required,numeric"`
}

// LooseString accepts a JSON string or number (Telegram ids arrive as both).
type LooseString string

func (s *LooseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = LooseString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*s = LooseString(n.String())
	return nil
}

// LooseFloat accepts a JSON number or a numeric string.
type LooseFloat float64

func (f *LooseFloat) UnmarshalJSON(b []byte) error {
	var s LooseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return fmt.Errorf("expected number: %w", err)
	}
	*f = LooseFloat(v)
	return nil
}

// LooseBool accepts true/false or their string forms.
type LooseBool bool

func (v *LooseBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("expected boolean: %w", err)
	}
	*v = LooseBool(parsed)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
