package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type tags carried in the "type" field of every frame.
const (
	TypeNotification        = "notification"
	TypeAlert               = "alert"
	TypeUpdate              = "update"
	TypeDeliveryStatus      = "delivery_status"
	TypeAppointmentReminder = "appointment_reminder"
	TypeMedicationReminder  = "medication_reminder"
	TypeHealthData          = "health_data"

	TypeAuthenticate = "authenticate"
)

// GuestToken is sent in the authenticate frame when no credential is stored.
const GuestToken = "guest"

var ErrMissingType = errors.New("outbound message has no type")

// Envelope is the part shared by every frame on the wire.
type Envelope struct {
	Type string `json:"type"`
}

// Outbound is a free-form frame built by UI code. It must carry "type".
type Outbound map[string]any

func (o Outbound) Type() string {
	t, _ := o["type"].(string)
	return t
}

type Authenticate struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func NewAuthenticate(token string) Authenticate {
	if token == "" {
		token = GuestToken
	}
	return Authenticate{Type: TypeAuthenticate, Token: token}
}

// Encode serializes any outbound value and checks that it names a type.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message is not a JSON object: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return data, nil
}
