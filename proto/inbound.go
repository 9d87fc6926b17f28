package proto

import (
	"encoding/json"
	"fmt"
)

// Level is the severity a notification is shown at.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Normalize maps empty or unrecognized levels to info.
func (l Level) Normalize() Level {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelDanger:
		return l
	default:
		return LevelInfo
	}
}

// Entity names the record kind an update frame refers to.
type Entity string

const (
	EntityPatient     Entity = "patient"
	EntityAppointment Entity = "appointment"
	EntityMedication  Entity = "medication"
)

// Inbound is implemented by every decoded server frame.
type Inbound interface {
	MessageType() string
}

type Notification struct {
	Content string `json:"content"`
	Level   Level  `json:"level,omitempty"`
}

type Alert struct {
	Content string `json:"content"`
}

type Update struct {
	Entity Entity          `json:"entity"`
	Data   json.RawMessage `json:"data"`
}

type DeliveryStatus struct {
	DeliveryID string `json:"deliveryId"`
	Status     string `json:"status"`
	Location   string `json:"location"`
}

type AppointmentReminder struct {
	AppointmentType string `json:"appointmentType"`
	Doctor          string `json:"doctor"`
	Time            string `json:"time"`
}

type MedicationReminder struct {
	Medication string `json:"medication"`
}

type HealthData struct {
	DataType string          `json:"dataType"`
	Data     json.RawMessage `json:"data"`
}

// Unknown holds a frame whose type tag is not recognized.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Notification) MessageType() string        { return TypeNotification }
func (Alert) MessageType() string               { return TypeAlert }
func (Update) MessageType() string              { return TypeUpdate }
func (DeliveryStatus) MessageType() string      { return TypeDeliveryStatus }
func (AppointmentReminder) MessageType() string { return TypeAppointmentReminder }
func (MedicationReminder) MessageType() string  { return TypeMedicationReminder }
func (HealthData) MessageType() string          { return TypeHealthData }
func (u Unknown) MessageType() string           { return u.Type }

// Decode parses a raw text frame into its typed variant. Frames with an
// unrecognized type decode to Unknown without error.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch env.Type {
	case TypeNotification:
		return decodeAs[Notification](data)
	case TypeAlert:
		return decodeAs[Alert](data)
	case TypeUpdate:
		return decodeAs[Update](data)
	case TypeDeliveryStatus:
		return decodeAs[DeliveryStatus](data)
	case TypeAppointmentReminder:
		return decodeAs[AppointmentReminder](data)
	case TypeMedicationReminder:
		return decodeAs[MedicationReminder](data)
	case TypeHealthData:
		return decodeAs[HealthData](data)
	default:
		return Unknown{Type: env.Type, Raw: json.RawMessage(data)}, nil
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", msg.MessageType(), err)
	}
	return msg, nil
}
