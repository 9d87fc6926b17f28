package client

import (
	"encoding/json"
	"fmt"

	"github.com/mbocsi/carelink/proto"
)

// Cue is an audible signal requested by a message handler.
type Cue string

const (
	CueAlert    Cue = "alert"
	CueReminder Cue = "reminder"
)

// UI receives every side effect of an inbound message or a connection
// state change.
type UI interface {
	Notify(level proto.Level, text string)
	IncrementUnread()
	PlayCue(cue Cue)

	RefreshPatients(data json.RawMessage)
	RefreshAppointments(data json.RawMessage)
	RefreshMedications(data json.RawMessage)

	UpdateDelivery(id, status, location string)
	ShowHealthData(dataType string, data json.RawMessage)
}

// MultiUI fans every call out to each UI in order.
type MultiUI []UI

func (m MultiUI) Notify(level proto.Level, text string) {
	for _, ui := range m {
		ui.Notify(level, text)
	}
}

func (m MultiUI) IncrementUnread() {
	for _, ui := range m {
		ui.IncrementUnread()
	}
}

func (m MultiUI) PlayCue(cue Cue) {
	for _, ui := range m {
		ui.PlayCue(cue)
	}
}

func (m MultiUI) RefreshPatients(data json.RawMessage) {
	for _, ui := range m {
		ui.RefreshPatients(data)
	}
}

func (m MultiUI) RefreshAppointments(data json.RawMessage) {
	for _, ui := range m {
		ui.RefreshAppointments(data)
	}
}

func (m MultiUI) RefreshMedications(data json.RawMessage) {
	for _, ui := range m {
		ui.RefreshMedications(data)
	}
}

func (m MultiUI) UpdateDelivery(id, status, location string) {
	for _, ui := range m {
		ui.UpdateDelivery(id, status, location)
	}
}

func (m MultiUI) ShowHealthData(dataType string, data json.RawMessage) {
	for _, ui := range m {
		ui.ShowHealthData(dataType, data)
	}
}

func (c *Client) dispatch(msg proto.Inbound) {
	c.logger.Debug("Message Received", "type", msg.MessageType())

	switch m := msg.(type) {
	case proto.Notification:
		c.ui.Notify(m.Level.Normalize(), m.Content)
		c.ui.IncrementUnread()

	case proto.Alert:
		c.ui.Notify(proto.LevelDanger, m.Content)
		c.ui.PlayCue(CueAlert)

	case proto.Update:
		c.dispatchUpdate(m)

	case proto.DeliveryStatus:
		c.ui.UpdateDelivery(m.DeliveryID, m.Status, m.Location)
		c.ui.Notify(proto.LevelInfo, fmt.Sprintf("Delivery %s is %s (%s)", m.DeliveryID, m.Status, m.Location))

	case proto.AppointmentReminder:
		c.ui.Notify(proto.LevelInfo, fmt.Sprintf("Appointment reminder: %s with %s at %s", m.AppointmentType, m.Doctor, m.Time))
		c.ui.PlayCue(CueReminder)

	case proto.MedicationReminder:
		c.ui.Notify(proto.LevelInfo, fmt.Sprintf("Medication reminder: time to take %s", m.Medication))
		c.ui.PlayCue(CueReminder)

	case proto.HealthData:
		c.ui.ShowHealthData(m.DataType, m.Data)

	default:
		c.logger.Warn("Unhandled message", "type", msg.MessageType())
	}
}

func (c *Client) dispatchUpdate(m proto.Update) {
	switch m.Entity {
	case proto.EntityPatient:
		c.ui.RefreshPatients(m.Data)
	case proto.EntityAppointment:
		c.ui.RefreshAppointments(m.Data)
	case proto.EntityMedication:
		c.ui.RefreshMedications(m.Data)
	default:
		c.logger.Warn("Unhandled update entity", "entity", m.Entity)
	}
}
