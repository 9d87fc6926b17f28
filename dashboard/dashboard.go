// Package dashboard keeps the state a realtime session has produced
// (notifications, deliveries, health readings, entity refreshes) and serves
// it as a JSON API.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/carelink/api"
	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/proto"
)

const maxNotifications = 200

type Notification struct {
	ID    string      `json:"id"`
	Level proto.Level `json:"level"`
	Text  string      `json:"text"`
	Time  time.Time   `json:"time"`
	Read  bool        `json:"read"`
}

type Delivery struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Location  string    `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}

type HealthReading struct {
	DataType  string          `json:"data_type"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type EntityView struct {
	Entity      proto.Entity      `json:"entity"`
	LastUpdate  json.RawMessage   `json:"last_update,omitempty"`
	Items       []json.RawMessage `json:"items,omitempty"`
	Refreshes   int               `json:"refreshes"`
	RefreshedAt time.Time         `json:"refreshed_at"`
	Error       string            `json:"error,omitempty"`

	loaded int // Refreshes value of the newest reload applied
}

// Dashboard is the in-memory UI a realtime client reports to.
type Dashboard struct {
	backend api.BackendAPI // optional
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.RWMutex
	notifications []Notification // oldest first
	unread        int
	cues          map[client.Cue]int
	deliveries    map[string]Delivery
	health        map[string]HealthReading
	entities      map[proto.Entity]*EntityView

	subMu sync.Mutex
	subs  map[chan Notification]struct{}
}

var _ client.UI = (*Dashboard)(nil)

func New(backend api.BackendAPI, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{
		backend:    backend,
		logger:     logger,
		now:        time.Now,
		cues:       make(map[client.Cue]int),
		deliveries: make(map[string]Delivery),
		health:     make(map[string]HealthReading),
		entities:   make(map[proto.Entity]*EntityView),
		subs:       make(map[chan Notification]struct{}),
	}
}

func (d *Dashboard) Notify(level proto.Level, text string) {
	n := Notification{
		ID:    uuid.NewString(),
		Level: level,
		Text:  text,
		Time:  d.now(),
	}

	d.mu.Lock()
	d.notifications = append(d.notifications, n)
	if len(d.notifications) > maxNotifications {
		d.notifications = d.notifications[len(d.notifications)-maxNotifications:]
	}
	d.mu.Unlock()

	d.publish(n)
}

func (d *Dashboard) IncrementUnread() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unread++
}

func (d *Dashboard) PlayCue(cue client.Cue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cues[cue]++
}

func (d *Dashboard) RefreshPatients(data json.RawMessage) {
	d.refresh(proto.EntityPatient, data)
}

func (d *Dashboard) RefreshAppointments(data json.RawMessage) {
	d.refresh(proto.EntityAppointment, data)
}

func (d *Dashboard) RefreshMedications(data json.RawMessage) {
	d.refresh(proto.EntityMedication, data)
}

func (d *Dashboard) refresh(entity proto.Entity, data json.RawMessage) {
	d.mu.Lock()
	view, ok := d.entities[entity]
	if !ok {
		view = &EntityView{Entity: entity}
		d.entities[entity] = view
	}
	view.LastUpdate = data
	view.Refreshes++
	view.RefreshedAt = d.now()
	seq := view.Refreshes
	d.mu.Unlock()

	if d.backend == nil {
		return
	}
	// Called from the client's reader; the fetch must not block it.
	go d.reload(entity, seq)
}

// reload fetches the list for entity. Reloads can finish out of order; a
// result older than one already applied is dropped.
func (d *Dashboard) reload(entity proto.Entity, seq int) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var (
		items []json.RawMessage
		err   error
	)
	switch entity {
	case proto.EntityPatient:
		items, err = d.backend.ListPatients(ctx)
	case proto.EntityAppointment:
		items, err = d.backend.ListAppointments(ctx)
	case proto.EntityMedication:
		items, err = d.backend.ListMedications(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	view := d.entities[entity]
	if seq < view.loaded {
		d.logger.Debug("Dropping stale entity reload", "entity", entity, "seq", seq, "loaded", view.loaded)
		return
	}
	view.loaded = seq
	if err != nil {
		d.logger.Warn("Failed to reload entity list", "entity", entity, "error", err)
		view.Error = err.Error()
		return
	}
	view.Items = items
	view.Error = ""
}

func (d *Dashboard) UpdateDelivery(id, status, location string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries[id] = Delivery{ID: id, Status: status, Location: location, UpdatedAt: d.now()}
}

func (d *Dashboard) ShowHealthData(dataType string, data json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health[dataType] = HealthReading{DataType: dataType, Data: data, UpdatedAt: d.now()}
}

// Notifications returns the history, newest first.
func (d *Dashboard) Notifications() []Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Notification, len(d.notifications))
	for i, n := range d.notifications {
		out[len(out)-1-i] = n
	}
	return out
}

func (d *Dashboard) Unread() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unread
}

func (d *Dashboard) MarkAllRead() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unread = 0
	for i := range d.notifications {
		d.notifications[i].Read = true
	}
}

func (d *Dashboard) Cues(cue client.Cue) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cues[cue]
}

func (d *Dashboard) Deliveries() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Delivery, 0, len(d.deliveries))
	for _, del := range d.deliveries {
		out = append(out, del)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Dashboard) Delivery(id string) (Delivery, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	del, ok := d.deliveries[id]
	return del, ok
}

func (d *Dashboard) Health(dataType string) (HealthReading, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.health[dataType]
	return h, ok
}

func (d *Dashboard) Entity(entity proto.Entity) (EntityView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	view, ok := d.entities[entity]
	if !ok {
		return EntityView{}, false
	}
	return *view, true
}

// Subscribe returns a channel receiving every new notification until the
// returned cancel func is called. Slow subscribers miss notifications.
func (d *Dashboard) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)
	d.subMu.Lock()
	d.subs[ch] = struct{}{}
	d.subMu.Unlock()

	return ch, func() {
		d.subMu.Lock()
		delete(d.subs, ch)
		d.subMu.Unlock()
	}
}

func (d *Dashboard) publish(n Notification) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- n:
		default:
			d.logger.Warn("Dropping notification for slow subscriber", "id", n.ID)
		}
	}
}
