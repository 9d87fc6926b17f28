// Package console renders realtime events to a terminal.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/proto"
)

var levelColors = map[proto.Level]*color.Color{
	proto.LevelInfo:    color.New(color.FgCyan),
	proto.LevelSuccess: color.New(color.FgGreen),
	proto.LevelWarning: color.New(color.FgYellow),
	proto.LevelDanger:  color.New(color.FgRed, color.Bold),
}

// UI prints notifications and rings the terminal bell for cues.
type UI struct {
	mu     sync.Mutex
	out    io.Writer
	bell   bool
	unread int
}

var _ client.UI = (*UI)(nil)

func New(out io.Writer, bell bool) *UI {
	if out == nil {
		out = os.Stdout
	}
	return &UI{out: out, bell: bell}
}

func (u *UI) Notify(level proto.Level, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	c, ok := levelColors[level]
	if !ok {
		c = levelColors[proto.LevelInfo]
	}
	c.Fprintf(u.out, "[%s] %s\n", level, text)
}

func (u *UI) IncrementUnread() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unread++
	color.New(color.Faint).Fprintf(u.out, "  %d unread\n", u.unread)
}

func (u *UI) Unread() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unread
}

func (u *UI) PlayCue(cue client.Cue) {
	if !u.bell {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 1
	if cue == client.CueAlert {
		n = 3
	}
	for i := 0; i < n; i++ {
		fmt.Fprint(u.out, "\a")
	}
}

func (u *UI) RefreshPatients(data json.RawMessage)     { u.refreshed(proto.EntityPatient) }
func (u *UI) RefreshAppointments(data json.RawMessage) { u.refreshed(proto.EntityAppointment) }
func (u *UI) RefreshMedications(data json.RawMessage)  { u.refreshed(proto.EntityMedication) }

func (u *UI) refreshed(entity proto.Entity) {
	u.mu.Lock()
	defer u.mu.Unlock()
	color.New(color.Faint).Fprintf(u.out, "  %s list changed\n", entity)
}

func (u *UI) UpdateDelivery(id, status, location string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	color.New(color.FgMagenta).Fprintf(u.out, "  delivery %s: %s @ %s\n", id, status, location)
}

func (u *UI) ShowHealthData(dataType string, data json.RawMessage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	color.New(color.FgBlue).Fprintf(u.out, "  %s: %s\n", dataType, string(data))
}
