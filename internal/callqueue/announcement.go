// Package callqueue keeps the "now calling" list of citizens directed to a
// room and booth, and broadcasts every call to display surfaces with a
// durable replay buffer for displays that connect late.
package callqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
)

// Announcement is both the queue entry and the wire message sent to displays.
type Announcement struct {
	AnnouncementID uuid.UUID            `json:"announcementId"`
	AppointmentID  uuid.UUID            `json:"appointmentId"`
	CitizenName    string               `json:"citizenName"`
	Priority       appointment.Priority `json:"priority"`
	Room           string               `json:"room"`
	Booth          string               `json:"booth,omitempty"`
	LocationID     string               `json:"locationId"`
	LocationName   string               `json:"locationName"`
	Protocol       string               `json:"protocol"`
	Date           string               `json:"date"`
	Time           string               `json:"time"`
	EmittedAt      time.Time            `json:"emittedAt"`
	Repeated       bool                 `json:"repeated"`
}

// placement identifies a call independently of its announcement id.
func (a Announcement) placement() string {
	return fmt.Sprintf("%s|%s|%s", a.AppointmentID, a.Room, a.Booth)
}

func channelName(locationID string) string {
	return "callboard:" + locationID
}

func latestKey(locationID string) string {
	return channelName(locationID) + ":latest"
}

func historyKey(locationID string) string {
	return channelName(locationID) + ":history"
}
