package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

type BookAppointmentRequest struct {
	LocationID   string `json:"locationId"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	CitizenID    string `json:"citizenId"`
	CitizenName  string `json:"citizenName"`
	CitizenPhone string `json:"citizenPhone"`
	CitizenEmail string `json:"citizenEmail"`
	Priority     string `json:"priority"`
}

type ConfirmRequest struct {
	Priority string `json:"priority"`
}

type CallRequest struct {
	Room  string `json:"room"`
	Booth string `json:"booth"`
}

type CancelRequest struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type RollbackRequest struct {
	Reason string `json:"reason"`
}

type AdvanceRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                   uuid.UUID                  `json:"id"`
	Protocol             string                     `json:"protocol"`
	CitizenID            string                     `json:"citizenId"`
	CitizenName          string                     `json:"citizenName"`
	CitizenPhone         string                     `json:"citizenPhone,omitempty"`
	CitizenEmail         string                     `json:"citizenEmail,omitempty"`
	LocationID           string                     `json:"locationId"`
	Date                 string                     `json:"date"`
	Time                 string                     `json:"time"`
	Status               string                     `json:"status"`
	Priority             string                     `json:"priority"`
	CancellationCategory string                     `json:"cancellationCategory,omitempty"`
	CancellationReason   string                     `json:"cancellationReason,omitempty"`
	AllowedTargets       []string                   `json:"allowedTargets"`
	History              []appointment.HistoryEntry `json:"history"`
	CreatedAt            time.Time                  `json:"createdAt"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	targets := make([]string, 0, 4)
	for _, s := range appointment.AllowedTargets(*a) {
		targets = append(targets, string(s))
	}
	history := a.History
	if history == nil {
		history = []appointment.HistoryEntry{}
	}
	return AppointmentResponse{
		ID:                   a.ID,
		Protocol:             a.Protocol,
		CitizenID:            a.CitizenID,
		CitizenName:          a.CitizenName,
		CitizenPhone:         a.CitizenPhone,
		CitizenEmail:         a.CitizenEmail,
		LocationID:           a.LocationID,
		Date:                 a.Date,
		Time:                 a.Time,
		Status:               string(a.Status),
		Priority:             string(a.Priority),
		CancellationCategory: string(a.CancellationCategory),
		CancellationReason:   a.CancellationReason,
		AllowedTargets:       targets,
		History:              history,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

type SlotsResponse struct {
	LocationID string       `json:"locationId"`
	Date       string       `json:"date"`
	Slots      []slots.Slot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
