package domain

import (
	"slices"
	"time"
)

type RouteStatus string

const (
	RoutePending    RouteStatus = "PENDING"
	RouteAccepted   RouteStatus = "ACCEPTED"
	RouteProcessing RouteStatus = "PROCESSING"
	RouteFinished   RouteStatus = "FINISHED"
	RouteCanceled   RouteStatus = "CANCELED"
)

var routeTransitions = map[RouteStatus][]RouteStatus{
	RoutePending:    {RouteAccepted, RouteCanceled},
	RouteAccepted:   {RouteProcessing, RouteCanceled},
	RouteProcessing: {RouteFinished},
}

type StopStatus string

const (
	StopScheduled  StopStatus = "SCHEDULED"
	StopInProgress StopStatus = "IN_PROGRESS"
	StopDelivered  StopStatus = "DELIVERED"
	StopReceived   StopStatus = "RECEIVED"
	StopReported   StopStatus = "REPORTED"
)

// Done reports whether the stop reached a delivered or received state.
func (s StopStatus) Done() bool { return s == StopDelivered || s == StopReceived }

// Represents a single stop in a scheduled route.
// A RouteStop corresponds to executing one delivery request; its metrics
// describe the leg from this stop's destination to the next stop's.
type RouteStop struct {
	Order                 int        `json:"order"`
	DeliveryRequestID     string     `json:"delivery_request_id"`
	Destination           string     `json:"destination"`
	DistanceToNextMeters  int        `json:"distance_to_next_meters"`
	DurationToNextSeconds int        `json:"duration_to_next_seconds"`
	Status                StopStatus `json:"status"`
	ReportNote            string     `json:"report_note,omitempty"`
}

// ScheduledRoute is a driver's ordered tour over delivery requests that
// share a home branch. Stops are ordered by Order with no ties.
type ScheduledRoute struct {
	ID                   string       `json:"id"`
	HomeBranchID         string       `json:"home_branch_id"`
	DriverID             string       `json:"driver_id,omitempty"`
	Status               RouteStatus  `json:"status"`
	StartTime            time.Time    `json:"start_time"`
	AcceptedAt           *time.Time   `json:"accepted_at,omitempty"`
	StartedAt            *time.Time   `json:"started_at,omitempty"`
	FinishedAt           *time.Time   `json:"finished_at,omitempty"`
	StartPosition        *Coordinates `json:"start_position,omitempty"`
	CancelReason         string       `json:"cancel_reason,omitempty"`
	Stops                []RouteStop  `json:"stops"`
	TotalDistanceMeters  int          `json:"total_distance_meters"`
	TotalDurationSeconds int          `json:"total_duration_seconds"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	Version              int64        `json:"-"`
}

func (r *ScheduledRoute) MoveTo(to RouteStatus, at time.Time) error {
	if !slices.Contains(routeTransitions[r.Status], to) {
		return invalidTransition("route", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

func (r *ScheduledRoute) Stop(order int) (*RouteStop, bool) {
	for i := range r.Stops {
		if r.Stops[i].Order == order {
			return &r.Stops[i], true
		}
	}
	return nil, false
}

// AllStopsDone reports whether every stop is delivered or received.
func (r *ScheduledRoute) AllStopsDone() bool {
	for _, s := range r.Stops {
		if !s.Status.Done() {
			return false
		}
	}
	return len(r.Stops) > 0
}

// Represents the planned visiting order produced by the stop planner.
// It is immutable planning data and contains no side effects.
type StopPlan struct {
	Order                []string
	Legs                 []Leg
	TotalDistanceMeters  int
	TotalDurationSeconds int
}

// Leg is the travel between two consecutive points of a plan.
type Leg struct {
	From            string
	To              string
	DistanceMeters  int
	DurationSeconds int
}
