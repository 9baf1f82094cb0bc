// Package messaging defines the commands the worker accepts and the events it
// sends back, and carries both over NATS.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"transit-isochrones/internal/gtfs"
	"transit-isochrones/internal/isochrone"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidCommand = errors.New("invalid command")
)

const (
	ActionComputeIsochrones = "computeIsochrones"
	ActionListRoutes        = "listRoutes"
	ActionPing              = "ping"
	ActionCancel            = "cancel"
)

// Command is one of ComputeIsochrones, ListRoutes, Ping or Cancel.
type Command interface {
	Action() string
}

type LatLng struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type ComputeIsochrones struct {
	Origin          *LatLng   `json:"origin" validate:"required"`
	Thresholds      []float64 `json:"thresholds" validate:"omitempty,dive,gt=0"`
	MaxBudget       float64   `json:"maxBudget" validate:"required_without=Thresholds,gte=0"`
	EnabledRouteIDs []string  `json:"enabledRouteIds" validate:"dive,required"`
	Date            string    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	TimeWindow      string    `json:"timeWindow"`
	Statistic       string    `json:"statistic"`
	SessionID       string    `json:"sessionId"`
}

func (ComputeIsochrones) Action() string { return ActionComputeIsochrones }

// Request converts the command into an engine request. The result still
// needs Normalize.
func (c ComputeIsochrones) Request() isochrone.Request {
	return isochrone.Request{
		SessionID:     c.SessionID,
		Origin:        gtfs.Point{Lat: c.Origin.Lat, Lng: c.Origin.Lng},
		Thresholds:    c.Thresholds,
		MaxBudget:     c.MaxBudget,
		EnabledRoutes: c.EnabledRouteIDs,
		Selector: gtfs.Selector{
			Date:       c.Date,
			TimeWindow: c.TimeWindow,
			Statistic:  c.Statistic,
		},
	}
}

type ListRoutes struct{}

func (ListRoutes) Action() string { return ActionListRoutes }

type Ping struct{}

func (Ping) Action() string { return ActionPing }

type Cancel struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (Cancel) Action() string { return ActionCancel }

var validate = validator.New()

// DecodeCommand parses and validates one inbound payload. Errors wrap
// ErrUnknownAction or ErrInvalidCommand.
func DecodeCommand(data []byte) (Command, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	var cmd Command
	switch env.Action {
	case ActionComputeIsochrones:
		var c ComputeIsochrones
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case ActionListRoutes:
		cmd = ListRoutes{}
	case ActionPing:
		cmd = Ping{}
	case ActionCancel:
		var c Cancel
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
	return cmd, nil
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}
