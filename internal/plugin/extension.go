// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/samber/oops"
)

// Extension points the host renders.
const (
	PointAdminSettings        = "admin-settings"
	PointPaymentMethods       = "payment-methods"
	PointEventDetails         = "event-details"
	PointCheckoutConfirmation = "checkout-confirmation"
	PointSeatingMap           = "seating-map"
	PointDashboardWidget      = "dashboard-widget"
)

// KnownPoints returns every extension point the host renders, in sorted order.
func KnownPoints() []string {
	return []string{
		PointAdminSettings,
		PointCheckoutConfirmation,
		PointDashboardWidget,
		PointEventDetails,
		PointPaymentMethods,
		PointSeatingMap,
	}
}

// ErrNoCallback is returned when a plugin invokes a callback the host did
// not provide.
var ErrNoCallback = errors.New("callback not provided by host")

// ExtensionContext is the read-only payload a host hands to the components
// of one extension point. The set of implementations is closed; use one of
// the *Context types in this package.
type ExtensionContext interface {
	// Point names the extension point this context belongs to.
	Point() string
	// Snapshot returns the context fields as a fresh map safe to hand to a
	// plugin runtime.
	Snapshot() map[string]any
	// Update forwards changed values to the host.
	Update(values map[string]any) error
	// Action forwards a named action to the host.
	Action(name string, payload map[string]any) error

	clone() ExtensionContext
}

// Callbacks are the only way a component can talk back to the host.
type Callbacks struct {
	OnUpdate func(values map[string]any) error
	OnAction func(name string, payload map[string]any) error
}

// Update calls OnUpdate with a copy of values.
func (c Callbacks) Update(values map[string]any) error {
	if c.OnUpdate == nil {
		return oops.In("extension").Code("CALLBACK_MISSING").With("callback", "update").Wrap(ErrNoCallback)
	}
	return c.OnUpdate(maps.Clone(values))
}

// Action calls OnAction with a copy of payload.
func (c Callbacks) Action(name string, payload map[string]any) error {
	if c.OnAction == nil {
		return oops.In("extension").Code("CALLBACK_MISSING").With("callback", "action").Wrap(ErrNoCallback)
	}
	return c.OnAction(name, maps.Clone(payload))
}

// AdminSettingsContext is passed to admin-settings components.
type AdminSettingsContext struct {
	Callbacks
	OrganizationID string
	// Config is the plugin's current configuration.
	Config map[string]any
}

// Point implements ExtensionContext.
func (AdminSettingsContext) Point() string { return PointAdminSettings }

// Snapshot implements ExtensionContext.
func (c AdminSettingsContext) Snapshot() map[string]any {
	return map[string]any{
		"organizationId": c.OrganizationID,
		"config":         normalizeJSON(c.Config),
	}
}

func (c AdminSettingsContext) clone() ExtensionContext {
	c.Config = maps.Clone(c.Config)
	return c
}

// PaymentMethodsContext is passed to payment-methods components.
type PaymentMethodsContext struct {
	Callbacks
	OrganizationID string
	OrderID        string
	// Amount is in minor currency units.
	Amount   int64
	Currency string
}

// Point implements ExtensionContext.
func (PaymentMethodsContext) Point() string { return PointPaymentMethods }

// Snapshot implements ExtensionContext.
func (c PaymentMethodsContext) Snapshot() map[string]any {
	return map[string]any{
		"organizationId": c.OrganizationID,
		"orderId":        c.OrderID,
		"amount":         c.Amount,
		"currency":       c.Currency,
	}
}

func (c PaymentMethodsContext) clone() ExtensionContext { return c }

// EventDetailsContext is passed to event-details components.
type EventDetailsContext struct {
	Callbacks
	EventID  string
	Title    string
	Venue    string
	StartsAt time.Time
}

// Point implements ExtensionContext.
func (EventDetailsContext) Point() string { return PointEventDetails }

// Snapshot implements ExtensionContext.
func (c EventDetailsContext) Snapshot() map[string]any {
	return map[string]any{
		"eventId":  c.EventID,
		"title":    c.Title,
		"venue":    c.Venue,
		"startsAt": c.StartsAt.UTC().Format(time.RFC3339),
	}
}

func (c EventDetailsContext) clone() ExtensionContext { return c }

// CheckoutConfirmationContext is passed to checkout-confirmation components.
type CheckoutConfirmationContext struct {
	Callbacks
	OrderID       string
	Amount        int64
	Currency      string
	CustomerEmail string
}

// Point implements ExtensionContext.
func (CheckoutConfirmationContext) Point() string { return PointCheckoutConfirmation }

// Snapshot implements ExtensionContext.
func (c CheckoutConfirmationContext) Snapshot() map[string]any {
	return map[string]any{
		"orderId":       c.OrderID,
		"amount":        c.Amount,
		"currency":      c.Currency,
		"customerEmail": c.CustomerEmail,
	}
}

func (c CheckoutConfirmationContext) clone() ExtensionContext { return c }

// SeatingMapContext is passed to seating-map components.
type SeatingMapContext struct {
	Callbacks
	EventID       string
	SectionID     string
	SelectedSeats []string
}

// Point implements ExtensionContext.
func (SeatingMapContext) Point() string { return PointSeatingMap }

// Snapshot implements ExtensionContext.
func (c SeatingMapContext) Snapshot() map[string]any {
	seats := make([]any, len(c.SelectedSeats))
	for i, s := range c.SelectedSeats {
		seats[i] = s
	}
	return map[string]any{
		"eventId":       c.EventID,
		"sectionId":     c.SectionID,
		"selectedSeats": seats,
	}
}

func (c SeatingMapContext) clone() ExtensionContext {
	c.SelectedSeats = slices.Clone(c.SelectedSeats)
	return c
}

// DashboardWidgetContext is passed to dashboard-widget components.
type DashboardWidgetContext struct {
	Callbacks
	OrganizationID string
	WidgetID       string
	From           time.Time
	To             time.Time
}

// Point implements ExtensionContext.
func (DashboardWidgetContext) Point() string { return PointDashboardWidget }

// Snapshot implements ExtensionContext.
func (c DashboardWidgetContext) Snapshot() map[string]any {
	return map[string]any{
		"organizationId": c.OrganizationID,
		"widgetId":       c.WidgetID,
		"from":           c.From.UTC().Format(time.RFC3339),
		"to":             c.To.UTC().Format(time.RFC3339),
	}
}

func (c DashboardWidgetContext) clone() ExtensionContext { return c }

// contextFields mirrors the JSON shape of every context variant.
type contextFields struct {
	OrganizationID string         `json:"organizationId"`
	OrderID        string         `json:"orderId"`
	EventID        string         `json:"eventId"`
	Title          string         `json:"title"`
	Venue          string         `json:"venue"`
	StartsAt       time.Time      `json:"startsAt"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	CustomerEmail  string         `json:"customerEmail"`
	SectionID      string         `json:"sectionId"`
	SelectedSeats  []string       `json:"selectedSeats"`
	WidgetID       string         `json:"widgetId"`
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	Config         map[string]any `json:"config"`
}

// ContextFor builds the context variant for point from a JSON object. Unknown
// points return ErrContextMismatch.
func ContextFor(point string, data []byte, cb Callbacks) (ExtensionContext, error) {
	var f contextFields
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, oops.In("extension").
				Code(CodeContextMismatch).
				With("extension_point", point).
				Wrapf(ErrContextMismatch, "decode context: %v", err)
		}
	}

	switch point {
	case PointAdminSettings:
		return AdminSettingsContext{Callbacks: cb, OrganizationID: f.OrganizationID, Config: f.Config}, nil
	case PointPaymentMethods:
		return PaymentMethodsContext{Callbacks: cb, OrganizationID: f.OrganizationID, OrderID: f.OrderID, Amount: f.Amount, Currency: f.Currency}, nil
	case PointEventDetails:
		return EventDetailsContext{Callbacks: cb, EventID: f.EventID, Title: f.Title, Venue: f.Venue, StartsAt: f.StartsAt}, nil
	case PointCheckoutConfirmation:
		return CheckoutConfirmationContext{Callbacks: cb, OrderID: f.OrderID, Amount: f.Amount, Currency: f.Currency, CustomerEmail: f.CustomerEmail}, nil
	case PointSeatingMap:
		return SeatingMapContext{Callbacks: cb, EventID: f.EventID, SectionID: f.SectionID, SelectedSeats: f.SelectedSeats}, nil
	case PointDashboardWidget:
		return DashboardWidgetContext{Callbacks: cb, OrganizationID: f.OrganizationID, WidgetID: f.WidgetID, From: f.From, To: f.To}, nil
	default:
		return nil, oops.In("extension").
			Code(CodeContextMismatch).
			With("extension_point", point).
			Wrapf(ErrContextMismatch, "no context type for extension point %q", point)
	}
}
