// ABOUTME: Bindings for the users, businesses, bookings and reviews collections
// ABOUTME: Wires each collection's columns, metrics and remote operations

package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/grid"
)

// ErrUnsupportedTransition is returned for booking statuses without an endpoint.
var ErrUnsupportedTransition = errors.New("bookings can only be set to confirmed or rejected")

// Backend is the part of the API client the default bindings use.
type Backend interface {
	Users(ctx context.Context) ([]api.Record, error)
	UpdateUser(ctx context.Context, id string, rec api.Record) (api.Record, error)
	DeleteUser(ctx context.Context, id string) error
	Businesses(ctx context.Context) ([]api.Record, error)
	UpdateBusiness(ctx context.Context, id string, rec api.Record) (api.Record, error)
	DeleteBusiness(ctx context.Context, id string) error
	Bookings(ctx context.Context) ([]api.Record, error)
	UpdateBookingStatus(ctx context.Context, id, status string) (api.Record, error)
	DeleteBooking(ctx context.Context, id string) error
	Reviews(ctx context.Context) ([]api.Record, error)
	DeleteReview(ctx context.Context, id string) error
}

// Defaults builds the registry of every collection the console manages.
func Defaults(b Backend) (*Registry, error) {
	var bindings []*Binding
	for _, spec := range []Spec{Users(b), Businesses(b), Bookings(b), Reviews(b)} {
		binding, err := New(spec)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	return NewRegistry(bindings...)
}

func loader(fetch func(context.Context) ([]api.Record, error)) Loader {
	return func(ctx context.Context) ([]grid.Record, error) {
		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]grid.Record, len(raw))
		for i, r := range raw {
			out[i] = grid.Record(r)
		}
		return out, nil
	}
}

func updater(send func(context.Context, string, api.Record) (api.Record, error)) Updater {
	return func(ctx context.Context, id string, rec grid.Record) (grid.Record, error) {
		out, err := send(ctx, id, api.Record(rec))
		if err != nil {
			return nil, err
		}
		return grid.Record(out), nil
	}
}

// Users binds the users collection.
func Users(b Backend) Spec {
	return Spec{
		Name:   "users",
		Title:  "Users",
		Load:   loader(b.Users),
		Update: updater(b.UpdateUser),
		Delete: b.DeleteUser,
		Columns: []grid.Column{
			{Key: "_id", Label: "ID", Render: Ellipsis},
			{Key: "name", Label: "Name", Render: Text("N/A")},
			{Key: "rut", Label: "RUT", Render: Text("N/A")},
			{Key: "email", Label: "Email", Render: Text("")},
			{Key: "phone", Label: "Phone", Render: Text("N/A")},
			{Key: "role", Label: "Role", Render: Badge(Roles, "N/A"), Filterable: true},
			{Key: "birthdate", Label: "Birthdate", Render: Text("N/A"), NoSearch: true},
			{Key: "profile_pic", Label: "Profile picture", Render: Link("View photo"), NoSearch: true},
			{Key: "registered_at", Label: "Registered", Render: Date, NoSearch: true},
			{Key: "suspended", Label: "Suspended", Render: YesNo, NoSearch: true, Editable: true},
		},
		Metrics: []MetricSpec{
			{Label: "Total users", Count: "true"},
			{Label: "Active clients", Count: `role == "client" && suspended != true`},
			{Label: "Not suspended", Count: `suspended != true`},
			{Label: "Business users", Count: `role == "business"`},
		},
	}
}

// Businesses binds the businesses collection.
func Businesses(b Backend) Spec {
	return Spec{
		Name:   "businesses",
		Title:  "Businesses",
		Load:   loader(b.Businesses),
		Update: updater(b.UpdateBusiness),
		Delete: b.DeleteBusiness,
		Columns: []grid.Column{
			{Key: "_id", Label: "ID", Render: Ellipsis},
			{Key: "name", Label: "Name", Render: WithSubtitle("description", "", 50), Editable: true},
			{Key: "owner_id", Label: "Owner", Render: Ellipsis},
			{Key: "category", Label: "Category", Render: Badge(Categories, "No category"), Filterable: true},
			{Key: "profile_pic", Label: "Profile picture", Render: Link("View photo"), NoSearch: true},
			{Key: "address", Label: "Address", Render: Text("No address"), Filterable: true, Editable: true},
			{Key: "average_rating", Label: "Rating", Render: Rating, Filterable: true, NoSearch: true},
		},
		Metrics: []MetricSpec{
			{Label: "Total businesses", Count: "true"},
			{Label: "Active", Count: `is_active == true`},
			{Label: "Verified", Count: `is_verified == true`},
			{Label: "Average rating", Average: `average_rating ?? 0`},
		},
	}
}

// Bookings binds the bookings collection. Updates are limited to the status
// transitions the backend exposes.
func Bookings(b Backend) Spec {
	setStatus := func(status string) func(context.Context, string) error {
		return func(ctx context.Context, id string) error {
			_, err := b.UpdateBookingStatus(ctx, id, status)
			return err
		}
	}
	return Spec{
		Name:  "bookings",
		Title: "Bookings",
		Load:  loader(b.Bookings),
		Update: func(ctx context.Context, id string, rec grid.Record) (grid.Record, error) {
			status := grid.FormatValue(rec["status"])
			if status != api.BookingConfirmed && status != api.BookingRejected {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransition, status)
			}
			out, err := b.UpdateBookingStatus(ctx, id, status)
			if err != nil {
				return nil, err
			}
			return grid.Record(out), nil
		},
		Delete: b.DeleteBooking,
		Columns: []grid.Column{
			{Key: "_id", Label: "ID", Render: Ellipsis},
			{Key: "user_name", Label: "User", Render: WithSubtitle("user_email", "user_id", 0)},
			{Key: "business_name", Label: "Business", Render: Text("N/A")},
			{Key: "date", Label: "Date / time", Render: DateWithTime("start_time"), NoSearch: true},
			{Key: "status", Label: "Status", Render: Badge(BookingStatuses, "Unknown"), Filterable: true, Editable: true},
		},
		Operations: []Operation{
			{
				Action: grid.Action{Key: "confirm", Label: "Confirm selected", Multiple: true},
				Run:    setStatus(api.BookingConfirmed),
				Done:   "confirmed",
			},
			{
				Action: grid.Action{Key: "reject", Label: "Reject selected", Multiple: true, Confirm: "Reject the selected bookings?"},
				Run:    setStatus(api.BookingRejected),
				Done:   "rejected",
			},
		},
		Metrics: []MetricSpec{
			{Label: "Total bookings", Count: "true"},
			{Label: "Pending", Count: `status == "pending"`},
			{Label: "Confirmed", Count: `status == "confirmed"`},
			{Label: "Completed", Count: `status == "completed"`},
		},
	}
}

// Reviews binds the reviews collection. Reviews cannot be edited.
func Reviews(b Backend) Spec {
	return Spec{
		Name:      "reviews",
		Title:     "Reviews",
		Load:      loader(b.Reviews),
		Delete:    b.DeleteReview,
		NoDetails: true,
		Columns: []grid.Column{
			{Key: "_id", Label: "ID", Render: Ellipsis},
			{Key: "userId", Label: "User ID", Render: Ellipsis},
			{Key: "businessId", Label: "Business ID", Render: Ellipsis},
			{Key: "rating", Label: "Rating", Render: Stars, Filterable: true, NoSearch: true},
			{Key: "comment", Label: "Comment", Render: Muted("No comment"), NoSearch: true},
			{Key: "date", Label: "Date", Render: Date},
		},
		Metrics: []MetricSpec{
			{Label: "Total reviews", Count: "true"},
			{Label: "Average rating", Average: `rating ?? 0`},
			{Label: "5 stars", Count: `rating == 5`},
			{Label: "2 stars or fewer", Count: `rating != nil && rating <= 2`},
		},
	}
}
