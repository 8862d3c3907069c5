// ABOUTME: Collection endpoints for users, businesses, bookings and reviews
// ABOUTME: Records are returned as generic JSON objects

package api

import (
	"context"
	"fmt"
	"net/http"
)

// Record is one JSON object returned by a collection endpoint.
type Record = map[string]any

func (c *Client) list(ctx context.Context, path string) ([]Record, error) {
	var out []Record
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Users lists every user.
func (c *Client) Users(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/users/")
}

// UpdateUser replaces a user with the full record.
func (c *Client) UpdateUser(ctx context.Context, id string, rec Record) (Record, error) {
	var out Record
	if err := c.do(ctx, http.MethodPut, "/users/"+pathID(id), nil, rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+pathID(id), nil, nil, nil)
}

// Businesses lists every business.
func (c *Client) Businesses(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/business/")
}

// UpdateBusiness patches a business.
func (c *Client) UpdateBusiness(ctx context.Context, id string, rec Record) (Record, error) {
	var out Record
	if err := c.do(ctx, http.MethodPatch, "/business/"+pathID(id), nil, rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBusiness removes a business.
func (c *Client) DeleteBusiness(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/business/"+pathID(id), nil, nil, nil)
}

// Bookings lists every booking.
func (c *Client) Bookings(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/bookings/")
}

// Booking status transitions with dedicated endpoints.
const (
	BookingConfirmed = "confirmed"
	BookingRejected  = "rejected"
)

// UpdateBookingStatus moves a booking to confirmed or rejected.
func (c *Client) UpdateBookingStatus(ctx context.Context, id, status string) (Record, error) {
	var endpoint string
	switch status {
	case BookingConfirmed:
		endpoint = "confirm"
	case BookingRejected:
		endpoint = "reject"
	default:
		return nil, fmt.Errorf("unsupported booking status %q", status)
	}
	var out Record
	if err := c.do(ctx, http.MethodPatch, "/bookings/"+pathID(id)+"/"+endpoint, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBooking removes a booking.
func (c *Client) DeleteBooking(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/bookings/"+pathID(id), nil, nil, nil)
}

// Reviews lists every review.
func (c *Client) Reviews(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/reviews/")
}

// DeleteReview removes a review.
func (c *Client) DeleteReview(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/reviews/"+pathID(id), nil, nil, nil)
}
