package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"
)

// Location is a point on the map.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a real coordinate.
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lng, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Load is a freight load offered or assigned to a company.
type Load struct {
	ID          string    `json:"id"`
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	PickupAt    time.Time `json:"pickupAt"`
	Weight      float64   `json:"weight"`
}

// Driver is a driver employed by the current company.
type Driver struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Status    string `json:"status"`
	CompanyID string `json:"companyId"`
}

// Assignment binds a load to a driver, vehicle and trailer.
type Assignment struct {
	ID                string    `json:"id"`
	LoadID            string    `json:"loadId"`
	DriverID          string    `json:"driverId"`
	VehicleID         string    `json:"vehicleId"`
	TrailerID         string    `json:"trailerId"`
	Status            string    `json:"status"`
	LastKnownLocation *Location `json:"lastKnownLocation"`
}

// ListLoads returns loads, optionally filtered by status.
func (c *Client) ListLoads(ctx context.Context, status string) ([]Load, error) {
	opts := Options{}
	if status != "" {
		opts.Query = map[string]string{"status": status}
	}

	var loads []Load
	if err := c.Do(ctx, "/loads", opts, &loads); err != nil {
		return nil, fmt.Errorf("list loads: %w", err)
	}
	return loads, nil
}

// AcceptLoad accepts an offered load on behalf of the current company.
func (c *Client) AcceptLoad(ctx context.Context, id string) (Load, error) {
	var load Load
	if err := c.Do(ctx, "/loads/"+url.PathEscape(id)+"/accept", Options{Method: http.MethodPost}, &load); err != nil {
		return Load{}, fmt.Errorf("accept load %s: %w", id, err)
	}
	return load, nil
}

// ListDrivers returns the company's drivers.
func (c *Client) ListDrivers(ctx context.Context) ([]Driver, error) {
	var drivers []Driver
	if err := c.Do(ctx, "/drivers", Options{}, &drivers); err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	return drivers, nil
}

// GetAssignment fetches one assignment including its last known location.
func (c *Client) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	var a Assignment
	if err := c.Do(ctx, "/assignments/"+url.PathEscape(id), Options{}, &a); err != nil {
		return Assignment{}, fmt.Errorf("get assignment %s: %w", id, err)
	}
	return a, nil
}
