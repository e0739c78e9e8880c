package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VehicleType string

const (
	VehicleTypeEconomy  VehicleType = "economy"
	VehicleTypeStandard VehicleType = "standard"
	VehicleTypePremium  VehicleType = "premium"
	VehicleTypeLuxury   VehicleType = "luxury"
)

type VehicleStatus string

const (
	VehicleStatusAvailable    VehicleStatus = "available"
	VehicleStatusRented       VehicleStatus = "rented"
	VehicleStatusMaintenance  VehicleStatus = "maintenance"
	VehicleStatusOutOfService VehicleStatus = "out_of_service"
)

type Vehicle struct {
	ID           int32         `json:"id"`
	CarOwnerID   int32         `json:"car_owner_id"`
	Make         string        `json:"make"`
	Model        string        `json:"model"`
	Year         int32         `json:"year"`
	LicensePlate string        `json:"license_plate"`
	VehicleType  VehicleType   `json:"vehicle_type"`
	Status       VehicleStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IsAvailable reports whether the vehicle can be booked
func (v *Vehicle) IsAvailable() bool {
	return v.Status == VehicleStatusAvailable
}

// VehicleRates are the standard daily and RAP rates for a vehicle type
type VehicleRates struct {
	DailyRate    decimal.Decimal `json:"daily_rate"`
	RapDailyRate decimal.Decimal `json:"rap_daily_rate"`
}

// RateTable maps vehicle types to standard rates, with a fallback for
// types missing from the table.
type RateTable struct {
	ByType   map[VehicleType]VehicleRates
	Fallback VehicleRates
}

// Lookup returns the rates for t, or the fallback when t is unknown
func (rt RateTable) Lookup(t VehicleType) VehicleRates {
	if rates, ok := rt.ByType[t]; ok {
		return rates
	}
	return rt.Fallback
}
