package domain

import "time"

type BikeStatus string

const (
	BikeStatusAvailable BikeStatus = "available"
	BikeStatusRented    BikeStatus = "rented"
	BikeStatusInService BikeStatus = "in_service"
	BikeStatusBroken    BikeStatus = "broken"
)

// Valid reports whether s is a known bike status
func (s BikeStatus) Valid() bool {
	switch s {
	case BikeStatusAvailable, BikeStatusRented, BikeStatusInService, BikeStatusBroken:
		return true
	}
	return false
}

type Bike struct {
	ID                 int64      `json:"id" db:"id"`
	Code               string     `json:"bike_code" db:"bike_code"`
	Status             BikeStatus `json:"status" db:"status"`
	TariffID           *int64     `json:"tariff_id,omitempty" db:"tariff_id"`
	City               string     `json:"city" db:"city"`
	FrameNumber        string     `json:"frame_number" db:"frame_number"`
	RegistrationNumber string     `json:"registration_number" db:"registration_number"`
	IoTDeviceID        string     `json:"iot_device_id" db:"iot_device_id"`
	ServiceReason      string     `json:"service_reason,omitempty" db:"service_reason"`
}

type BatteryStatus string

const (
	BatteryStatusAvailable BatteryStatus = "available"
	BatteryStatusInUse     BatteryStatus = "in_use"
	BatteryStatusCharging  BatteryStatus = "charging"
	BatteryStatusService   BatteryStatus = "service"
)

type Battery struct {
	ID     int64         `json:"id" db:"id"`
	Serial string        `json:"serial_number" db:"serial_number"`
	Status BatteryStatus `json:"status" db:"status"`
}

// RentalBattery links a battery to a rental while the rental holds inventory
type RentalBattery struct {
	RentalID   int64     `json:"rental_id" db:"rental_id"`
	BatteryID  int64     `json:"battery_id" db:"battery_id"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

type Tariff struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Price        Money  `json:"price" db:"price"`
	DurationDays int    `json:"duration_days" db:"duration_days"`
	Active       bool   `json:"is_active" db:"is_active"`
}
