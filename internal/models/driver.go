package models

import "database/sql"

// Driver represents a shuttle driver's persistent record. Shift fields are
// mutated exclusively through the shift reconciliation path; the record is
// created at the driver's first login and never deleted.
type Driver struct {
	ID              string  `json:"id" db:"id"`
	UserID          string  `json:"user_id" db:"user_id"`
	Name            string  `json:"name" db:"name"`
	Email           string  `json:"email" db:"email"`
	VehicleNo       *string `json:"vehicle_no" db:"vehicle_no"`
	IsOnShift       bool    `json:"is_on_shift" db:"is_on_shift"`
	CurrentRoute    *string `json:"current_route" db:"current_route"`
	LastShiftUpdate int64   `json:"last_shift_update" db:"last_shift_update"`
	CreatedAt       int64   `json:"created_at" db:"created_at"`
	UpdatedAt       int64   `json:"updated_at" db:"updated_at"`
}

// ShiftState is the shift-relevant slice of a driver record, as seen by the
// client. Invariant: IsOnShift implies CurrentRouteID and VehicleNo are set.
type ShiftState struct {
	IsOnShift       bool    `json:"is_on_shift"`
	CurrentRouteID  *string `json:"current_route_id"`
	VehicleNo       *string `json:"vehicle_no"`
	LastShiftUpdate int64   `json:"last_shift_update"`
}

// ShiftStateOf extracts the client-facing shift state from a driver record.
func ShiftStateOf(d Driver) ShiftState {
	return ShiftState{
		IsOnShift:       d.IsOnShift,
		CurrentRouteID:  d.CurrentRoute,
		VehicleNo:       d.VehicleNo,
		LastShiftUpdate: d.LastShiftUpdate,
	}
}

// ToNullString converts a pointer to string to sql.NullString
func ToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// FromNullString converts sql.NullString to pointer to string
func FromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}
