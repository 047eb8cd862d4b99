package domain

// VehicleContext describes the vehicle a session is about. All fields are
// optional; the context grows by merge only and is never replaced wholesale.
type VehicleContext struct {
	VehicleType        string `json:"vehicle_type,omitempty"`
	Brand              string `json:"brand,omitempty"`
	Model              string `json:"model,omitempty"`
	Year               string `json:"year,omitempty"`
	FuelType           string `json:"fuel_type,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty"`
}

// Merge fills empty fields of v from other. Fields already set keep their
// value; in particular a recorded registration number is never overwritten.
func (v *VehicleContext) Merge(other VehicleContext) {
	if v.VehicleType == "" {
		v.VehicleType = other.VehicleType
	}
	if v.Brand == "" {
		v.Brand = other.Brand
	}
	if v.Model == "" {
		v.Model = other.Model
	}
	if v.Year == "" {
		v.Year = other.Year
	}
	if v.FuelType == "" {
		v.FuelType = other.FuelType
	}
	if v.RegistrationNumber == "" {
		v.RegistrationNumber = other.RegistrationNumber
	}
}

// IsEmpty reports whether no field of the context has been set.
func (v VehicleContext) IsEmpty() bool {
	return v == VehicleContext{}
}
