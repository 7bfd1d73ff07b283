package model

import "time"

// Patient is read-only from the recall core; consent and opt-out gate every
// outbound chat message.
type Patient struct {
	ID               string     `db:"id"                  json:"id"`
	OwnerID          string     `db:"owner_id"            json:"ownerId"`
	FirstName        string     `db:"first_name"          json:"nombres"`
	LastName         string     `db:"last_name"           json:"apellidos"`
	Phone            string     `db:"phone"               json:"telefono"`
	WhatsappConsent  bool       `db:"whatsapp_consent"    json:"whatsappConsent"`
	WhatsappOptOutAt *time.Time `db:"whatsapp_opt_out_at" json:"whatsappOptOutAt,omitempty"`
	CreatedAt        time.Time  `db:"created_at"          json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at"          json:"updatedAt"`
}

// Service is a billable procedure. Price is kept in cents.
type Service struct {
	ID        string    `db:"id"         json:"id"`
	OwnerID   string    `db:"owner_id"   json:"ownerId"`
	Name      string    `db:"name"       json:"name"`
	Price     int64     `db:"price"      json:"price"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Appointment is owned by the scheduling side of the clinic; the recall core
// only inserts them for control schedules.
type Appointment struct {
	ID                string    `db:"id"                  json:"id"`
	OwnerID           string    `db:"owner_id"            json:"ownerId"`
	PatientID         string    `db:"patient_id"          json:"patientId"`
	ServiceID         *string   `db:"service_id"          json:"serviceId,omitempty"`
	ControlScheduleID *string   `db:"control_schedule_id" json:"controlScheduleId,omitempty"`
	Title             string    `db:"title"               json:"title"`
	StartsAt          time.Time `db:"starts_at"           json:"startsAt"`
	CreatedAt         time.Time `db:"created_at"          json:"createdAt"`
}
