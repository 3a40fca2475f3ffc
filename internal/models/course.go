package models

import "time"

// Course is the catalog entry a Session teaches. Price is the amount
// charged when a student enrolls into one of its sessions.
type Course struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
