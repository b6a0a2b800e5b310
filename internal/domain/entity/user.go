package entity

import "time"

// User is a directory entry the engine reads for assignment and
// escalation targets. The directory itself is maintained elsewhere.
type User struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email,omitempty"`
	Role               string    `json:"role"`
	Department         string    `json:"department,omitempty"`
	Active             bool      `json:"active"`
	EmailNotifications bool      `json:"email_notifications"`
	CreatedAt          time.Time `json:"created_at"`
}
