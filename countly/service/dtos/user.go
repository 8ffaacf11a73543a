package dtos

import "github.com/goccy/go-json"

// UserDetails holds the predefined user profile fields understood by the collector
type UserDetails struct {
	Name         string            `json:"name,omitempty"`
	Username     string            `json:"username,omitempty"`
	Email        string            `json:"email,omitempty"`
	Organization string            `json:"organization,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Picture      string            `json:"picture,omitempty"`
	Gender       string            `json:"gender,omitempty"`
	BirthYear    int               `json:"byear,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// IsEmpty returns true when no field has been set
func (u UserDetails) IsEmpty() bool {
	return u.Name == "" && u.Username == "" && u.Email == "" && u.Organization == "" &&
		u.Phone == "" && u.Picture == "" && u.Gender == "" && u.BirthYear == 0 && len(u.Custom) == 0
}

// JSON returns the wire representation of the user details
func (u UserDetails) JSON() string {
	serialized, err := json.Marshal(u)
	if err != nil {
		return "{}"
	}
	return string(serialized)
}
