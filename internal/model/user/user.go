package user

import "strings"

// Role 表示用户在展台中的身份。
type Role string

const (
	Kid     Role = "Kid"
	Teacher Role = "Teacher"
	Unknown Role = "Unknown"
)

// ParseRole maps a stored role string onto a Role. Anything unrecognised is Unknown.
func ParseRole(raw string) Role {
	switch strings.TrimSpace(raw) {
	case string(Kid):
		return Kid
	case string(Teacher):
		return Teacher
	default:
		return Unknown
	}
}

// User is one directory record. DeviceAddress is the paired Bluetooth MAC used
// for presence corroboration.
type User struct {
	ID                 int64  `json:"userId"`
	Name               string `json:"name"`
	Role               Role   `json:"role"`
	DeviceAddress      string `json:"deviceAddress"`
	ReferenceImagePath string `json:"referenceImagePath,omitempty"`
}

// Identity is the outcome of a verified authentication.
type Identity struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// Seed provides the known users enrolled at the first installation.
func Seed() []User {
	return []User{
		{Name: "noha", Role: Kid, DeviceAddress: "CC:6B:1E:80:F5:85", ReferenceImagePath: "./known-faces/noha/noha.jpg"},
		{Name: "youssef", Role: Kid, DeviceAddress: "94:5C:9A:97:15:10", ReferenceImagePath: "./known-faces/youssef/youssef.jpg"},
		{Name: "seif", Role: Teacher, DeviceAddress: "24:5E:48:D6:C5:C6", ReferenceImagePath: "./known-faces/seif/seif.jpg"},
	}
}
