package domain

import "time"

// RoomID identifies a conference room. The zero value means "no room":
// allocation starts at 1 and grows monotonically (max existing + 1).
type RoomID int

const NoRoom RoomID = 0

type Room struct {
	ID                 RoomID    `json:"roomId"`
	Started            time.Time `json:"started"`
	IncomingInProgress bool      `json:"incomingInProgress"`
}
