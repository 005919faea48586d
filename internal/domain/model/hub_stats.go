package model

import "time"

type HubStats struct {
	TotalUsers       int           `json:"total_users"`
	TotalConnections int           `json:"total_connections"`
	TotalRooms       int           `json:"total_rooms"`
	DroppedEvents    uint64        `json:"dropped_events"`
	Uptime           time.Duration `json:"uptime"`
	Rooms            []RoomStats   `json:"rooms,omitempty"`
}

type RoomStats struct {
	RoomID      string `json:"room_id"`
	Subscribers int    `json:"subscribers"`
	Users       int    `json:"users"`
}
