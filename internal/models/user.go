package models

import "time"

// User is the local profile that gets propagated to the remote service
// through the background sync queue.
type User struct {
	FirebaseUID  string    `json:"firebaseUid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	Sector       string    `json:"sector"`
	SectorName   string    `json:"sectorName"`
	IsActive     bool      `json:"isActive"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// Sector is an attendance queue/department. Field names follow the remote
// service's wire format.
type Sector struct {
	ID           string    `json:"_id"`
	Nome         string    `json:"nome"`
	Descricao    string    `json:"descricao"`
	Responsavel  string    `json:"responsavel"`
	Ativo        bool      `json:"ativo"`
	FirebaseID   string    `json:"firebaseId"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}
