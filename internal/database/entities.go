package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatsync/internal/models"
)

// UpsertUser stores the local copy of a user profile.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (firebase_uid, email, display_name, role, sector, sector_name, is_active, last_synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(firebase_uid) DO UPDATE SET
                email = excluded.email,
                display_name = excluded.display_name,
                role = excluded.role,
                sector = excluded.sector,
                sector_name = excluded.sector_name,
                is_active = excluded.is_active,
                last_synced_at = excluded.last_synced_at`
	_, err := db.db.ExecContext(ctx, query,
		user.FirebaseUID, user.Email, user.DisplayName, user.Role,
		user.Sector, user.SectorName, user.IsActive, user.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, firebaseUID string) (*models.User, error) {
	query := `SELECT firebase_uid, email, display_name, role, sector, sector_name, is_active, last_synced_at
              FROM users WHERE firebase_uid = ?`

	var user models.User
	var displayName, role, sector, sectorName sql.NullString
	var lastSynced sql.NullTime
	err := db.db.QueryRowContext(ctx, query, firebaseUID).Scan(
		&user.FirebaseUID, &user.Email, &displayName, &role, &sector, &sectorName,
		&user.IsActive, &lastSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.DisplayName = displayName.String
	user.Role = role.String
	user.Sector = sector.String
	user.SectorName = sectorName.String
	user.LastSyncedAt = lastSynced.Time
	return &user, nil
}

// UpsertSector stores the local copy of a sector.
func (db *DB) UpsertSector(ctx context.Context, sector *models.Sector) error {
	query := `INSERT INTO sectors (id, nome, descricao, responsavel, ativo, firebase_id, last_synced_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                nome = excluded.nome,
                descricao = excluded.descricao,
                responsavel = excluded.responsavel,
                ativo = excluded.ativo,
                firebase_id = excluded.firebase_id,
                last_synced_at = excluded.last_synced_at`
	_, err := db.db.ExecContext(ctx, query,
		sector.ID, sector.Nome, sector.Descricao, sector.Responsavel,
		sector.Ativo, sector.FirebaseID, sector.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert sector: %w", err)
	}
	return nil
}

func (db *DB) GetSector(ctx context.Context, id string) (*models.Sector, error) {
	query := `SELECT id, nome, descricao, responsavel, ativo, firebase_id, last_synced_at
              FROM sectors WHERE id = ?`

	var sector models.Sector
	var descricao, responsavel, firebaseID sql.NullString
	var lastSynced sql.NullTime
	err := db.db.QueryRowContext(ctx, query, id).Scan(
		&sector.ID, &sector.Nome, &descricao, &responsavel, &sector.Ativo,
		&firebaseID, &lastSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sector: %w", err)
	}
	sector.Descricao = descricao.String
	sector.Responsavel = responsavel.String
	sector.FirebaseID = firebaseID.String
	sector.LastSyncedAt = lastSynced.Time
	return &sector, nil
}

// ListActiveSectors returns sectors available for transfer, ordered by name.
func (db *DB) ListActiveSectors(ctx context.Context) ([]models.Sector, error) {
	query := `SELECT id, nome, descricao, responsavel, ativo, firebase_id, last_synced_at
              FROM sectors WHERE ativo = 1 ORDER BY nome ASC`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sectors: %w", err)
	}
	defer rows.Close()

	var sectors []models.Sector
	for rows.Next() {
		var sector models.Sector
		var descricao, responsavel, firebaseID sql.NullString
		var lastSynced sql.NullTime
		if err := rows.Scan(&sector.ID, &sector.Nome, &descricao, &responsavel,
			&sector.Ativo, &firebaseID, &lastSynced); err != nil {
			return nil, fmt.Errorf("failed to scan sector: %w", err)
		}
		sector.Descricao = descricao.String
		sector.Responsavel = responsavel.String
		sector.FirebaseID = firebaseID.String
		sector.LastSyncedAt = lastSynced.Time
		sectors = append(sectors, sector)
	}
	return sectors, rows.Err()
}
