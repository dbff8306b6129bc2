package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// The programs, studies and assays tables belong to the entity service; only the
// columns the code counters read are declared here so a fresh database can serve
// counts and enforce code uniqueness.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS file_storage_locations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		root_address VARCHAR(1024) NOT NULL,
		credential_ref VARCHAR(255) NULL,
		default_for_studies BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		config JSON NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_store_folders (
		id CHAR(36) PRIMARY KEY,
		location_id BIGINT NOT NULL,
		owner_kind VARCHAR(16) NOT NULL,
		owner_id BIGINT NOT NULL,
		path VARCHAR(1024) NOT NULL,
		folder_id VARCHAR(255) NULL,
		url VARCHAR(2048) NULL,
		name VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_folder_owner (owner_kind, owner_id),
		KEY idx_folder_location (location_id)
	)`,
	`CREATE TABLE IF NOT EXISTS programs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		code VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		KEY idx_program_code (code)
	)`,
	`CREATE TABLE IF NOT EXISTS studies (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		program_id BIGINT NOT NULL,
		code VARCHAR(64) NOT NULL,
		external_code VARCHAR(64) NULL,
		name VARCHAR(255) NOT NULL,
		legacy BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE KEY uq_study_code (code),
		UNIQUE KEY uq_study_external_code (external_code),
		KEY idx_study_program (program_id)
	)`,
	`CREATE TABLE IF NOT EXISTS assays (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		study_id BIGINT NOT NULL,
		code VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE KEY uq_assay_code (code),
		KEY idx_assay_study (study_id)
	)`,
}

// EnsureSchema creates the tables if needed.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
