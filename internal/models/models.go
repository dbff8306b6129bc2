package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LocationType is the declared backend of a storage location
type LocationType string

const (
	LocationLocal          LocationType = "LOCAL"
	LocationObjectStore    LocationType = "OBJECT_STORE"
	LocationAWSS3          LocationType = "AWS_S3"
	LocationEnterpriseSync LocationType = "ENTERPRISE_SYNC"
)

// ParseLocationType accepts the declared type in any case.
func ParseLocationType(s string) (LocationType, error) {
	t := LocationType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case LocationLocal, LocationObjectStore, LocationAWSS3, LocationEnterpriseSync:
		return t, nil
	}
	return "", fmt.Errorf("unknown location type %q", s)
}

// FileStorageLocation is a configured, addressable root within a backend
type FileStorageLocation struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Type              LocationType    `json:"type"`
	RootAddress       string          `json:"root_address"`
	CredentialRef     string          `json:"credential_ref,omitempty"`
	DefaultForStudies bool            `json:"default_for_studies"`
	Active            bool            `json:"active"`
	Config            json.RawMessage `json:"config,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Settings holds the optional per-backend knobs stored in FileStorageLocation.Config
type Settings struct {
	Endpoint       string `json:"endpoint"`
	Region         string `json:"region"`
	UseSSL         bool   `json:"use_ssl"`
	RootFolder     string `json:"root_folder"`
	PageSize       int    `json:"page_size"`
	RequestTimeout string `json:"request_timeout"`
	ChunkSizeMB    int    `json:"chunk_size_mb"`
}

// Settings decodes the location's backend settings. An empty config yields zero values.
func (l *FileStorageLocation) Settings() (Settings, error) {
	var s Settings
	if len(l.Config) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(l.Config, &s); err != nil {
		return s, fmt.Errorf("location %d: parse config: %w", l.ID, err)
	}
	return s, nil
}

// Timeout returns the configured request timeout or def when unset or invalid.
func (s Settings) Timeout(def time.Duration) time.Duration {
	if s.RequestTimeout == "" {
		return def
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Credentials are resolved from a location's CredentialRef
type Credentials struct {
	AccessKey string
	SecretKey string
	Token     string
}

// OwnerKind identifies the domain entity type owning a folder
type OwnerKind string

const (
	OwnerProgram OwnerKind = "program"
	OwnerStudy   OwnerKind = "study"
	OwnerAssay   OwnerKind = "assay"
)

// FolderOwner is the derived folder address of a domain entity.
// Segments are folder names, outermost first.
type FolderOwner struct {
	Kind     OwnerKind
	ID       int64
	Segments []string
}

// Name is the owner's own folder name.
func (o FolderOwner) Name() string {
	if len(o.Segments) == 0 {
		return ""
	}
	return o.Segments[len(o.Segments)-1]
}

// FileStoreFolder is the persisted pointer from a domain entity to its remote folder
type FileStoreFolder struct {
	ID         string    `json:"id"`
	LocationID int64     `json:"location_id"`
	OwnerKind  OwnerKind `json:"owner_kind"`
	OwnerID    int64     `json:"owner_id"`
	Path       string    `json:"path"`
	FolderID   string    `json:"folder_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FileStoreFolderFrom builds a new reference record for a provisioned folder.
func FileStoreFolderFrom(loc *FileStorageLocation, owner FolderOwner, folder *StorageFolder) *FileStoreFolder {
	return &FileStoreFolder{
		LocationID: loc.ID,
		OwnerKind:  owner.Kind,
		OwnerID:    owner.ID,
		Path:       folder.Path,
		FolderID:   folder.FolderID,
		URL:        folder.URL,
		Name:       folder.Name,
		Active:     true,
	}
}

// Matches reports whether the record already points at folder.
func (f *FileStoreFolder) Matches(folder *StorageFolder) bool {
	return f.Name == folder.Name && f.Path == folder.Path &&
		f.URL == folder.URL && f.FolderID == folder.FolderID
}

// Program is a research program
type Program struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Collaborator is an external partner owning an external code prefix
type Collaborator struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Study belongs to a program and optionally to a collaborator
type Study struct {
	ID           int64         `json:"id"`
	Code         string        `json:"code"`
	ExternalCode string        `json:"external_code,omitempty"`
	Name         string        `json:"name"`
	Program      *Program      `json:"program"`
	Collaborator *Collaborator `json:"collaborator,omitempty"`
	Legacy       bool          `json:"legacy"`
	Active       bool          `json:"active"`
}

// Assay belongs to a study
type Assay struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Study  *Study `json:"study"`
	Active bool   `json:"active"`
}

// ChunkData holds one chunk of a stream during chunked uploads
type ChunkData struct {
	Data       []byte
	OrderIndex int
	Hash       string
	Size       int64
	Last       bool
}
