// Package catalog defines the gorm models for a library's persistent state
// (§3 DATA MODEL): the content-addressed path store, entries, content
// identities, locations, user metadata, sidecars, jobs, and paired devices.
//
// Modeled the way the teacher models its control-plane entities
// (pkg/controlplane/models/share.go): plain structs with gorm tags, a
// TableName method, auto-increment primary keys with a separate unique uuid
// column where a row needs a stable external id, JSON blob columns for loosely
// structured data, and small Get/Set helpers around those blobs rather than
// a generic untyped map column.
package catalog

import (
	"encoding/json"
	"time"
)

// PathPrefix interns a leading directory string once per device (§4.A).
type PathPrefix struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID string `gorm:"not null;size:64;uniqueIndex:idx_prefix_device_path" json:"device_id"`
	Prefix   string `gorm:"not null;type:text;uniqueIndex:idx_prefix_device_path" json:"prefix"`
}

func (PathPrefix) TableName() string { return "path_prefixes" }

// EntryKind enumerates an Entry's filesystem kind.
type EntryKind string

const (
	EntryKindFile      EntryKind = "file"
	EntryKindDirectory EntryKind = "directory"
	EntryKindSymlink   EntryKind = "symlink"
)

// Entry is one indexed filesystem object (§3).
type Entry struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          string     `gorm:"not null;size:36;uniqueIndex" json:"uuid"`
	PrefixID      uint64     `gorm:"not null;index" json:"prefix_id"`
	RelativePath  string     `gorm:"not null;type:text" json:"relative_path"`
	Name          string     `gorm:"not null;size:255" json:"name"`
	Kind          EntryKind  `gorm:"not null;size:16" json:"kind"`
	Size          uint64     `json:"size"`
	ModifiedAt    time.Time  `json:"modified_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	AccessedAt    *time.Time `json:"accessed_at,omitempty"`
	MetadataID    uint64     `gorm:"not null;index" json:"metadata_id"`
	ContentID     *uint64    `gorm:"index" json:"content_id,omitempty"`
	LocationID    *uint64    `gorm:"index" json:"location_id,omitempty"`
	ParentID      *uint64    `gorm:"index" json:"parent_id,omitempty"`

	Prefix   PathPrefix       `gorm:"foreignKey:PrefixID" json:"-"`
	Metadata UserMetadata     `gorm:"foreignKey:MetadataID" json:"-"`
	Content  *ContentIdentity `gorm:"foreignKey:ContentID" json:"-"`
}

func (Entry) TableName() string { return "entries" }

// ContentIdentityKind broadly classifies the media behind a ContentIdentity.
type ContentIdentityKind string

const (
	ContentKindGeneric ContentIdentityKind = "generic"
	ContentKindImage   ContentIdentityKind = "image"
	ContentKindVideo   ContentIdentityKind = "video"
	ContentKindAudio   ContentIdentityKind = "audio"
	ContentKindDocument ContentIdentityKind = "document"
)

// ContentIdentity is the dedup key for byte-identical file content (§3, §4.B).
type ContentIdentity struct {
	ID             uint64              `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID           string              `gorm:"not null;size:36;uniqueIndex" json:"uuid"`
	CasID          string              `gorm:"not null;size:128;uniqueIndex" json:"cas_id"`
	CasVersion     int                 `gorm:"not null" json:"cas_version"`
	TotalSize      uint64              `json:"total_size"`
	EntryCount     int64               `gorm:"not null;default:1" json:"entry_count"`
	FirstSeenAt    time.Time           `gorm:"autoCreateTime" json:"first_seen_at"`
	LastVerifiedAt time.Time           `json:"last_verified_at"`
	Kind           ContentIdentityKind `gorm:"size:32" json:"kind"`
	MediaData      string              `gorm:"type:text" json:"-"`
}

func (ContentIdentity) TableName() string { return "content_identities" }

// GetMediaData unmarshals the MediaData JSON blob.
func (c *ContentIdentity) GetMediaData() (map[string]any, error) {
	if c.MediaData == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(c.MediaData), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetMediaData marshals data into the MediaData JSON blob.
func (c *ContentIdentity) SetMediaData(data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.MediaData = string(encoded)
	return nil
}

// IndexMode controls how deep a Location's indexer pipeline runs (§4.C).
type IndexMode string

const (
	IndexModeShallow IndexMode = "shallow"
	IndexModeContent IndexMode = "content"
	IndexModeDeep    IndexMode = "deep"
)

// AtLeast reports whether m is at least as deep as other, ordered
// shallow < content < deep.
func (m IndexMode) AtLeast(other IndexMode) bool {
	rank := map[IndexMode]int{IndexModeShallow: 0, IndexModeContent: 1, IndexModeDeep: 2}
	return rank[m] >= rank[other]
}

// Location is a rooted subtree that a library indexes (§3).
type Location struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          string    `gorm:"not null;size:36;uniqueIndex" json:"uuid"`
	DeviceID      string    `gorm:"not null;size:64;index" json:"device_id"`
	RootEntryID   *uint64   `gorm:"index" json:"root_entry_id,omitempty"`
	Name          string    `gorm:"not null;size:255" json:"name"`
	RootPath      string    `gorm:"not null;type:text" json:"root_path"`
	IndexMode     IndexMode `gorm:"not null;size:16;default:shallow" json:"index_mode"`
	TotalFileCount uint64   `json:"total_file_count"`
	TotalByteSize  uint64   `json:"total_byte_size"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Location) TableName() string { return "locations" }

// UserMetadata holds user-editable annotations on an Entry or ContentIdentity.
// Created implicitly whenever an Entry is created (§3).
type UserMetadata struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID        string    `gorm:"not null;size:36;uniqueIndex" json:"uuid"`
	EntryUUID   string    `gorm:"size:36;index" json:"entry_uuid,omitempty"`
	ContentUUID string    `gorm:"size:36;index" json:"content_uuid,omitempty"`
	Notes       string    `gorm:"type:text" json:"notes,omitempty"`
	Favorite    bool      `gorm:"default:false" json:"favorite"`
	Hidden      bool      `gorm:"default:false" json:"hidden"`
	CustomData  string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserMetadata) TableName() string { return "user_metadata" }

// GetCustomData unmarshals the CustomData JSON blob via mapstructure-friendly
// map[string]any (decoded by callers with mitchellh/mapstructure where a
// concrete type is needed, e.g. sidecar generation parameters).
func (m *UserMetadata) GetCustomData() (map[string]any, error) {
	if m.CustomData == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(m.CustomData), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetCustomData marshals data into the CustomData JSON blob.
func (m *UserMetadata) SetCustomData(data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.CustomData = string(encoded)
	return nil
}

// SidecarKind enumerates the derived-artifact kinds a library can produce.
type SidecarKind string

const (
	SidecarKindThumb          SidecarKind = "thumb"
	SidecarKindProxy          SidecarKind = "proxy"
	SidecarKindEmbedding      SidecarKind = "embedding"
	SidecarKindOCR            SidecarKind = "ocr"
	SidecarKindTranscript     SidecarKind = "transcript"
	SidecarKindLivePhotoVideo SidecarKind = "live_photo_video"
)

// SidecarStatus tracks a sidecar's generation lifecycle (§4.H).
type SidecarStatus string

const (
	SidecarStatusPending SidecarStatus = "pending"
	SidecarStatusReady   SidecarStatus = "ready"
	SidecarStatusFailed  SidecarStatus = "failed"
)

// Sidecar is a derived artifact addressed by (content_uuid, kind, variant) (§3, §4.H).
type Sidecar struct {
	ID          uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentUUID string        `gorm:"not null;size:36;uniqueIndex:idx_sidecar_identity" json:"content_uuid"`
	Kind        SidecarKind   `gorm:"not null;size:32;uniqueIndex:idx_sidecar_identity" json:"kind"`
	Variant     string        `gorm:"not null;size:64;uniqueIndex:idx_sidecar_identity" json:"variant"`
	Format      string        `gorm:"not null;size:16" json:"format"`
	RelPath     string        `gorm:"not null;type:text" json:"rel_path"`
	Size        uint64        `json:"size"`
	Checksum    string        `gorm:"size:64" json:"checksum,omitempty"`
	Status      SidecarStatus `gorm:"not null;size:16;default:pending" json:"status"`
	Source      string        `gorm:"size:255" json:"source,omitempty"`
	Version     int           `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Sidecar) TableName() string { return "sidecars" }

// SidecarAvailability tracks per-device presence of a sidecar (§3).
type SidecarAvailability struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentUUID string    `gorm:"not null;size:36;uniqueIndex:idx_availability_identity" json:"content_uuid"`
	Kind        SidecarKind `gorm:"not null;size:32;uniqueIndex:idx_availability_identity" json:"kind"`
	Variant     string    `gorm:"not null;size:64;uniqueIndex:idx_availability_identity" json:"variant"`
	DeviceUUID  string    `gorm:"not null;size:36;uniqueIndex:idx_availability_identity" json:"device_uuid"`
	Has         bool      `json:"has"`
	Size        uint64    `json:"size,omitempty"`
	Checksum    string    `gorm:"size:64" json:"checksum,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func (SidecarAvailability) TableName() string { return "sidecar_availabilities" }

// JobState is a Job's lifecycle state (§3, §4.D).
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStatePaused    JobState = "paused"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Job is a long-running named task owned by the scheduler (§3, §4.D).
type Job struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID              string    `gorm:"not null;size:36;uniqueIndex" json:"uuid"`
	Name              string    `gorm:"not null;size:255" json:"name"`
	Kind              string    `gorm:"not null;size:64" json:"kind"`
	State             JobState  `gorm:"not null;size:16;default:pending" json:"state"`
	Resumable         bool      `gorm:"default:false" json:"resumable"`
	Persisted         bool      `gorm:"default:false" json:"persisted"`
	Progress          string    `gorm:"type:text" json:"-"`
	CheckpointBlob    []byte    `gorm:"type:blob" json:"-"`
	NonCriticalErrors string    `gorm:"type:text" json:"-"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// TrustLevel is a PairedDevice's trust state (§3).
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustTrusted   TrustLevel = "trusted"
	TrustRevoked   TrustLevel = "revoked"
)

// PairedDevice is a remote device authenticated via pairing (§3, §4.E).
type PairedDevice struct {
	DeviceID            string     `gorm:"primaryKey;size:64" json:"device_id"`
	DeviceName          string     `gorm:"size:255" json:"device_name"`
	Platform            string     `gorm:"size:64" json:"platform,omitempty"`
	TrustLevel          TrustLevel `gorm:"not null;size:16;default:untrusted" json:"trust_level"`
	EncryptedSessionKeys []byte    `gorm:"type:blob" json:"-"`
	KnownAddresses      string     `gorm:"type:text" json:"-"`
	LastConnectedAt     *time.Time `json:"last_connected_at,omitempty"`
	AutoConnect         bool       `gorm:"default:true" json:"auto_connect"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PairedDevice) TableName() string { return "paired_devices" }

// GetKnownAddresses unmarshals the KnownAddresses JSON array.
func (d *PairedDevice) GetKnownAddresses() ([]string, error) {
	if d.KnownAddresses == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(d.KnownAddresses), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetKnownAddresses marshals addrs into the KnownAddresses JSON array.
func (d *PairedDevice) SetKnownAddresses(addrs []string) error {
	encoded, err := json.Marshal(addrs)
	if err != nil {
		return err
	}
	d.KnownAddresses = string(encoded)
	return nil
}

// AllModels returns every model for gorm.AutoMigrate, mirroring the
// teacher's models.AllModels() registration pattern.
func AllModels() []any {
	return []any{
		&PathPrefix{},
		&Entry{},
		&ContentIdentity{},
		&Location{},
		&UserMetadata{},
		&Sidecar{},
		&SidecarAvailability{},
		&Job{},
		&PairedDevice{},
	}
}
