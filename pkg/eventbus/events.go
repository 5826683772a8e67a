// Package eventbus implements the publish/subscribe fan-out described in
// §4.J: every subscriber receives every event published after it subscribed,
// delivery to a given subscriber preserves publisher order, and a slow
// subscriber misses events rather than stalling the publisher.
package eventbus

import "time"

// Kind identifies the domain an Event belongs to.
type Kind string

const (
	KindLibrary    Kind = "library"
	KindLocation   Kind = "location"
	KindIndexing   Kind = "indexing"
	KindJob        Kind = "job"
	KindDevice     Kind = "device"
	KindConnection Kind = "connection"
	KindTransfer   Kind = "transfer"
)

// Event is the envelope carried on the bus. Payload holds one of the typed
// structs below; Kind lets subscribers filter cheaply before a type switch.
type Event struct {
	Kind    Kind
	At      time.Time
	Payload any
}

// --- Library lifecycle -----------------------------------------------------

type LibraryOpened struct {
	LibraryID string
}

type LibraryClosed struct {
	LibraryID string
	Destroyed bool // true if the directory was also removed
}

// --- Location lifecycle -----------------------------------------------------

type LocationAdded struct {
	LocationID string
	Name       string
	RootPath   string
}

type LocationRemoved struct {
	LocationID string
}

// --- Indexing progress (§4.C) -----------------------------------------------

type IndexingProgress struct {
	JobID         string
	LocationID    string
	Phase         string // "discovery" | "processing" | "content_identification" | "complete"
	CurrentPath   string
	FilesSeen     uint64
	DirsSeen      uint64
	SymlinksSeen  uint64
	BytesSeen     uint64
	RatePerSecond float64
	EstRemaining  *time.Duration
}

// --- Job transitions (§4.D) -------------------------------------------------

type JobStateChanged struct {
	JobID string
	Name  string
	From  string
	To    string
}

// --- Device / connection state (§4.E, §4.F) ---------------------------------

type DeviceStateChanged struct {
	DeviceID   string
	TrustLevel string
}

type ConnectionStateChanged struct {
	DeviceID string
	From     string
	To       string
	Reason   string
}

// --- Transfer progress (§4.G) -----------------------------------------------

type TransferProgress struct {
	TransferID       string
	ChunkIndex       uint32
	TotalChunks      uint32
	NextExpected     uint32
	BytesTransferred uint64
	TotalBytes       uint64
}

type TransferCompleted struct {
	TransferID string
	Success    bool
	Reason     string
}
