package wire

import "time"

// --- Pairing (§4.E) ---------------------------------------------------------

type DeviceInfo struct {
	DeviceID string `json:"device_id" jsonschema:"required"`
	Name     string `json:"name" jsonschema:"required"`
	Platform string `json:"platform,omitempty"`
}

type PairingRequest struct {
	SessionID      string     `json:"session_id" jsonschema:"required"`
	JoinerDevice   DeviceInfo `json:"joiner_device" jsonschema:"required"`
	JoinerPublicKey []byte     `json:"joiner_public_key" jsonschema:"required"`
}

type Challenge struct {
	SessionID         string     `json:"session_id" jsonschema:"required"`
	InitiatorNonce    [16]byte   `json:"initiator_nonce" jsonschema:"required"`
	InitiatorDevice   DeviceInfo `json:"initiator_device" jsonschema:"required"`
	InitiatorPublicKey []byte     `json:"initiator_public_key" jsonschema:"required"`
}

type Response struct {
	SessionID    string   `json:"session_id" jsonschema:"required"`
	ResponseHash [32]byte `json:"response_hash" jsonschema:"required"`
	JoinerNonce  [16]byte `json:"joiner_nonce" jsonschema:"required"`
}

type ChallengeConfirmation struct {
	SessionID        string   `json:"session_id" jsonschema:"required"`
	ConfirmationHash [32]byte `json:"confirmation_hash" jsonschema:"required"`
}

type PairingComplete struct {
	SessionID string `json:"session_id" jsonschema:"required"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// --- Connection (§4.F) ------------------------------------------------------

type Keepalive struct {
	SentAt time.Time `json:"sent_at" jsonschema:"required"`
}

type KeepaliveResponse struct {
	EchoedAt time.Time `json:"echoed_at" jsonschema:"required"`
}

// Request wraps an application payload needing a correlated Reply.
// RequestID is generated by generateRequestID (pkg/connection) and is not a
// security boundary, only a local correlation key (§9).
type Request struct {
	RequestID string `json:"request_id" jsonschema:"required"`
	Method    string `json:"method" jsonschema:"required"`
	Body      []byte `json:"body,omitempty"`
}

type Reply struct {
	RequestID string `json:"request_id" jsonschema:"required"`
	OK        bool   `json:"ok"`
	Body      []byte `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
}

// --- Transfer (§4.G) ---------------------------------------------------------

type TransferMode string

const (
	TransferModeTrustedCopy    TransferMode = "trusted_copy"
	TransferModeEphemeralShare TransferMode = "ephemeral_share"
)

type FileMetadata struct {
	Name       string    `json:"name" jsonschema:"required"`
	Size       uint64    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	IsDir      bool      `json:"is_dir"`
	Checksum   []byte    `json:"checksum,omitempty"`
	MIME       string    `json:"mime,omitempty"`
}

type EphemeralShareParams struct {
	ConsentPublicKey []byte `json:"consent_public_key" jsonschema:"required"`
	ConsentToken     string `json:"consent_token" jsonschema:"required"`
	Name             string `json:"name" jsonschema:"required"`
}

type TransferRequest struct {
	TransferID      string               `json:"transfer_id" jsonschema:"required"`
	FileMetadata    FileMetadata         `json:"file_metadata" jsonschema:"required"`
	Mode            TransferMode         `json:"mode" jsonschema:"required"`
	EphemeralShare  EphemeralShareParams `json:"ephemeral_share,omitempty"`
	ChunkSize       uint32               `json:"chunk_size" jsonschema:"required"`
	TotalChunks     uint32               `json:"total_chunks" jsonschema:"required"`
	DestinationPath string               `json:"destination_path" jsonschema:"required"`
}

type TransferResponse struct {
	TransferID      string `json:"transfer_id" jsonschema:"required"`
	Accepted        bool   `json:"accepted"`
	Reason          string `json:"reason,omitempty"`
	SupportedResume bool   `json:"supported_resume"`
}

type FileChunk struct {
	TransferID     string   `json:"transfer_id" jsonschema:"required"`
	ChunkIndex     uint32   `json:"chunk_index"`
	Data           []byte   `json:"data" jsonschema:"required"`
	Nonce          [12]byte `json:"nonce" jsonschema:"required"`
	ChunkChecksum  [32]byte `json:"chunk_checksum" jsonschema:"required"`
}

type ChunkAck struct {
	TransferID   string `json:"transfer_id" jsonschema:"required"`
	ChunkIndex   uint32 `json:"chunk_index"`
	NextExpected uint32 `json:"next_expected"`
}

type TransferComplete struct {
	TransferID    string   `json:"transfer_id" jsonschema:"required"`
	FinalChecksum [32]byte `json:"final_checksum" jsonschema:"required"`
	TotalBytes    uint64   `json:"total_bytes"`
}

type TransferFinalAck struct {
	TransferID string `json:"transfer_id" jsonschema:"required"`
}

type TransferErrorKind string

const (
	TransferErrorChecksumMismatch TransferErrorKind = "checksum_mismatch"
	TransferErrorIO               TransferErrorKind = "io_error"
	TransferErrorRejected         TransferErrorKind = "rejected"
)

type TransferError struct {
	TransferID  string            `json:"transfer_id" jsonschema:"required"`
	Kind        TransferErrorKind `json:"kind" jsonschema:"required"`
	Recoverable bool              `json:"recoverable"`
	Message     string            `json:"message,omitempty"`
}
