package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/shelffs/shelf/pkg/wire"
)

// wireSchemaTypes lists every message pkg/wire exchanges over the paired
// connection, keyed by the name a client implementation would ask for. Kept
// as a plain map rather than reflecting over the package so the command's
// output is stable regardless of unexported helper types pkg/wire may grow.
var wireSchemaTypes = map[string]any{
	"device_info":            wire.DeviceInfo{},
	"pairing_request":        wire.PairingRequest{},
	"challenge":              wire.Challenge{},
	"response":               wire.Response{},
	"challenge_confirmation": wire.ChallengeConfirmation{},
	"pairing_complete":       wire.PairingComplete{},
	"keepalive":              wire.Keepalive{},
	"keepalive_response":     wire.KeepaliveResponse{},
	"request":                wire.Request{},
	"reply":                  wire.Reply{},
	"file_metadata":          wire.FileMetadata{},
	"ephemeral_share_params": wire.EphemeralShareParams{},
	"transfer_request":       wire.TransferRequest{},
	"transfer_response":      wire.TransferResponse{},
	"file_chunk":             wire.FileChunk{},
	"chunk_ack":              wire.ChunkAck{},
	"transfer_complete":      wire.TransferComplete{},
	"transfer_final_ack":     wire.TransferFinalAck{},
	"transfer_error":         wire.TransferError{},
}

var schemaCmd = &cobra.Command{
	Use:   "schema [MESSAGE]",
	Short: "Print the JSON Schema for a wire protocol message",
	Long: `Print the JSON Schema for one of shelf's wire protocol messages
(§4.E/§4.F/§4.G), derived from the struct tags on pkg/wire's message types.
Useful for generating client bindings or validating captured traffic without
depending on this Go module directly.

Run with no arguments to list the available message names.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		names := make([]string, 0, len(wireSchemaTypes))
		for name := range wireSchemaTypes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	name := args[0]
	msg, ok := wireSchemaTypes[name]
	if !ok {
		return fmt.Errorf("unknown message %q (run \"shelfd schema\" to list available messages)", name)
	}

	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(msg)
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", name, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
