package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelffs/shelf/internal/cli/output"
	"github.com/shelffs/shelf/internal/cli/prompt"
	"github.com/shelffs/shelf/pkg/catalog"
)

var deviceRevokeForce bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage paired devices",
	Long: `List and revoke already-paired devices.

Pairing a new device requires an out-of-band rendezvous (a shared code
exchanged over a side channel) and is not part of this CLI; see the
pairing package for the initiator/joiner handshake.`,
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List paired devices",
	RunE:  runDevicesList,
}

var devicesRevokeCmd = &cobra.Command{
	Use:   "revoke DEVICE_ID",
	Short: "Revoke a paired device's trust",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesRevoke,
}

func init() {
	devicesRevokeCmd.Flags().BoolVar(&deviceRevokeForce, "force", false, "skip confirmation")

	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesRevokeCmd)
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lib, err := openLocalLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	var devices []catalog.PairedDevice
	if err := lib.DB.Order("device_name").Find(&devices).Error; err != nil {
		return fmt.Errorf("list paired devices: %w", err)
	}

	table := output.NewTableData("DEVICE ID", "NAME", "PLATFORM", "TRUST", "LAST CONNECTED")
	for _, d := range devices {
		lastConnected := "never"
		if d.LastConnectedAt != nil {
			lastConnected = d.LastConnectedAt.Format(time.RFC3339)
		}
		table.AddRow(d.DeviceID, d.DeviceName, d.Platform, string(d.TrustLevel), lastConnected)
	}
	return output.PrintTable(cmd.OutOrStdout(), table)
}

func runDevicesRevoke(cmd *cobra.Command, args []string) error {
	deviceID := args[0]

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Revoke trust for device %s?", deviceID), deviceRevokeForce)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	ctx := cmd.Context()
	lib, err := openLocalLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	result := lib.DB.Model(&catalog.PairedDevice{}).
		Where("device_id = ?", deviceID).
		Update("trust_level", catalog.TrustRevoked)
	if result.Error != nil {
		return fmt.Errorf("revoke device: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no paired device with id %s", deviceID)
	}

	if lib.Conn != nil {
		if err := lib.Conn.Revoke(ctx, deviceID); err != nil {
			return fmt.Errorf("disconnect revoked device: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Device %s revoked\n", deviceID)
	return nil
}
