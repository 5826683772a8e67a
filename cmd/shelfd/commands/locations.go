package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shelffs/shelf/internal/cli/output"
	"github.com/shelffs/shelf/internal/cli/prompt"
	"github.com/shelffs/shelf/internal/deviceid"
	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/config"
	"github.com/shelffs/shelf/pkg/library"
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Manage indexed locations",
}

var locationAddMode string
var locationRemoveForce bool

var locationsAddCmd = &cobra.Command{
	Use:   "add NAME PATH",
	Short: "Add a directory tree as a new location and index it",
	Args:  cobra.ExactArgs(2),
	RunE:  runLocationsAdd,
}

var locationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known locations",
	RunE:  runLocationsList,
}

var locationsRemoveCmd = &cobra.Command{
	Use:   "remove UUID",
	Short: "Remove a location and its indexed entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationsRemove,
}

var locationsRescanCmd = &cobra.Command{
	Use:   "rescan UUID",
	Short: "Resubmit an indexing job for a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationsRescan,
}

func init() {
	locationsAddCmd.Flags().StringVar(&locationAddMode, "mode", "shallow", "index mode: shallow, content, or deep")
	locationsRemoveCmd.Flags().BoolVar(&locationRemoveForce, "force", false, "skip confirmation")

	locationsCmd.AddCommand(locationsAddCmd)
	locationsCmd.AddCommand(locationsListCmd)
	locationsCmd.AddCommand(locationsRemoveCmd)
	locationsCmd.AddCommand(locationsRescanCmd)
}

// openLocalLibrary opens a library with no transport, for CLI commands that
// only touch the local catalog and never need to dial a paired device.
func openLocalLibrary(ctx context.Context) (*library.Library, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	localDeviceID, err := deviceid.LoadOrCreate(filepath.Join(config.DefaultConfigDir(), "device-id"))
	if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}

	lib, err := library.Open(ctx, localDeviceID, cfg, library.Options{})
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	return lib, nil
}

func runLocationsAdd(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]

	mode := catalog.IndexMode(locationAddMode)
	switch mode {
	case catalog.IndexModeShallow, catalog.IndexModeContent, catalog.IndexModeDeep:
	default:
		return fmt.Errorf("invalid --mode %q (want shallow, content, or deep)", locationAddMode)
	}

	ctx := cmd.Context()
	lib, err := openLocalLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	loc, jobID, err := lib.AddLocation(ctx, name, path, mode)
	if err != nil {
		return fmt.Errorf("add location: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Location %s added (job %s queued)\n", loc.UUID, jobID)
	return nil
}

func runLocationsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lib, err := openLocalLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	locs, err := lib.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list locations: %w", err)
	}

	table := output.NewTableData("UUID", "NAME", "PATH", "MODE", "FILES", "BYTES")
	for _, loc := range locs {
		table.AddRow(
			loc.UUID,
			loc.Name,
			loc.RootPath,
			string(loc.IndexMode),
			strconv.FormatUint(loc.TotalFileCount, 10),
			strconv.FormatUint(loc.TotalByteSize, 10),
		)
	}
	return output.PrintTable(cmd.OutOrStdout(), table)
}

func runLocationsRemove(cmd *cobra.Command, args []string) error {
	uuid := args[0]

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Remove location %s and all its indexed entries?", uuid), locationRemoveForce)
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

	if err := lib.RemoveLocation(ctx, uuid); err != nil {
		return fmt.Errorf("remove location: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Location %s removed\n", uuid)
	return nil
}

func runLocationsRescan(cmd *cobra.Command, args []string) error {
	uuid := args[0]

	ctx := cmd.Context()
	lib, err := openLocalLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	jobID, err := lib.Rescan(ctx, uuid)
	if err != nil {
		return fmt.Errorf("rescan location: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Rescan queued for location %s (job %s)\n", uuid, jobID)
	return nil
}
