package item

import (
	"github.com/spf13/cobra"

	"github.com/alexanderwatt/corecache/cmd/util"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/client"
)

var (
	rpcStore store.IItemStore

	// ItemCommands represents the item command group
	ItemCommands = &cobra.Command{
		Use:               "item",
		Short:             "Perform item cache operations",
		PersistentPreRunE: setupItemClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the item command
	util.SetupRPCClientFlags(ItemCommands)

	// Add subcommands
	ItemCommands.AddCommand(saveCmd)
	ItemCommands.AddCommand(loadCmd)
	ItemCommands.AddCommand(loadByIdCmd)
	ItemCommands.AddCommand(selectCmd)
	ItemCommands.AddCommand(delCmd)
	ItemCommands.AddCommand(delWhereCmd)
	ItemCommands.AddCommand(subscribeCmd)
}

// setupItemClient initializes the RPC item store client
func setupItemClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	channel := util.GetChannel()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the item store client
	rpcStore, err = client.NewRPCItemStore(
		channel,
		*config,
		t,
		s,
	)

	return err
}
