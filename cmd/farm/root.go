package farm

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexanderwatt/corecache/cmd/util"
	libfarm "github.com/alexanderwatt/corecache/lib/farm"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/rpc/client"
)

var (
	// FarmCmd runs one member of the valuation worker farm
	FarmCmd = &cobra.Command{
		Use:   "farm",
		Short: "Run a valuation worker farm member",
		Long: `Run one member of the request-processing worker farm against a remote
cache server. The member claims the requests it owns (by consistent hash of
the request id over the farm size), executes the portfolio valuation
workflow, and publishes result items back to the cache.`,
		RunE: runFarm,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags
	util.SetupRPCClientFlags(FarmCmd)

	key := "member-index"
	FarmCmd.PersistentFlags().Int(key, 0, util.WrapString("Index of this member within the farm (0-based)"))

	key = "farm-size"
	FarmCmd.PersistentFlags().Int(key, 1, util.WrapString("Total number of members in the farm"))

	key = "lease"
	FarmCmd.PersistentFlags().Duration(key, time.Minute, util.WrapString("Subscription lease duration; leases are renewed at half this interval"))
}

// runFarm wires a worker to a remote cache: one item store client for reads
// and result publishing, one subscription client feeding the worker's
// change stream.
func runFarm(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	channel := util.GetChannel()
	memberIndex := viper.GetInt("member-index")
	farmSize := viper.GetInt("farm-size")
	lease := viper.GetDuration("lease")

	if farmSize < 1 {
		return fmt.Errorf("farm-size must be at least 1")
	}
	if memberIndex < 0 || memberIndex >= farmSize {
		return fmt.Errorf("member-index %d out of range for farm size %d", memberIndex, farmSize)
	}

	ser, err := util.GetSerializer()
	if err != nil {
		return err
	}

	// Item store client
	storeTransport, err := util.GetTransport()
	if err != nil {
		return err
	}
	itemStore, err := client.NewRPCItemStore(channel, *config, storeTransport, ser)
	if err != nil {
		return err
	}

	// Subscription client on its own transport
	subsTransport, err := util.GetTransport()
	if err != nil {
		return err
	}
	subsClient, err := client.NewRPCSubscriptionClient(channel, *config, subsTransport, ser)
	if err != nil {
		return err
	}
	defer subsClient.Close()

	// Create and start the worker
	worker := libfarm.NewWorker(itemStore, libfarm.ValuationWorkflow{}, libfarm.Options{
		MemberIndex: memberIndex,
		FarmSize:    farmSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	// Feed the worker from subscriptions on the farm data types
	deliver := func(_ uuid.UUID, items []*item.Item) {
		for _, it := range items {
			worker.OnItemChanged(it)
		}
	}

	subIds := make([]uuid.UUID, 0, 3)
	for _, dataType := range []string{
		libfarm.RequestDataType,
		libfarm.CancellationDataType,
		libfarm.ResultDataType,
	} {
		subId, err := subsClient.Subscribe(dataType, nil, time.Now().Add(lease), deliver)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", dataType, err)
		}
		subIds = append(subIds, subId)
	}

	fmt.Printf("farm member %d/%d running against %v, press Ctrl-C to stop\n",
		memberIndex, farmSize, config.Endpoints)

	// Renew leases until interrupted
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	renew := time.NewTicker(lease / 2)
	defer renew.Stop()

	for {
		select {
		case <-renew.C:
			for _, subId := range subIds {
				if err := subsClient.Extend(subId, time.Now().Add(lease)); err != nil {
					return fmt.Errorf("failed to renew subscription %s: %w", subId, err)
				}
			}
		case <-stop:
			fmt.Println("shutting down")
			return nil
		}
	}
}
