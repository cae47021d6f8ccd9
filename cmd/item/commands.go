package item

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alexanderwatt/corecache/cmd/util"
	"github.com/alexanderwatt/corecache/lib/expr"
	libitem "github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/client"
)

var (
	expectedUsn int64
	expiresIn   int64
	saveProps   []string

	filterPrefix string
	filterProps  []string

	selectMinUsn         uint64
	selectIncludeDeleted bool
	selectExcludeBody    bool
	selectStartRow       int
	selectRowCount       int
	selectAsAt           string

	subscribeDuration time.Duration

	saveCmd = &cobra.Command{
		Use:   "save [name] [dataType] [body]",
		Short: "Saves a new revision of an item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProps(saveProps)
			if err != nil {
				return err
			}

			req := store.SaveRequest{
				Name:        args[0],
				Kind:        libitem.KindObject,
				DataType:    args[1],
				Body:        []byte(args[2]),
				Props:       props,
				ExpectedUsn: store.AnyUsn,
			}
			if expectedUsn >= 0 {
				req.ExpectedUsn = uint64(expectedUsn)
			}
			if expiresIn > 0 {
				req.Expires = time.Now().Add(time.Duration(expiresIn) * time.Second)
			}

			usn, err := rpcStore.Save(req)
			if err != nil {
				return err
			}
			fmt.Printf("saved %s, usn=%d\n", args[0], usn)
			return nil
		},
	}

	loadCmd = &cobra.Command{
		Use:   "load [name]",
		Short: "Loads the latest live revision of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := rpcStore.Load(args[0])
			if err != nil {
				return err
			}
			printItem(it)
			return nil
		},
	}

	loadByIdCmd = &cobra.Command{
		Use:   "load-by-id [id]",
		Short: "Loads a historical revision by its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid revision id: %w", err)
			}
			it, err := rpcStore.LoadById(id)
			if err != nil {
				return err
			}
			printItem(it)
			return nil
		},
	}

	selectCmd = &cobra.Command{
		Use:   "select [dataType]",
		Short: "Queries items by data type and filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter()
			if err != nil {
				return err
			}

			q := store.Query{
				Filter:         filter,
				MinimumUsn:     selectMinUsn,
				IncludeDeleted: selectIncludeDeleted,
				ExcludeBody:    selectExcludeBody,
				StartRow:       selectStartRow,
				RowCount:       selectRowCount,
			}
			if len(args) == 1 {
				q.DataType = args[0]
			}
			if selectAsAt != "" {
				asAt, err := time.Parse(time.RFC3339, selectAsAt)
				if err != nil {
					return fmt.Errorf("invalid as-at time (want RFC3339): %w", err)
				}
				q.AsAtTime = asAt
			}

			items, err := rpcStore.Select(q)
			if err != nil {
				return err
			}

			fmt.Printf("%d items\n", len(items))
			for _, it := range items {
				printItem(it)
			}
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [name]",
		Short: "Tombstones the latest revision of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			usn, err := rpcStore.Delete(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted %s, usn=%d\n", args[0], usn)
			return nil
		},
	}

	delWhereCmd = &cobra.Command{
		Use:   "del-where [dataType]",
		Short: "Tombstones all live items of a data type matching the filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter()
			if err != nil {
				return err
			}
			count, err := rpcStore.DeleteWhere(args[0], filter)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d items\n", count)
			return nil
		},
	}

	subscribeCmd = &cobra.Command{
		Use:   "subscribe [dataType]",
		Short: "Subscribes to item changes and prints deliveries until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSubscribe,
	}
)

func init() {
	saveCmd.Flags().Int64Var(&expectedUsn, "expected-usn", -1, util.WrapString("Expected current USN of the item for optimistic concurrency (-1 disables the check)"))
	saveCmd.Flags().Int64Var(&expiresIn, "expires-in", 0, util.WrapString("Expiry of the revision in seconds from now (0 = never)"))
	saveCmd.Flags().StringArrayVar(&saveProps, "prop", nil, util.WrapString("Property to stamp into the item, format key=value (repeatable)"))

	for _, cmd := range []*cobra.Command{selectCmd, delWhereCmd, subscribeCmd} {
		cmd.Flags().StringVar(&filterPrefix, "name-prefix", "", util.WrapString("Match only items whose name starts with this prefix"))
		cmd.Flags().StringArrayVar(&filterProps, "prop", nil, util.WrapString("Match only items with this property, format key=value (repeatable)"))
	}

	selectCmd.Flags().Uint64Var(&selectMinUsn, "min-usn", 0, util.WrapString("Match only revisions with USN greater than or equal to this value (delta sync)"))
	selectCmd.Flags().BoolVar(&selectIncludeDeleted, "include-deleted", false, util.WrapString("Include tombstoned items in the result"))
	selectCmd.Flags().BoolVar(&selectExcludeBody, "exclude-body", false, util.WrapString("Return item metadata only, without bodies"))
	selectCmd.Flags().IntVar(&selectStartRow, "start-row", 0, util.WrapString("First result row to return (paging)"))
	selectCmd.Flags().IntVar(&selectRowCount, "row-count", 0, util.WrapString("Maximum number of rows to return (0 = all)"))
	selectCmd.Flags().StringVar(&selectAsAt, "as-at", "", util.WrapString("Evaluate the query as at this RFC3339 time (time travel)"))

	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", time.Hour, util.WrapString("Lease duration of the subscription"))
}

// runSubscribe creates a subscription client on its own transport and prints
// deliveries until the process is interrupted or the lease runs out.
func runSubscribe(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	dataType := ""
	if len(args) == 1 {
		dataType = args[0]
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	subsClient, err := client.NewRPCSubscriptionClient(util.GetChannel(), *util.GetClientConfig(), t, s)
	if err != nil {
		return err
	}
	defer subsClient.Close()

	subId, err := subsClient.Subscribe(dataType, filter, time.Now().Add(subscribeDuration),
		func(_ uuid.UUID, items []*libitem.Item) {
			for _, it := range items {
				printItem(it)
			}
		})
	if err != nil {
		return err
	}

	fmt.Printf("subscription %s active, press Ctrl-C to stop\n", subId)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-time.After(subscribeDuration):
	}
	return nil
}

// buildFilter combines the name prefix and property flags into one filter.
func buildFilter() (expr.IExpression, error) {
	var parts []expr.IExpression

	if filterPrefix != "" {
		parts = append(parts, expr.NameStartsWith(filterPrefix))
	}

	props, err := parseProps(filterProps)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		parts = append(parts, expr.Equals(k, v))
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	default:
		return expr.And(parts...), nil
	}
}

// parseProps parses repeated key=value flags.
func parseProps(kvs []string) (libitem.Props, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	props := make(libitem.Props, len(kvs))
	for _, kv := range kvs {
		k, v, found := strings.Cut(kv, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid property %q (expected key=value)", kv)
		}
		props[k] = v
	}
	return props, nil
}

// printItem writes one item in a fixed single-line-per-field layout.
func printItem(it *libitem.Item) {
	fmt.Printf("name=%s usn=%d id=%s dataType=%s kind=%s deleted=%t created=%s\n",
		it.Name, it.USN, it.Id, it.DataType, it.Kind, it.Deleted, it.Created.Format(time.RFC3339))
	if len(it.Props) > 0 {
		fmt.Printf("  props=%v\n", it.Props)
	}
	if len(it.Body) > 0 {
		fmt.Printf("  body=%s\n", it.Body)
	}
}
