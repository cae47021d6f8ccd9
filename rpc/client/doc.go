// Package client implements RPC clients for the item cache. It provides an
// implementation of the store.IItemStore interface that communicates with
// remote cache servers, a subscription client for change notifications, and
// a typed facade for applications that work with JSON-encoded objects.
//
// The package focuses on:
//   - Transparent RPC access to a remote item store
//   - Subscription management with per-subscription delivery handlers
//   - Typed load/save/subscribe helpers preserving USN semantics for any T
//   - Error handling and conversion between RPC and typed store errors
//
// Key Components:
//
//   - NewRPCItemStore: Factory function that creates a client implementing
//     the store.IItemStore interface. This client forwards all operations to
//     remote servers via the configured transport layer.
//
//   - NewRPCSubscriptionClient: Factory function that creates a client for
//     leased subscriptions. Deliveries arrive as unsolicited transport
//     frames and are dispatched to the handler registered per subscription.
//
//   - NewClient: The typed facade. Owns its transports (chosen from the
//     endpoint scheme), stamps the configured environment into saved items,
//     and offers generic LoadObject/SaveObject/SubscribeNoWait helpers that
//     decode item bodies as JSON.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  Environment:     "DEV",
//	  ApplicationName: "CurveLoader",
//	  Endpoints:       []string{"tcp://localhost:4004"},
//	  TimeoutSecond:   5,
//	  RetryCount:      3,
//	}
//
//	// Create the facade (channel 0 = local-mode server)
//	c, _ := client.NewClient(config, 0)
//	defer c.Close()
//
//	// Typed save and load
//	usn, _ := client.SaveObject(c, "DEV.Curve.EUR", "Market.Curve", curve, store.AnyUsn)
//	obj, _ := client.LoadObject[Curve](c, "DEV.Curve.EUR")
//
//	// Watch for changes
//	client.SubscribeNoWait(c, "Market.Curve", nil, time.Now().Add(time.Hour),
//	  func(o client.Object[Curve]) {
//	    fmt.Printf("curve %s changed, usn %d\n", o.Name, o.Usn)
//	  })
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing
//     ConnectionsPerEndpoint can improve throughput by allowing parallel
//     requests.
//
//   - For small messages, a single connection per endpoint is often more
//     efficient due to reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The
//     binary serializer provides the best performance and smallest payload
//     size; the facade uses it by default.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently
//	from multiple goroutines without additional synchronization.
package client
