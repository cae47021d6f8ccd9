package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/serializer"
	"github.com/alexanderwatt/corecache/rpc/transport"
	"github.com/alexanderwatt/corecache/rpc/transport/tcp"
	"github.com/alexanderwatt/corecache/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Typed Client Facade
// --------------------------------------------------------------------------

// Client is the typed facade over the remote item store and the
// subscription client. It owns two transports (one for request/reply
// traffic, one for subscription pushes) and picks tcp or unix from the
// endpoint scheme.
type Client struct {
	config  common.ClientConfig
	channel uint64
	store   store.IItemStore
	subs    ISubscriptionClient
}

// NewClient connects the facade to the cache servers named in the config.
// channel selects the served channel (the server's shard id, zero for a
// local-mode server).
func NewClient(config common.ClientConfig, channel uint64) (*Client, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints provided")
	}

	network, _, err := common.ParseEndpoint(config.Endpoints[0])
	if err != nil {
		return nil, err
	}

	var storeTransport, subsTransport transport.IRPCClientTransport
	switch network {
	case "unix":
		storeTransport = unix.NewUnixClientTransport()
		subsTransport = unix.NewUnixClientTransport()
	default:
		storeTransport = tcp.NewTCPClientTransport()
		subsTransport = tcp.NewTCPClientTransport()
	}

	ser := serializer.NewBinarySerializer()

	itemStore, err := NewRPCItemStore(channel, config, storeTransport, ser)
	if err != nil {
		return nil, err
	}

	subsClient, err := NewRPCSubscriptionClient(channel, config, subsTransport, ser)
	if err != nil {
		storeTransport.Close()
		return nil, err
	}

	Logger.Infof("Created cache client for %s/%s", config.Environment, config.ApplicationName)

	return &Client{
		config:  config,
		channel: channel,
		store:   itemStore,
		subs:    subsClient,
	}, nil
}

// Store exposes the underlying remote item store.
func (c *Client) Store() store.IItemStore {
	return c.store
}

// LoadItem loads the latest live revision of the named item.
func (c *Client) LoadItem(name string) (*item.Item, error) {
	return c.store.Load(name)
}

// SaveItem saves a new revision. An empty AppScope is stamped with the
// client's environment.
func (c *Client) SaveItem(req store.SaveRequest) (uint64, error) {
	if req.AppScope == "" {
		req.AppScope = c.config.Environment
	}
	return c.store.Save(req)
}

// DeleteItem tombstones the latest revision of the named item.
func (c *Client) DeleteItem(name string) (uint64, error) {
	return c.store.Delete(name)
}

// SelectItems runs a filtered, paged query.
func (c *Client) SelectItems(q store.Query) ([]*item.Item, error) {
	return c.store.Select(q)
}

// DeleteObjects tombstones every live item of the data type matching the
// filter and returns the number of items deleted.
func (c *Client) DeleteObjects(dataType string, filter expr.IExpression) (int, error) {
	return c.store.DeleteWhere(dataType, filter)
}

// Subscriptions exposes the underlying subscription client.
func (c *Client) Subscriptions() ISubscriptionClient {
	return c.subs
}

// Close cancels all subscriptions and closes both transports.
func (c *Client) Close() error {
	err := c.subs.Close()

	if s, ok := c.store.(*rpcItemStore); ok {
		if terr := s.transport.Close(); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

// --------------------------------------------------------------------------
// Typed Object Operations
// --------------------------------------------------------------------------

// Object couples a decoded body with the metadata of the revision it was
// decoded from.
type Object[T any] struct {
	Id      uuid.UUID
	Name    string
	Usn     uint64
	Deleted bool
	Value   T
}

// LoadObject loads the named item and decodes its JSON body into T. The
// returned Usn feeds the ExpectedUsn of a subsequent SaveObject for
// optimistic concurrency.
func LoadObject[T any](c *Client, name string) (Object[T], error) {
	it, err := c.LoadItem(name)
	if err != nil {
		return Object[T]{}, err
	}
	return decodeObject[T](it)
}

// SaveObject encodes value as JSON and saves it as a new revision of the
// named item. expectedUsn guards against lost updates (store.AnyUsn skips
// the check).
func SaveObject[T any](c *Client, name, dataType string, value T, expectedUsn uint64) (uint64, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return c.SaveItem(store.SaveRequest{
		Name:        name,
		Kind:        item.KindObject,
		DataType:    dataType,
		Body:        body,
		ExpectedUsn: expectedUsn,
	})
}

// SubscribeNoWait creates a subscription for the data type and filter and
// decodes every delivered revision into T before invoking the handler.
// Deliveries that fail to decode are logged and skipped; tombstones are
// delivered with the zero value and Deleted set. The call returns as soon
// as the subscription is registered, without waiting for an initial image.
func SubscribeNoWait[T any](c *Client, dataType string, filter expr.IExpression, expiry time.Time, handler func(Object[T])) (uuid.UUID, error) {
	return c.subs.Subscribe(dataType, filter, expiry, func(subId uuid.UUID, items []*item.Item) {
		for _, it := range items {
			obj, err := decodeObject[T](it)
			if err != nil {
				Logger.Warningf("Skipping undecodable delivery %s for subscription %s: %v", it.Name, subId, err)
				continue
			}
			handler(obj)
		}
	})
}

// decodeObject decodes one revision into a typed object. Tombstones carry
// no body and decode to the zero value.
func decodeObject[T any](it *item.Item) (Object[T], error) {
	obj := Object[T]{
		Id:      it.Id,
		Name:    it.Name,
		Usn:     it.USN,
		Deleted: it.Deleted,
	}
	if it.Deleted || len(it.Body) == 0 {
		return obj, nil
	}
	if err := json.Unmarshal(it.Body, &obj.Value); err != nil {
		return Object[T]{}, fmt.Errorf("failed to decode %s: %w", it.Name, err)
	}
	return obj, nil
}
