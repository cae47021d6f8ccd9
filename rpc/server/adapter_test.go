package server

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/mstore"
	"github.com/alexanderwatt/corecache/lib/subs"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/serializer"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

// fakeConn implements transport.IServerConnection and records pushed frames.
type fakeConn struct {
	id     uint64
	pushes chan []byte
}

func (c *fakeConn) ID() uint64 { return c.id }

func (c *fakeConn) Push(data []byte) error {
	c.pushes <- data
	return nil
}

func newTestContext(t *testing.T) (AdapterContext, *fakeConn) {
	t.Helper()

	itemStore := mstore.NewMemoryStore(nil)
	manager := subs.NewManager(&subs.Options{SweepInterval: 10 * time.Millisecond})
	itemStore.SetWatcher(manager.OnItemChanged)
	t.Cleanup(manager.Close)

	ser := serializer.NewJSONSerializer()
	conn := &fakeConn{id: 1, pushes: make(chan []byte, 16)}

	return AdapterContext{
		Store: itemStore,
		Subs:  manager,
		Conn:  conn,
		Push: func(m *common.Message) error {
			data, err := ser.Serialize(*m)
			if err != nil {
				return err
			}
			return conn.Push(data)
		},
	}, conn
}

func saveMsg(name, dataType string) *common.Message {
	return common.NewSaveItemRequest(common.NewHeader(uuid.New()), store.SaveRequest{
		Name:        name,
		Kind:        item.KindObject,
		DataType:    dataType,
		Body:        []byte(`{"v":1}`),
		ExpectedUsn: store.AnyUsn,
	})
}

func TestItemStoreAdapterSaveAndLoad(t *testing.T) {
	ctx, _ := newTestContext(t)
	adapter := NewItemStoreServerAdapter()

	resp := adapter.Handle(saveMsg("Trade.T1", "Farm.Request"), ctx)
	require.Equal(t, common.MsgTCompletionResult, resp.MsgType)
	require.True(t, resp.Success)
	require.Equal(t, uint64(1), resp.Usn)

	load := common.NewLoadItemRequest(common.NewHeader(uuid.New()), "Trade.T1")
	resp = adapter.Handle(load, ctx)
	require.Equal(t, common.MsgTAnswerItems, resp.MsgType)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "Trade.T1", resp.Items[0].Name)
	require.Equal(t, load.Header.RequestId, resp.Header.RequestId)
}

func TestItemStoreAdapterLoadMissingReturnsNotFound(t *testing.T) {
	ctx, _ := newTestContext(t)
	adapter := NewItemStoreServerAdapter()

	resp := adapter.Handle(common.NewLoadItemRequest(common.NewHeader(uuid.New()), "nope"), ctx)
	require.Equal(t, common.MsgTCompletionResult, resp.MsgType)
	require.False(t, resp.Success)
	require.Equal(t, store.RetCNotFound, resp.Result)
}

func TestItemStoreAdapterRejectsMalformedFilter(t *testing.T) {
	ctx, _ := newTestContext(t)
	adapter := NewItemStoreServerAdapter()

	req := &common.Message{
		MsgType: common.MsgTSelectItems,
		Header:  common.NewHeader(uuid.New()),
		Filter:  "this is not a filter",
	}
	resp := adapter.Handle(req, ctx)
	require.False(t, resp.Success)
	require.Equal(t, store.RetCInvalidFilter, resp.Result)
}

func TestItemStoreAdapterDeleteWhere(t *testing.T) {
	ctx, _ := newTestContext(t)
	adapter := NewItemStoreServerAdapter()

	require.True(t, adapter.Handle(saveMsg("Trade.T1", "Farm.Request"), ctx).Success)
	require.True(t, adapter.Handle(saveMsg("Trade.T2", "Farm.Request"), ctx).Success)
	require.True(t, adapter.Handle(saveMsg("Curve.EUR", "Market.Curve"), ctx).Success)

	req := common.NewDeleteWhereRequest(common.NewHeader(uuid.New()), "Farm.Request", expr.NameStartsWith("Trade."))
	resp := adapter.Handle(req, ctx)
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Count)
}

func TestSubscriptionAdapterPushesDeliveries(t *testing.T) {
	ctx, conn := newTestContext(t)
	storeAdapter := NewItemStoreServerAdapter()
	subsAdapter := NewSubscriptionServerAdapter()

	subId := uuid.New()
	create := common.NewCreateSubscriptionRequest(
		common.NewHeader(uuid.New()), subId, "Farm.Request", nil, time.Now().Add(time.Hour))
	require.True(t, subsAdapter.Handle(create, ctx).Success)

	require.True(t, storeAdapter.Handle(saveMsg("Trade.T1", "Farm.Request"), ctx).Success)

	ser := serializer.NewJSONSerializer()
	select {
	case data := <-conn.pushes:
		var msg common.Message
		require.NoError(t, ser.Deserialize(data, &msg))
		require.Equal(t, common.MsgTNotifyItems, msg.MsgType)
		require.Equal(t, subId, msg.SubscriptionId)
		require.Len(t, msg.Items, 1)
		require.Equal(t, "Trade.T1", msg.Items[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery pushed")
	}

	// Items of other data types must not be delivered
	require.True(t, storeAdapter.Handle(saveMsg("Curve.EUR", "Market.Curve"), ctx).Success)
	select {
	case <-conn.pushes:
		t.Fatal("delivery pushed for unmatched data type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionAdapterDuplicateIdFails(t *testing.T) {
	ctx, _ := newTestContext(t)
	adapter := NewSubscriptionServerAdapter()

	subId := uuid.New()
	create := common.NewCreateSubscriptionRequest(
		common.NewHeader(uuid.New()), subId, "", nil, time.Now().Add(time.Hour))
	require.True(t, adapter.Handle(create, ctx).Success)
	require.False(t, adapter.Handle(create, ctx).Success)
}

func TestServerCancelsSubscriptionsOfClosedConnection(t *testing.T) {
	ctx, conn := newTestContext(t)

	s := NewRPCServer(common.ServerConfig{LogLevel: "error"}, nil, serializer.NewJSONSerializer())
	s.channels.Store(uint64(0), serverChannel{Store: ctx.Store, Subs: ctx.Subs})

	create := common.NewCreateSubscriptionRequest(
		common.NewHeader(uuid.New()), uuid.New(), "", nil, time.Now().Add(time.Hour))
	resp := s.dispatch(conn, 0, serverChannel{Store: ctx.Store, Subs: ctx.Subs}, create)
	require.True(t, resp.Success)
	require.Equal(t, 1, ctx.Subs.Count())

	s.dropConnection(conn.ID())
	require.Equal(t, 0, ctx.Subs.Count())
}

// compile-time check that fakeConn satisfies the transport contract
var _ transport.IServerConnection = (*fakeConn)(nil)
