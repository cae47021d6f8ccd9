package serializer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

var (
	testSession = uuid.MustParse("11111111-2222-3333-4444-555555555555")
	testStamp   = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
)

// testMessages builds one message per protocol shape via the factory funcs.
func testMessages() []*common.Message {
	h := common.NewHeader(testSession)
	h.DebugRequest = true

	save := store.NewSaveRequest("Trade.1001", "Trade", []byte(`{"notional":1000000}`),
		item.Props{"Counterparty": "14859", "Desk": "Rates"})
	save.AppScope = "Highlander.V5"
	save.ExpectedUsn = 42
	save.Expires = testStamp.Add(24 * time.Hour)

	answered := []*item.Item{
		{
			Id:       uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
			Name:     "Trade.1001",
			Kind:     item.KindObject,
			DataType: "Trade",
			AppScope: "Highlander.V5",
			USN:      7,
			Created:  testStamp,
			Props:    item.Props{"Counterparty": "14859"},
			Body:     []byte(`{"notional":1000000}`),
		},
		{
			Id:       uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeef"),
			Name:     "Trade.1002",
			Kind:     item.KindObject,
			DataType: "Trade",
			USN:      9,
			Created:  testStamp.Add(time.Minute),
			Deleted:  true,
		},
	}

	subId := uuid.MustParse("99999999-8888-7777-6666-555555555555")

	return []*common.Message{
		common.NewSaveItemRequest(h, save),
		common.NewLoadItemRequest(h, "Trade.1001"),
		common.NewLoadByIdRequest(h, answered[0].Id),
		common.NewSelectItemsRequest(h, store.Query{
			Kind:        item.KindObject,
			DataType:    "Trade",
			Filter:      expr.And(expr.NameStartsWith("Trade."), expr.Equals("Desk", "Rates")),
			MinimumUsn:  5,
			AsAtTime:    testStamp,
			ExcludeBody: true,
			StartRow:    10,
			RowCount:    50,
		}),
		common.NewDeleteItemRequest(h, "Trade.1001"),
		common.NewDeleteWhereRequest(h, "Trade", expr.NameStartsWith("Trade.")),
		common.NewCreateSubscriptionRequest(h, subId, "Trade", expr.All(), testStamp.Add(time.Minute)),
		common.NewExtendSubscriptionRequest(h, subId, testStamp.Add(2*time.Minute)),
		common.NewCancelSubscriptionRequest(h, subId),
		common.NewAnswerItems(h, answered, true),
		common.NewNotifyItems(testSession, subId, answered[:1]),
		common.NewCompletionResult(h, 42, 0, nil),
		common.NewCompletionResult(h, 0, 0, store.NewError(store.RetCConcurrencyConflict, "expected USN 41, current is 42")),
	}
}

// requireEqualMessages compares two messages, handling time fields by
// instant (codecs are free to normalize the location).
func requireEqualMessages(t *testing.T, want, got *common.Message) {
	t.Helper()

	require.True(t, want.Expires.Equal(got.Expires), "Expires mismatch")
	require.True(t, want.AsAtTime.Equal(got.AsAtTime), "AsAtTime mismatch")
	require.True(t, want.Expiry.Equal(got.Expiry), "Expiry mismatch")
	require.Equal(t, len(want.Items), len(got.Items))
	for i := range want.Items {
		require.True(t, want.Items[i].Created.Equal(got.Items[i].Created), "item %d Created mismatch", i)
		require.True(t, want.Items[i].Expires.Equal(got.Items[i].Expires), "item %d Expires mismatch", i)
	}

	// normalize times, then compare everything else structurally
	w, g := *want, *got
	g.Expires, g.AsAtTime, g.Expiry = w.Expires, w.AsAtTime, w.Expiry
	g.Items = append([]*item.Item(nil), g.Items...)
	for i := range g.Items {
		cp := *g.Items[i]
		cp.Created = w.Items[i].Created
		cp.Expires = w.Items[i].Expires
		g.Items[i] = &cp
	}
	require.Equal(t, w, g)
}

// TestSerializerRoundTrip tests that messages can be serialized and
// deserialized correctly by every serializer.
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for _, msg := range testMessages() {
				t.Run(msg.MsgType.String(), func(t *testing.T) {
					data, err := s.Serialize(*msg)
					require.NoError(t, err)
					require.NotEmpty(t, data)

					var got common.Message
					require.NoError(t, s.Deserialize(data, &got))
					requireEqualMessages(t, msg, &got)
				})
			}
		})
	}
}

// TestSerializerSelectRoundTripsQuery checks the filter survives transport.
func TestSerializerSelectRoundTripsQuery(t *testing.T) {
	filter := expr.And(expr.NameStartsWith("Trade."), expr.Equals("Desk", "Rates"))
	msg := common.NewSelectItemsRequest(common.NewHeader(testSession), store.Query{
		DataType: "Trade",
		Filter:   filter,
	})

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			data, err := s.Serialize(*msg)
			require.NoError(t, err)

			var got common.Message
			require.NoError(t, s.Deserialize(data, &got))

			q, err := got.ToQuery()
			require.NoError(t, err)
			assert.Equal(t, "Trade", q.DataType)
			assert.Equal(t, filter.String(), q.Filter.String())
		})
	}
}

func TestBinaryDeserializeRejectsShortData(t *testing.T) {
	s := NewBinarySerializer()
	var msg common.Message
	assert.Error(t, s.Deserialize(nil, &msg))
	assert.Error(t, s.Deserialize([]byte{1, 2, 3}, &msg))
}
