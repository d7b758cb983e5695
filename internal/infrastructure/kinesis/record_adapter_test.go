package kinesis

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var placedAt = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func testOrder(status order.Status) order.Order {
	return order.Order{
		ID:         "order-1",
		UserID:     "user-1",
		UserRole:   "customer",
		BuyerEmail: "buyer@example.com",
		Items: []order.Item{{
			ProductID: "p-1", Name: "Cement", Quantity: 2,
			UnitPrice: decimal.NewFromInt(70), LineTotal: decimal.NewFromInt(140),
		}},
		Pricing: pricing.Breakdown{
			Subtotal: decimal.NewFromInt(140), Discount: decimal.Zero, Shipping: decimal.Zero,
			Total: decimal.NewFromInt(140), Currency: "PHP",
		},
		ShippingAddress: order.Address{Street: "1 Rizal St", City: "Cebu", Province: "Cebu", PostalCode: "6000"},
		Payment:         order.Payment{Method: order.PaymentWallet, Status: order.PaymentPaid, TransactionID: "tx-1"},
		Status:          status,
		CreatedAt:       placedAt,
		UpdatedAt:       placedAt.Add(time.Hour),
	}
}

// attr converts decoded JSON into the stream's attribute form, the way
// DynamoDB stores the doc map.
func attr(t *testing.T, v any) events.DynamoDBAttributeValue {
	t.Helper()
	switch x := v.(type) {
	case nil:
		return events.NewNullAttribute()
	case string:
		return events.NewStringAttribute(x)
	case float64:
		return events.NewNumberAttribute(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		return events.NewBooleanAttribute(x)
	case map[string]any:
		m := make(map[string]events.DynamoDBAttributeValue, len(x))
		for k, item := range x {
			m[k] = attr(t, item)
		}
		return events.NewMapAttribute(m)
	case []any:
		l := make([]events.DynamoDBAttributeValue, len(x))
		for i, item := range x {
			l[i] = attr(t, item)
		}
		return events.NewListAttribute(l)
	}
	t.Fatalf("unexpected value %T", v)
	return events.DynamoDBAttributeValue{}
}

func image(t *testing.T, collection, id string, doc any) map[string]events.DynamoDBAttributeValue {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return map[string]events.DynamoDBAttributeValue{
		"pk":         events.NewStringAttribute(collection),
		"sk":         events.NewStringAttribute(id),
		"doc":        attr(t, body),
		"version":    events.NewNumberAttribute("1"),
		"updated_at": events.NewStringAttribute(placedAt.Format(time.RFC3339Nano)),
	}
}

func TestConvertFromDynamoDBStreamRecord_InsertIsOrderPlaced(t *testing.T) {
	record := events.DynamoDBEventRecord{
		EventID:   "stream-1",
		EventName: "INSERT",
		Change: events.DynamoDBStreamRecord{
			NewImage: image(t, order.Collection, "order-1", testOrder(order.StatusConfirmed)),
		},
	}

	ev, err := ConvertFromDynamoDBStreamRecord(record)

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "stream-1", ev.ID)
	assert.Equal(t, "order-1", ev.AggregateID)
	assert.Equal(t, order.AggregateType, ev.AggregateType)
	assert.Equal(t, order.EventOrderPlaced, ev.EventType)
	assert.True(t, placedAt.Equal(ev.Timestamp))

	var placed order.OrderPlaced
	require.NoError(t, json.Unmarshal(ev.Data, &placed))
	assert.Equal(t, "buyer@example.com", placed.BuyerEmail)
	assert.True(t, decimal.NewFromInt(140).Equal(placed.Total))
	require.Len(t, placed.Items, 1)
	assert.Equal(t, 2, placed.Items[0].Quantity)
}

func TestConvertFromDynamoDBStreamRecord_Modify(t *testing.T) {
	t.Run("status change", func(t *testing.T) {
		record := events.DynamoDBEventRecord{
			EventID:   "stream-2",
			EventName: "MODIFY",
			Change: events.DynamoDBStreamRecord{
				OldImage: image(t, order.Collection, "order-1", testOrder(order.StatusConfirmed)),
				NewImage: image(t, order.Collection, "order-1", testOrder(order.StatusShipped)),
			},
		}

		ev, err := ConvertFromDynamoDBStreamRecord(record)

		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, order.EventOrderStatusChanged, ev.EventType)
		var changed order.OrderStatusChanged
		require.NoError(t, json.Unmarshal(ev.Data, &changed))
		assert.Equal(t, order.StatusConfirmed, changed.From)
		assert.Equal(t, order.StatusShipped, changed.To)
	})

	t.Run("payment only", func(t *testing.T) {
		before := testOrder(order.StatusPending)
		after := testOrder(order.StatusPending)
		after.Payment.Status = order.PaymentRefunded
		record := events.DynamoDBEventRecord{
			EventName: "MODIFY",
			Change: events.DynamoDBStreamRecord{
				OldImage: image(t, order.Collection, "order-1", before),
				NewImage: image(t, order.Collection, "order-1", after),
			},
		}

		ev, err := ConvertFromDynamoDBStreamRecord(record)

		require.NoError(t, err)
		assert.Nil(t, ev)
	})
}

func TestConvertFromDynamoDBStreamRecord_Ignored(t *testing.T) {
	tests := []struct {
		name   string
		record events.DynamoDBEventRecord
	}{
		{"remove", events.DynamoDBEventRecord{EventName: "REMOVE"}},
		{"other collection", events.DynamoDBEventRecord{
			EventName: "INSERT",
			Change: events.DynamoDBStreamRecord{
				NewImage: image(t, "cart_items", "user-1#p-1", map[string]any{"userId": "user-1"}),
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ConvertFromDynamoDBStreamRecord(tt.record)
			require.NoError(t, err)
			assert.Nil(t, ev)
		})
	}
}

func TestConvertFromDynamoDBStreamRecord_Malformed(t *testing.T) {
	bad := testOrder(order.StatusConfirmed)
	bad.Items = nil

	_, err := ConvertFromDynamoDBStreamRecord(events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change:    events.DynamoDBStreamRecord{NewImage: image(t, order.Collection, "order-1", bad)},
	})
	assert.Error(t, err)

	_, err = ConvertFromDynamoDBStreamRecord(events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change: events.DynamoDBStreamRecord{NewImage: map[string]events.DynamoDBAttributeValue{
			"sk": events.NewStringAttribute("order-1"),
		}},
	})
	assert.Error(t, err)
}

func TestBatchConvertFromKinesisEvent(t *testing.T) {
	insert, err := json.Marshal(events.DynamoDBEventRecord{
		EventID:   "stream-1",
		EventName: "INSERT",
		Change: events.DynamoDBStreamRecord{
			NewImage: image(t, order.Collection, "order-1", testOrder(order.StatusConfirmed)),
		},
	})
	require.NoError(t, err)

	batch := events.KinesisEvent{Records: []events.KinesisEventRecord{
		{EventID: "k-1", Kinesis: events.KinesisRecord{Data: insert}},
		{EventID: "k-2", Kinesis: events.KinesisRecord{Data: []byte("not json")}},
		{EventID: "k-3", Kinesis: events.KinesisRecord{Data: []byte(`{"eventName":"REMOVE"}`)}},
	}}

	converted, errs := BatchConvertFromKinesisEvent(batch)

	require.Len(t, converted, 1)
	assert.Equal(t, order.EventOrderPlaced, converted[0].EventType)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "k-2")
}
