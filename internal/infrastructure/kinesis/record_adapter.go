package kinesis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/supply-marketplace/internal/domain/order"
	appevents "github.com/example/supply-marketplace/internal/events"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
)

// Attribute names written by store.DynamoStore.
const (
	attrCollection = "pk"
	attrID         = "sk"
	attrDoc        = "doc"
	attrVersion    = "version"
)

// ConvertFromKinesisRecord converts a Kinesis record carrying a DynamoDB
// stream change into the commerce event it implies, or nil when the change
// does not produce one.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*appevents.Event, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord maps an order document change to an
// event: an insert is OrderPlaced, a modify that changes the status is
// OrderStatusChanged. The stream record id becomes the event id, so
// redelivered records dedup downstream.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*appevents.Event, error) {
	switch record.EventName {
	case "INSERT":
		o, err := decodeOrder(record.Change.NewImage)
		if err != nil || o == nil {
			return nil, err
		}
		return newEvent(record.EventID, o.ID, order.EventOrderPlaced, o.Placed(), o.CreatedAt)
	case "MODIFY":
		after, err := decodeOrder(record.Change.NewImage)
		if err != nil || after == nil {
			return nil, err
		}
		before, err := decodeOrder(record.Change.OldImage)
		if err != nil {
			return nil, err
		}
		if before == nil {
			return nil, fmt.Errorf("order %s: stream record has no old image", after.ID)
		}
		if before.Status == after.Status {
			return nil, nil
		}
		return newEvent(record.EventID, after.ID, order.EventOrderStatusChanged, order.OrderStatusChanged{
			OrderID:    after.ID,
			UserID:     after.UserID,
			BuyerEmail: after.BuyerEmail,
			From:       before.Status,
			To:         after.Status,
			ChangedAt:  after.UpdatedAt,
		}, after.UpdatedAt)
	default:
		return nil, nil
	}
}

func newEvent(id, orderID, eventType string, data any, at time.Time) (*appevents.Event, error) {
	ev, err := appevents.New(order.AggregateType, orderID, eventType, data)
	if err != nil {
		return nil, err
	}
	if id != "" {
		ev.ID = id
	}
	if !at.IsZero() {
		ev.Timestamp = at
	}
	return &ev, nil
}

// decodeOrder returns nil for images of other collections.
func decodeOrder(image map[string]events.DynamoDBAttributeValue) (*order.Order, error) {
	if image == nil {
		return nil, nil
	}
	pk, ok := image[attrCollection]
	if !ok || pk.DataType() != events.DataTypeString {
		return nil, fmt.Errorf("image without %s key", attrCollection)
	}
	if pk.String() != order.Collection {
		return nil, nil
	}

	docAttr, ok := image[attrDoc]
	if !ok {
		return nil, fmt.Errorf("image without %s attribute", attrDoc)
	}
	body, err := toValue(docAttr)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{Collection: order.Collection, Data: data}
	if v, ok := image[attrID]; ok {
		doc.ID = v.String()
	}
	if v, ok := image[attrVersion]; ok && v.DataType() == events.DataTypeNumber {
		n, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		doc.Version = n
	}
	return store.Decode[order.Order](doc)
}

// toValue converts a stream attribute into plain Go values that encode to
// the document's original JSON.
func toValue(v events.DynamoDBAttributeValue) (any, error) {
	switch v.DataType() {
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeNumber:
		return json.Number(v.Number()), nil
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeMap:
		out := make(map[string]any, len(v.Map()))
		for k, item := range v.Map() {
			converted, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = converted
		}
		return out, nil
	case events.DataTypeList:
		out := make([]any, 0, len(v.List()))
		for i, item := range v.List() {
			converted, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, converted)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %v", v.DataType())
	}
}

// BatchConvertFromKinesisEvent converts all records from a Kinesis event.
// Returns successfully converted events and any errors encountered.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]*appevents.Event, []error) {
	var eventList []*appevents.Event
	var errs []error

	for _, record := range kinesisEvent.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
			continue
		}
		if event != nil {
			eventList = append(eventList, event)
		}
	}

	return eventList, errs
}
