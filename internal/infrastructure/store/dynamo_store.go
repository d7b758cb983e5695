package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB item attribute names. The table is keyed by (pk=collection, sk=id).
// Document streams for the table are forwarded to Kinesis and consumed by the
// notifier lambda.
const (
	attrCollection = "pk"
	attrID         = "sk"
	attrDoc        = "doc"
	attrVersion    = "version"
	attrUpdatedAt  = "updated_at"
)

// DynamoStore stores documents in a single DynamoDB table, with the document
// body kept as a map attribute so that streams and filters can see its fields.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	now       func() time.Time
}

func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

type dynamoDocument struct {
	Collection string         `dynamodbav:"pk"`
	ID         string         `dynamodbav:"sk"`
	Doc        map[string]any `dynamodbav:"doc"`
	Version    int64          `dynamodbav:"version"`
	UpdatedAt  string         `dynamodbav:"updated_at"`
}

func (s *DynamoStore) key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrCollection: &types.AttributeValueMemberS{Value: collection},
		attrID:         &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return unmarshalDynamoDocument(result.Item)
}

func (s *DynamoStore) Query(ctx context.Context, q Query) ([]Document, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrCollection,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: q.Collection},
		},
		ConsistentRead: aws.Bool(true),
	}

	if len(q.Filters) > 0 {
		input.ExpressionAttributeNames["#doc"] = attrDoc
		var expr string
		for i, f := range q.Filters {
			name := "#f" + strconv.Itoa(i)
			value := ":v" + strconv.Itoa(i)
			av, err := attributevalue.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal filter %s: %w", f.Field, err)
			}
			input.ExpressionAttributeNames[name] = f.Field
			input.ExpressionAttributeValues[value] = av
			if expr != "" {
				expr += " AND "
			}
			expr += fmt.Sprintf("#doc.%s = %s", name, value)
		}
		input.FilterExpression = aws.String(expr)
	}

	var docs []Document
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query documents: %w", err)
		}
		for _, item := range page.Items {
			doc, err := unmarshalDynamoDocument(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *doc)
		}
	}

	return orderAndLimit(docs, q), nil
}

func (s *DynamoStore) Put(ctx context.Context, collection, id string, data any) (*Document, error) {
	update, err := s.updateInput(PutWrite(collection, id, data, AnyVersion))
	if err != nil {
		return nil, err
	}
	update.ReturnValues = types.ReturnValueAllNew

	result, err := s.client.UpdateItem(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("failed to put document: %w", err)
	}
	return unmarshalDynamoDocument(result.Attributes)
}

func (s *DynamoStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(collection, id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Commit maps writes onto a TransactWriteItems call; version expectations
// become condition expressions, so a failed check cancels the transaction.
func (s *DynamoStore) Commit(ctx context.Context, writes ...Write) error {
	if err := checkCommitSize(writes); err != nil {
		return err
	}
	items := make([]types.TransactWriteItem, 0, len(writes))
	for _, w := range writes {
		switch w.Op {
		case OpPut:
			update, err := s.updateInput(w)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:                 update.TableName,
				Key:                       update.Key,
				UpdateExpression:          update.UpdateExpression,
				ConditionExpression:       update.ConditionExpression,
				ExpressionAttributeNames:  update.ExpressionAttributeNames,
				ExpressionAttributeValues: update.ExpressionAttributeValues,
			}})
		case OpDelete:
			del := &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       s.key(w.Collection, w.ID),
			}
			if cond, names, values := condition(w); cond != "" {
				del.ConditionExpression = aws.String(cond)
				del.ExpressionAttributeNames = names
				del.ExpressionAttributeValues = values
			}
			items = append(items, types.TransactWriteItem{Delete: del})
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var cancelled *types.TransactionCanceledException
		if errors.As(err, &cancelled) {
			for _, reason := range cancelled.CancellationReasons {
				code := aws.ToString(reason.Code)
				if code == "ConditionalCheckFailed" || code == "TransactionConflict" {
					return fmt.Errorf("%w: %s", ErrConflict, code)
				}
			}
		}
		return fmt.Errorf("failed to commit documents: %w", err)
	}
	return nil
}

func (s *DynamoStore) updateInput(w Write) (*dynamodb.UpdateItemInput, error) {
	raw, err := encode(w.Data)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("document %s/%s is not a JSON object: %w", w.Collection, w.ID, err)
	}
	docAV, err := attributevalue.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	names := map[string]string{
		"#doc": attrDoc,
		"#ver": attrVersion,
		"#ua":  attrUpdatedAt,
	}
	values := map[string]types.AttributeValue{
		":doc": docAV,
		":one": &types.AttributeValueMemberN{Value: "1"},
		":ua":  &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
	}

	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(w.Collection, w.ID),
		UpdateExpression: aws.String("SET #doc = :doc, #ua = :ua ADD #ver :one"),
	}
	if cond, condNames, condValues := condition(w); cond != "" {
		input.ConditionExpression = aws.String(cond)
		for k, v := range condNames {
			names[k] = v
		}
		for k, v := range condValues {
			values[k] = v
		}
	}
	input.ExpressionAttributeNames = names
	input.ExpressionAttributeValues = values
	return input, nil
}

func condition(w Write) (string, map[string]string, map[string]types.AttributeValue) {
	switch {
	case w.ExpectedVersion == AnyVersion:
		return "", nil, nil
	case w.ExpectedVersion == MustNotExist:
		return "attribute_not_exists(#pk)", map[string]string{"#pk": attrCollection}, nil
	default:
		return "#ver = :expected",
			map[string]string{"#ver": attrVersion},
			map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(w.ExpectedVersion, 10)},
			}
	}
}

func unmarshalDynamoDocument(item map[string]types.AttributeValue) (*Document, error) {
	var dd dynamoDocument
	if err := attributevalue.UnmarshalMap(item, &dd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	data, err := json.Marshal(dd.Doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document body: %w", err)
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, dd.UpdatedAt)
	return &Document{
		Collection: dd.Collection,
		ID:         dd.ID,
		Data:       data,
		Version:    dd.Version,
		UpdatedAt:  updatedAt,
	}, nil
}
