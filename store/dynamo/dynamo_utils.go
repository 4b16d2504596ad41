package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Suraj08832/collabstudy/store"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// newDynamoDBClient targets dynamodbEndpoint with static dummy credentials in
// dev mode and the default AWS credential chain otherwise.
func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	if !devMode {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamodb.NewFromConfig(cfg), nil
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
	)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if dynamodbEndpoint != "" {
			o.BaseEndpoint = aws.String(dynamodbEndpoint)
		}
	}), nil
}

// checkTable fails unless tableName exists and is usable.
func checkTable(ctx context.Context, client *dynamodb.Client, tableName string) error {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err != nil {
		var missing *types.ResourceNotFoundException
		if errors.As(err, &missing) {
			return fmt.Errorf("table %q not found in dynamodb", tableName)
		}
		return fmt.Errorf("describe table %q: %w", tableName, err)
	}
	if out.Table != nil && out.Table.TableStatus == types.TableStatusDeleting {
		return fmt.Errorf("table %q is being deleted", tableName)
	}
	return nil
}

func itemKey(pk string, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem reads one item by key. A missing item is store.ErrItemNotFound.
func getItem[T any](dynamoStore *DynamoSessionStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var zero T

	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return zero, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return zero, store.ErrItemNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}

// ensureItem inserts item unless an item with the same PK and SK exists, in
// which case the stored one is returned. The bool reports a fresh insert.
func ensureItem[T any](dynamoStore *DynamoSessionStore, ctx context.Context, item T) (T, bool, error) {
	var zero T

	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return zero, false, fmt.Errorf("marshal error: %w", err)
	}
	if _, ok := avMap["PK"]; !ok {
		return zero, false, errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return zero, false, errors.New("struct missing SK field")
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return item, true, nil
	}

	var cce *types.ConditionalCheckFailedException
	if !errors.As(err, &cce) {
		return zero, false, fmt.Errorf("failed to put item: %w", err)
	}

	pk := avMap["PK"].(*types.AttributeValueMemberS).Value
	sk := avMap["SK"].(*types.AttributeValueMemberS).Value
	existing, err := getItem[T](dynamoStore, ctx, pk, sk, true)
	if err != nil {
		return zero, false, fmt.Errorf("failed to get existing item: %w", err)
	}
	return existing, false, nil
}

// queryRange returns items of type T with the given PK whose SK lies in
// [skFrom, skTo], in SK order, up to limit items (0 means no limit).
func queryRange[T any](dynamoStore *DynamoSessionStore, ctx context.Context, pk string, skFrom string, skTo string, limit int32) ([]T, error) {
	var results []T

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :from AND :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: pk},
			":from": &types.AttributeValueMemberS{Value: skFrom},
			":to":   &types.AttributeValueMemberS{Value: skTo},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// dynamodb applies limit per page, so it is enforced globally too
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)

	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}

	return results, nil
}

// queryByPrefix returns every item of type T with the given PK whose SK
// begins with prefix.
func queryByPrefix[T any](dynamoStore *DynamoSessionStore, ctx context.Context, pk string, prefix string) ([]T, error) {
	var results []T

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	return results, nil
}

// writeBatchRequests sends one BatchWriteItem of puts or deletes and retries
// what the table throttled, with backoff, until ctx ends. Whatever is still
// unwritten comes back decoded as T.
func writeBatchRequests[T any](dynamoStore *DynamoSessionStore, ctx context.Context, requests []types.WriteRequest) ([]T, error) {
	backoff := 50 * time.Millisecond

	for len(requests) > 0 {
		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{dynamoStore.tableName: requests},
		})
		if err != nil {
			return decodeWriteRequests[T](requests), fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		requests = resp.UnprocessedItems[dynamoStore.tableName]
		if len(requests) == 0 {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return decodeWriteRequests[T](requests), err
		}
		backoff = min(backoff*2, time.Second)
	}
	return nil, nil
}

func decodeWriteRequests[T any](reqs []types.WriteRequest) []T {
	out := make([]T, 0, len(reqs))
	for _, wr := range reqs {
		var av map[string]types.AttributeValue
		switch {
		case wr.PutRequest != nil:
			av = wr.PutRequest.Item
		case wr.DeleteRequest != nil:
			av = wr.DeleteRequest.Key
		default:
			continue
		}
		var item T
		if err := attributevalue.UnmarshalMap(av, &item); err == nil {
			out = append(out, item)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deleteItemWithCondition deletes an item when conditionField holds
// expectedValue, telling a missing item (store.ErrItemNotFound) apart from a
// failed condition (store.ErrConditionFailed).
func deleteItemWithCondition(dynamoStore *DynamoSessionStore, ctx context.Context, pk string, sk string, conditionField string, expectedValue string) error {
	key := itemKey(pk, sk)

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key:       key,
	}

	if conditionField != "" {
		input.ConditionExpression = aws.String("#f = :val")
		input.ExpressionAttributeNames = map[string]string{"#f": conditionField}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":val": &types.AttributeValueMemberS{Value: expectedValue},
		}
	}

	_, err := dynamoStore.client.DeleteItem(ctx, input)
	if err == nil {
		return nil
	}

	var cce *types.ConditionalCheckFailedException
	if !errors.As(err, &cce) {
		return fmt.Errorf("delete failed: %w", err)
	}

	// Either the item is gone or the condition did not hold.
	getResp, getErr := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key:       key,
	})
	if getErr != nil {
		return fmt.Errorf("delete failed, and GetItem check also failed: %w", getErr)
	}
	if getResp.Item == nil {
		return store.ErrItemNotFound
	}
	return store.ErrConditionFailed
}

// batchDeleteByPrefixThrottled deletes every item of pk whose SK begins with
// prefix. Query pages are large, deletes go out in 25-item batches with a
// pause between them to stay under the table's write capacity.
func batchDeleteByPrefixThrottled(dynamoStore *DynamoSessionStore, ctx context.Context, pk string, prefix string, throttle time.Duration) (int, error) {
	const queryPageSize int32 = 200

	deleted := 0
	for {
		// Deleted items drop out of the result set, so every pass starts over.
		resp, err := dynamoStore.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(dynamoStore.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ProjectionExpression: aws.String("PK, SK"),
			Limit:                aws.Int32(queryPageSize),
		})
		if err != nil {
			return deleted, fmt.Errorf("query failed: %w", err)
		}
		if len(resp.Items) == 0 {
			return deleted, nil
		}

		delRequests := make([]types.WriteRequest, 0, len(resp.Items))
		for _, item := range resp.Items {
			delRequests = append(delRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"PK": item["PK"],
						"SK": item["SK"],
					},
				},
			})
		}

		for i := 0; i < len(delRequests); i += maxBatchWrite {
			end := min(i+maxBatchWrite, len(delRequests))
			startTime := time.Now()

			_, err := writeBatchRequests[map[string]types.AttributeValue](dynamoStore, ctx, delRequests[i:end])
			if err != nil {
				return deleted, fmt.Errorf("batch delete failed: %w", err)
			}
			deleted += end - i

			if err := sleepCtx(ctx, throttle-time.Since(startTime)); err != nil {
				return deleted, err
			}
		}
	}
}

// updateBuilder assembles a SET update expression with placeholder names so
// attribute names never clash with reserved words.
type updateBuilder struct {
	clauses []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (b *updateBuilder) set(field string, val types.AttributeValue) {
	name, ph := b.placeholders(field)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = %s", name, ph))
	b.values[ph] = val
}

// add increments a numeric field, treating a missing field as zero.
func (b *updateBuilder) add(field string, delta int) {
	name, ph := b.placeholders(field)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = if_not_exists(%s, :zero) + %s", name, name, ph))
	b.values[":zero"] = &types.AttributeValueMemberN{Value: "0"}
	b.values[ph] = &types.AttributeValueMemberN{Value: strconv.Itoa(delta)}
}

func (b *updateBuilder) placeholders(field string) (string, string) {
	i := len(b.clauses)
	name := fmt.Sprintf("#f%d", i)
	b.names[name] = field
	return name, fmt.Sprintf(":v%d", i)
}

func (b *updateBuilder) empty() bool {
	return len(b.clauses) == 0
}

func (b *updateBuilder) expression() *string {
	return aws.String("SET " + strings.Join(b.clauses, ", "))
}

// updateItem overwrites fieldsToUpdate on an existing item. A missing item is
// store.ErrItemNotFound.
func updateItem[T any](dynamoStore *DynamoSessionStore, ctx context.Context, item T, fieldsToUpdate []string) (T, error) {
	var zero T

	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return zero, fmt.Errorf("marshal error: %w", err)
	}
	pkAttr, hasPK := avMap["PK"]
	skAttr, hasSK := avMap["SK"]
	if !hasPK || !hasSK {
		return zero, errors.New("item has no PK/SK")
	}

	fields := append([]string(nil), fieldsToUpdate...)
	sort.Strings(fields)

	update := newUpdateBuilder()
	for _, field := range fields {
		if val, ok := avMap[field]; ok && field != "PK" && field != "SK" {
			update.set(field, val)
		}
	}
	if update.empty() {
		return zero, errors.New("no fields to update")
	}

	out, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(dynamoStore.tableName),
		Key:                       map[string]types.AttributeValue{"PK": pkAttr, "SK": skAttr},
		UpdateExpression:          update.expression(),
		ExpressionAttributeNames:  update.names,
		ExpressionAttributeValues: update.values,
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	var cce *types.ConditionalCheckFailedException
	if errors.As(err, &cce) {
		return zero, store.ErrItemNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("update failed: %w", err)
	}

	var updated T
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return zero, fmt.Errorf("failed to unmarshal updated item: %w", err)
	}
	return updated, nil
}

// incrementCounters atomically adds each non-zero delta to its numeric field,
// creating the item and fields as needed.
func incrementCounters(dynamoStore *DynamoSessionStore, ctx context.Context, pk string, sk string, deltas map[string]int) error {
	fields := make([]string, 0, len(deltas))
	for field, delta := range deltas {
		if delta != 0 {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)

	update := newUpdateBuilder()
	for _, field := range fields {
		update.add(field, deltas[field])
	}

	_, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(dynamoStore.tableName),
		Key:                       itemKey(pk, sk),
		UpdateExpression:          update.expression(),
		ExpressionAttributeNames:  update.names,
		ExpressionAttributeValues: update.values,
	})
	if err != nil {
		return fmt.Errorf("increment counters failed: %w", err)
	}
	return nil
}
