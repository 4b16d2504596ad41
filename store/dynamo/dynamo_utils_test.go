package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBuilder(t *testing.T) {
	update := newUpdateBuilder()
	assert.True(t, update.empty())

	update.set("Closed", &types.AttributeValueMemberN{Value: "42"})
	update.add("Draws", 3)

	assert.Equal(t, "SET #f0 = :v0, #f1 = if_not_exists(#f1, :zero) + :v1", aws.ToString(update.expression()))
	assert.Equal(t, map[string]string{"#f0": "Closed", "#f1": "Draws"}, update.names)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, update.values[":v1"])
	assert.Contains(t, update.values, ":zero")
}

func TestDecodeWriteRequests(t *testing.T) {
	item, err := attributevalue.MarshalMap(dynamoStats{PK: "ROOM#r1", SK: statsSK, Draws: 2})
	require.NoError(t, err)

	decoded := decodeWriteRequests[dynamoStats]([]types.WriteRequest{
		{PutRequest: &types.PutRequest{Item: item}},
		{DeleteRequest: &types.DeleteRequest{Key: itemKey("ROOM#r2", statsSK)}},
		{},
	})

	require.Len(t, decoded, 2)
	assert.Equal(t, 2, decoded[0].Draws)
	assert.Equal(t, "ROOM#r2", decoded[1].PK)
}
