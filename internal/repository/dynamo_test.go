package repository

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/model"
)

// recordingDynamo captures requests and serves canned query pages.
type recordingDynamo struct {
	updates []*dynamodb.UpdateItemInput
	puts    []*dynamodb.PutItemInput
	queries []*dynamodb.QueryInput
	pages   []*dynamodb.QueryOutput
	item    map[string]types.AttributeValue
	updErr  error
}

func (r *recordingDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	r.queries = append(r.queries, in)
	if len(r.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := r.pages[0]
	r.pages = r.pages[1:]
	return page, nil
}

func (r *recordingDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: r.item}, nil
}

func (r *recordingDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	r.puts = append(r.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (r *recordingDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	r.updates = append(r.updates, in)
	if r.updErr != nil {
		return nil, r.updErr
	}
	return &dynamodb.UpdateItemOutput{Attributes: r.item}, nil
}

func keyOf(t *testing.T, k map[string]types.AttributeValue) (string, string) {
	t.Helper()
	return k["collection"].(*types.AttributeValueMemberS).Value, k["id"].(*types.AttributeValueMemberS).Value
}

func TestDynamo_UpsertTenantDoesNotTouchFolder(t *testing.T) {
	fake := &recordingDynamo{}
	repo := NewDynamo(fake, "docs")

	require.NoError(t, repo.UpsertTenant(context.Background(), "ACME", "Acme"))
	require.Len(t, fake.updates, 1)

	in := fake.updates[0]
	col, id := keyOf(t, in.Key)
	assert.Equal(t, "empresas", col)
	assert.Equal(t, "ACME", id)
	assert.NotContains(t, *in.UpdateExpression, "oneDriveFolderId")
	assert.NotContains(t, *in.UpdateExpression, "extra")
}

func TestDynamo_UpsertBranchKey(t *testing.T) {
	fake := &recordingDynamo{}
	repo := NewDynamo(fake, "docs")

	require.NoError(t, repo.UpsertBranch(context.Background(), "ACME", "B1", "Centro"))
	col, id := keyOf(t, fake.updates[0].Key)
	assert.Equal(t, "empresas/ACME/sucursales", col)
	assert.Equal(t, "B1", id)
}

func TestDynamo_PutMeasurement(t *testing.T) {
	fake := &recordingDynamo{}
	repo := NewDynamo(fake, "docs")

	err := repo.PutMeasurement(context.Background(), model.Measurement{
		ID: "01-01-2025", EmpresaID: "ACME", SucursalID: "B1",
		Data: map[string]any{"value": "OK", "n": 3},
	})
	require.NoError(t, err)
	require.Len(t, fake.puts, 1)

	var item measurementItem
	require.NoError(t, attributevalue.UnmarshalMap(fake.puts[0].Item, &item))
	assert.Equal(t, "empresas/ACME/sucursales/B1/mediciones", item.Collection)
	assert.Equal(t, "01-01-2025", item.ID)
	assert.Equal(t, "OK", item.Data["value"])
	assert.False(t, item.CreatedAt.IsZero())
	assert.Nil(t, fake.puts[0].ConditionExpression)
}

func TestDynamo_MeasurementNumbersKeepDigits(t *testing.T) {
	fake := &recordingDynamo{}
	repo := NewDynamo(fake, "docs")
	ctx := context.Background()

	err := repo.PutMeasurement(ctx, model.Measurement{
		ID: "01-01-2025", EmpresaID: "9007199254740993", SucursalID: "B1",
		Data: map[string]any{
			"empresaId": json.Number("9007199254740993"),
			"series":    []any{json.Number("12345678901234567890")},
		},
	})
	require.NoError(t, err)
	require.Len(t, fake.puts, 1)

	data, ok := fake.puts[0].Item["data"].(*types.AttributeValueMemberM)
	require.True(t, ok)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "9007199254740993"}, data.Value["empresaId"])

	fake.item = fake.puts[0].Item
	m, err := repo.GetMeasurement(ctx, "9007199254740993", "B1", "01-01-2025")
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), m.Data["empresaId"])
	assert.Equal(t, []any{json.Number("12345678901234567890")}, m.Data["series"])

	out, err := json.Marshal(m.Data)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"empresaId":9007199254740993`)
}

func TestDynamo_GetTenant_NotFound(t *testing.T) {
	repo := NewDynamo(&recordingDynamo{}, "docs")
	_, err := repo.GetTenant(context.Background(), "ACME")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestDynamo_ListTenantsFollowsPages(t *testing.T) {
	page := func(ids ...string) *dynamodb.QueryOutput {
		out := &dynamodb.QueryOutput{}
		for _, id := range ids {
			item, err := attributevalue.MarshalMap(tenantItem{Collection: "empresas", ID: id, Nombre: strings.ToLower(id)})
			require.NoError(t, err)
			out.Items = append(out.Items, item)
		}
		return out
	}
	first := page("A", "B")
	first.LastEvaluatedKey = map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "B"}}
	fake := &recordingDynamo{pages: []*dynamodb.QueryOutput{first, page("C")}}
	repo := NewDynamo(fake, "docs")

	tenants, err := repo.ListTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 3)
	assert.Equal(t, "c", tenants[2].Nombre)
	assert.Len(t, fake.queries, 2)
	assert.Equal(t, "empresas", fake.queries[0].ExpressionAttributeValues[":c"].(*types.AttributeValueMemberS).Value)
}

func TestDynamo_CountMeasurements(t *testing.T) {
	first := &dynamodb.QueryOutput{Count: 2, LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "x"}}}
	fake := &recordingDynamo{pages: []*dynamodb.QueryOutput{first, {Count: 3}}}
	repo := NewDynamo(fake, "docs")

	n, err := repo.CountMeasurements(context.Background(), "ACME", "B1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, types.SelectCount, fake.queries[0].Select)
}

func TestDynamo_UpdateTenant(t *testing.T) {
	item, err := attributevalue.MarshalMap(tenantItem{Collection: "empresas", ID: "ACME", Nombre: "Acme", UpdatedAt: time.Now()})
	require.NoError(t, err)
	fake := &recordingDynamo{item: item}
	repo := NewDynamo(fake, "docs")

	empty := ""
	got, err := repo.UpdateTenant(context.Background(), "ACME", TenantPatch{OneDriveFolderID: &empty})
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Nombre)
	assert.Contains(t, *fake.updates[0].UpdateExpression, "REMOVE oneDriveFolderId")
	assert.NotNil(t, fake.updates[0].ConditionExpression)

	fake.updErr = &types.ConditionalCheckFailedException{}
	_, err = repo.UpdateTenant(context.Background(), "missing", TenantPatch{})
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}
