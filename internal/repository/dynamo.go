package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/model"
)

// DynamoAPI is the subset of *dynamodb.Client used by Dynamo.
type DynamoAPI interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type tenantItem struct {
	Collection       string         `dynamodbav:"collection"`
	ID               string         `dynamodbav:"id"`
	Nombre           string         `dynamodbav:"nombre"`
	OneDriveFolderID string         `dynamodbav:"oneDriveFolderId,omitempty"`
	Extra            map[string]any `dynamodbav:"extra,omitempty"`
	UpdatedAt        time.Time      `dynamodbav:"updatedAt"`
}

type branchItem struct {
	Collection string    `dynamodbav:"collection"`
	ID         string    `dynamodbav:"id"`
	Nombre     string    `dynamodbav:"nombre"`
	Empresa    string    `dynamodbav:"empresa"`
	UpdatedAt  time.Time `dynamodbav:"updatedAt"`
}

type measurementItem struct {
	Collection string         `dynamodbav:"collection"`
	ID         string         `dynamodbav:"id"`
	EmpresaID  string         `dynamodbav:"empresaId"`
	SucursalID string         `dynamodbav:"sucursalId"`
	Data       map[string]any `dynamodbav:"data"`
	CreatedAt  time.Time      `dynamodbav:"createdAt"`
}

// Dynamo stores every record in one table with partition key "collection" and
// sort key "id".
type Dynamo struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

func NewDynamo(client DynamoAPI, tableName string) *Dynamo {
	return &Dynamo{client: client, tableName: tableName, now: time.Now}
}

var _ Repository = (*Dynamo)(nil)

func key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"id":         &types.AttributeValueMemberS{Value: id},
	}
}

func (d *Dynamo) UpsertTenant(ctx context.Context, id, nombre string) error {
	now, err := attributevalue.Marshal(d.now())
	if err != nil {
		return err
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              key(TenantsCollection, id),
		UpdateExpression: aws.String("SET nombre = :nombre, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":nombre": &types.AttributeValueMemberS{Value: nombre},
			":now":    now,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %q: %w", id, err)
	}
	return nil
}

func (d *Dynamo) UpsertBranch(ctx context.Context, empresaID, id, nombre string) error {
	now, err := attributevalue.Marshal(d.now())
	if err != nil {
		return err
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              key(BranchesCollection(empresaID), id),
		UpdateExpression: aws.String("SET nombre = :nombre, empresa = :empresa, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":nombre":  &types.AttributeValueMemberS{Value: nombre},
			":empresa": &types.AttributeValueMemberS{Value: empresaID},
			":now":     now,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert branch %q/%q: %w", empresaID, id, err)
	}
	return nil
}

func (d *Dynamo) PutMeasurement(ctx context.Context, m model.Measurement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = d.now()
	}
	item, err := attributevalue.MarshalMap(measurementItem{
		Collection: MeasurementsCollection(m.EmpresaID, m.SucursalID),
		ID:         m.ID,
		EmpresaID:  m.EmpresaID,
		SucursalID: m.SucursalID,
		Data:       m.Data,
		CreatedAt:  m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put measurement %q: %w", MeasurementPath(m.EmpresaID, m.SucursalID, m.ID), err)
	}
	return nil
}

func (d *Dynamo) get(ctx context.Context, collection, id string, out any) error {
	res, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       key(collection, id),
	})
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if res.Item == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, adapter.ErrNotFound)
	}
	if err := unmarshalItem(res.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err)
	}
	return nil
}

func (d *Dynamo) queryInput(collection string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{
			"#c": "collection",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
		},
	}
}

func (d *Dynamo) query(ctx context.Context, collection string, each func(map[string]types.AttributeValue) error) error {
	p := dynamodb.NewQueryPaginator(d.client, d.queryInput(collection))
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", collection, err)
		}
		for _, item := range page.Items {
			if err := each(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dynamo) count(ctx context.Context, collection string) (int, error) {
	input := d.queryInput(collection)
	input.Select = types.SelectCount

	total := 0
	p := dynamodb.NewQueryPaginator(d.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", collection, err)
		}
		total += int(page.Count)
	}
	return total, nil
}

func (t tenantItem) model() model.Tenant {
	return model.Tenant{
		ID:               t.ID,
		Nombre:           t.Nombre,
		OneDriveFolderID: t.OneDriveFolderID,
		Extra:            jsonNumbers(t.Extra),
		UpdatedAt:        t.UpdatedAt,
	}
}

func (d *Dynamo) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var item tenantItem
	if err := d.get(ctx, TenantsCollection, id, &item); err != nil {
		return nil, err
	}
	t := item.model()
	return &t, nil
}

func (d *Dynamo) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	tenants := []model.Tenant{}
	err := d.query(ctx, TenantsCollection, func(av map[string]types.AttributeValue) error {
		var item tenantItem
		if err := unmarshalItem(av, &item); err != nil {
			return fmt.Errorf("failed to unmarshal tenant: %w", err)
		}
		tenants = append(tenants, item.model())
		return nil
	})
	return tenants, err
}

func (d *Dynamo) UpdateTenant(ctx context.Context, id string, patch TenantPatch) (*model.Tenant, error) {
	now, err := attributevalue.Marshal(d.now())
	if err != nil {
		return nil, err
	}

	set := "SET updatedAt = :now"
	remove := ""
	values := map[string]types.AttributeValue{":now": now}
	if patch.Nombre != nil {
		set += ", nombre = :nombre"
		values[":nombre"] = &types.AttributeValueMemberS{Value: *patch.Nombre}
	}
	if patch.OneDriveFolderID != nil {
		if *patch.OneDriveFolderID == "" {
			remove = " REMOVE oneDriveFolderId"
		} else {
			set += ", oneDriveFolderId = :folder"
			values[":folder"] = &types.AttributeValueMemberS{Value: *patch.OneDriveFolderID}
		}
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       key(TenantsCollection, id),
		UpdateExpression:          aws.String(set + remove),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  map[string]string{"#id": "id"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("tenant %q: %w", id, adapter.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update tenant %q: %w", id, err)
	}

	var item tenantItem
	if err := unmarshalItem(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenant: %w", err)
	}
	t := item.model()
	return &t, nil
}

func (d *Dynamo) ListBranches(ctx context.Context, empresaID string) ([]model.Branch, error) {
	branches := []model.Branch{}
	err := d.query(ctx, BranchesCollection(empresaID), func(av map[string]types.AttributeValue) error {
		var item branchItem
		if err := unmarshalItem(av, &item); err != nil {
			return fmt.Errorf("failed to unmarshal branch: %w", err)
		}
		branches = append(branches, model.Branch{
			ID:        item.ID,
			Nombre:    item.Nombre,
			Empresa:   item.Empresa,
			UpdatedAt: item.UpdatedAt,
		})
		return nil
	})
	return branches, err
}

func (m measurementItem) model() model.Measurement {
	return model.Measurement{
		ID:         m.ID,
		EmpresaID:  m.EmpresaID,
		SucursalID: m.SucursalID,
		Data:       jsonNumbers(m.Data),
		CreatedAt:  m.CreatedAt,
	}
}

func (d *Dynamo) ListMeasurements(ctx context.Context, empresaID, sucursalID string) ([]model.Measurement, error) {
	measurements := []model.Measurement{}
	err := d.query(ctx, MeasurementsCollection(empresaID, sucursalID), func(av map[string]types.AttributeValue) error {
		var item measurementItem
		if err := unmarshalItem(av, &item); err != nil {
			return fmt.Errorf("failed to unmarshal measurement: %w", err)
		}
		measurements = append(measurements, item.model())
		return nil
	})
	return measurements, err
}

func (d *Dynamo) GetMeasurement(ctx context.Context, empresaID, sucursalID, id string) (*model.Measurement, error) {
	var item measurementItem
	if err := d.get(ctx, MeasurementsCollection(empresaID, sucursalID), id, &item); err != nil {
		return nil, err
	}
	m := item.model()
	return &m, nil
}

func (d *Dynamo) CountMeasurements(ctx context.Context, empresaID, sucursalID string) (int, error) {
	return d.count(ctx, MeasurementsCollection(empresaID, sucursalID))
}

// unmarshalItem decodes numbers inside free-form maps as attributevalue.Number
// so payload values keep every digit.
func unmarshalItem(item map[string]types.AttributeValue, out any) error {
	return attributevalue.UnmarshalMapWithOptions(item, out, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
}

// jsonNumbers rewrites attributevalue.Number values as json.Number so they
// serialize as JSON numbers, verbatim.
func jsonNumbers(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = jsonNumber(v)
	}
	return out
}

func jsonNumber(v any) any {
	switch x := v.(type) {
	case attributevalue.Number:
		return json.Number(x)
	case []attributevalue.Number:
		ns := make([]any, len(x))
		for i, n := range x {
			ns[i] = json.Number(n)
		}
		return ns
	case map[string]any:
		return jsonNumbers(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonNumber(e)
		}
		return out
	default:
		return v
	}
}
