package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// Client implements store.Client and store.Scanner over a *dynamodb.Client, the concrete
// default backend named directly by the "deliberately out of scope" raw remote-store client,
// value-encoding helpers, and expression-builder DSL.
type Client struct {
	ddb *dynamodb.Client
}

// New wraps an existing *dynamodb.Client, typically built with Connect.
func New(ddb *dynamodb.Client) *Client {
	return &Client{ddb: ddb}
}

var _ store.Client = (*Client)(nil)
var _ store.Scanner = (*Client)(nil)

func (c *Client) DescribeTable(ctx context.Context, tableName string) (store.TableSchema, error) {
	out, err := c.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &tableName})
	if err != nil {
		var nf *ddbtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return store.TableSchema{}, nil
		}
		return store.TableSchema{}, fmt.Errorf("dynamo: describe_table(%s): %w", tableName, err)
	}

	schema := store.TableSchema{TableName: tableName}
	switch out.Table.TableStatus {
	case ddbtypes.TableStatusActive:
		schema.Status = store.TableStatusActive
	case ddbtypes.TableStatusCreating, ddbtypes.TableStatusUpdating:
		schema.Status = store.TableStatusCreating
	default:
		schema.Status = store.TableStatusCreating
	}
	for _, ad := range out.Table.AttributeDefinitions {
		schema.AttributeDefinitions = append(schema.AttributeDefinitions, store.AttributeDefinition{
			AttributeName: *ad.AttributeName,
			AttributeType: fromScalarType(ad.AttributeType),
		})
	}
	for _, ks := range out.Table.KeySchema {
		schema.KeySchema = append(schema.KeySchema, store.KeySchemaElement{
			AttributeName: *ks.AttributeName,
			KeyType:       fromKeyType(ks.KeyType),
		})
	}
	for _, lsi := range out.Table.LocalSecondaryIndexes {
		idx := store.LocalSecondaryIndex{IndexName: *lsi.IndexName}
		for _, ks := range lsi.KeySchema {
			idx.KeySchema = append(idx.KeySchema, store.KeySchemaElement{
				AttributeName: *ks.AttributeName,
				KeyType:       fromKeyType(ks.KeyType),
			})
		}
		schema.LocalSecondaryIndexes = append(schema.LocalSecondaryIndexes, idx)
	}
	return schema, nil
}

func (c *Client) CreateTable(ctx context.Context, input store.CreateTableInput) error {
	ct := &dynamodb.CreateTableInput{
		TableName: &input.TableName,
		BillingMode: ddbtypes.BillingModeProvisioned,
		ProvisionedThroughput: &ddbtypes.ProvisionedThroughput{
			ReadCapacityUnits:  &input.ReadCapacity,
			WriteCapacityUnits: &input.WriteCapacity,
		},
	}
	for _, ad := range input.AttributeDefinitions {
		t, err := scalarType(ad.AttributeType)
		if err != nil {
			return fmt.Errorf("dynamo: create_table(%s): %w", input.TableName, err)
		}
		ct.AttributeDefinitions = append(ct.AttributeDefinitions, ddbtypes.AttributeDefinition{
			AttributeName: aStr(ad.AttributeName), AttributeType: t,
		})
	}
	for _, ks := range input.KeySchema {
		ct.KeySchema = append(ct.KeySchema, ddbtypes.KeySchemaElement{
			AttributeName: aStr(ks.AttributeName), KeyType: keyType(ks.KeyType),
		})
	}
	for _, lsi := range input.LocalSecondaryIndexes {
		var ks []ddbtypes.KeySchemaElement
		for _, k := range lsi.KeySchema {
			ks = append(ks, ddbtypes.KeySchemaElement{AttributeName: aStr(k.AttributeName), KeyType: keyType(k.KeyType)})
		}
		ct.LocalSecondaryIndexes = append(ct.LocalSecondaryIndexes, ddbtypes.LocalSecondaryIndex{
			IndexName: aStr(lsi.IndexName),
			KeySchema: ks,
			Projection: &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll},
		})
	}
	if _, err := c.ddb.CreateTable(ctx, ct); err != nil {
		return fmt.Errorf("dynamo: create_table(%s): %w", input.TableName, err)
	}
	return nil
}

func (c *Client) GetItem(ctx context.Context, input store.GetItemInput) (dynatx.Item, bool, error) {
	key, err := toAVMap(input.Key)
	if err != nil {
		return nil, false, err
	}
	gi := &dynamodb.GetItemInput{
		TableName:      &input.TableName,
		Key:            key,
		ConsistentRead: &input.ConsistentRead,
	}
	if len(input.ProjectAttrs) > 0 {
		b := expression.NewBuilder().WithProjection(projectionOf(input.ProjectAttrs))
		expr, err := b.Build()
		if err != nil {
			return nil, false, fmt.Errorf("dynamo: get_item(%s) projection: %w", input.TableName, err)
		}
		gi.ProjectionExpression = expr.Projection()
		gi.ExpressionAttributeNames = expr.Names()
	}
	out, err := c.ddb.GetItem(ctx, gi)
	if err != nil {
		return nil, false, fmt.Errorf("dynamo: get_item(%s): %w", input.TableName, err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	item, err := fromAVMap(out.Item)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func projectionOf(attrs []string) expression.ProjectionBuilder {
	names := make([]expression.NameBuilder, len(attrs))
	for i, a := range attrs {
		names[i] = expression.Name(a)
	}
	return expression.NamesList(names[0], names[1:]...)
}

// exprBuilder accumulates ConditionExpression/UpdateExpression fragments alongside their
// ExpressionAttributeNames/Values placeholders. The expression package's ValueBuilder marshals
// Go-native values via attributevalue.Marshal, which doesn't compose with values the store
// abstraction already carries as typed wire ddbtypes.AttributeValue, so conditions and updates
// build their placeholder maps directly, naming them #n<i> and :v<i> from one shared counter.
type exprBuilder struct {
	names  map[string]string
	values map[string]ddbtypes.AttributeValue
	n      int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{names: map[string]string{}, values: map[string]ddbtypes.AttributeValue{}}
}

func (b *exprBuilder) name(attr string) string {
	ph := fmt.Sprintf("#n%d", b.n)
	b.n++
	b.names[ph] = attr
	return ph
}

func (b *exprBuilder) value(av ddbtypes.AttributeValue) string {
	ph := fmt.Sprintf(":v%d", b.n)
	b.n++
	b.values[ph] = av
	return ph
}

// condition renders expected as a ConditionExpression string, ANDing every entry.
func (b *exprBuilder) condition(expected store.Expected) (string, error) {
	if len(expected) == 0 {
		return "", nil
	}
	expr := ""
	for attr, ec := range expected {
		namePh := b.name(attr)
		var clause string
		if ec.Exists {
			av, err := toAV(ec.Value)
			if err != nil {
				return "", err
			}
			clause = fmt.Sprintf("%s = %s", namePh, b.value(av))
		} else {
			clause = fmt.Sprintf("attribute_not_exists(%s)", namePh)
		}
		if expr == "" {
			expr = clause
		} else {
			expr += " AND " + clause
		}
	}
	return expr, nil
}

func (c *Client) PutItem(ctx context.Context, input store.PutItemInput) (dynatx.Item, error) {
	item, err := toAVMap(input.Item)
	if err != nil {
		return nil, err
	}
	pi := &dynamodb.PutItemInput{TableName: &input.TableName, Item: item}
	if input.ReturnValues == store.ReturnAllOld {
		pi.ReturnValues = ddbtypes.ReturnValueAllOld
	}
	if len(input.Expected) > 0 {
		eb := newExprBuilder()
		cond, err := eb.condition(input.Expected)
		if err != nil {
			return nil, err
		}
		pi.ConditionExpression = &cond
		pi.ExpressionAttributeNames = eb.names
		pi.ExpressionAttributeValues = eb.values
	}
	out, err := c.ddb.PutItem(ctx, pi)
	if err != nil {
		return nil, wrapConditional("put_item", input.TableName, err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return fromAVMap(out.Attributes)
}

func (c *Client) UpdateItem(ctx context.Context, input store.UpdateItemInput) (dynatx.Item, error) {
	key, err := toAVMap(input.Key)
	if err != nil {
		return nil, err
	}
	eb := newExprBuilder()
	var sets, adds, deletes, removes []string
	for name, au := range input.Updates {
		namePh := eb.name(name)
		switch au.Action {
		case store.ActionPut:
			av, err := toAV(au.Value)
			if err != nil {
				return nil, err
			}
			sets = append(sets, fmt.Sprintf("%s = %s", namePh, eb.value(av)))
		case store.ActionAdd:
			av, err := toAV(au.Value)
			if err != nil {
				return nil, err
			}
			adds = append(adds, fmt.Sprintf("%s %s", namePh, eb.value(av)))
		case store.ActionDelete:
			if au.Value.Type == "" {
				removes = append(removes, namePh)
			} else {
				av, err := toAV(au.Value)
				if err != nil {
					return nil, err
				}
				deletes = append(deletes, fmt.Sprintf("%s %s", namePh, eb.value(av)))
			}
		default:
			return nil, fmt.Errorf("dynamo: unsupported update action %q", au.Action)
		}
	}
	updateExpr := joinClauses("SET", sets) + joinClauses("ADD", adds) + joinClauses("REMOVE", removes) + joinClauses("DELETE", deletes)

	condExpr, err := eb.condition(input.Expected)
	if err != nil {
		return nil, err
	}

	ui := &dynamodb.UpdateItemInput{
		TableName:                 &input.TableName,
		Key:                       key,
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  eb.names,
		ExpressionAttributeValues: eb.values,
	}
	if condExpr != "" {
		ui.ConditionExpression = &condExpr
	}
	if input.ReturnValues == store.ReturnAllOld {
		ui.ReturnValues = ddbtypes.ReturnValueAllOld
	}
	out, err := c.ddb.UpdateItem(ctx, ui)
	if err != nil {
		return nil, wrapConditional("update_item", input.TableName, err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return fromAVMap(out.Attributes)
}

func (c *Client) DeleteItem(ctx context.Context, input store.DeleteItemInput) (dynatx.Item, error) {
	key, err := toAVMap(input.Key)
	if err != nil {
		return nil, err
	}
	di := &dynamodb.DeleteItemInput{TableName: &input.TableName, Key: key}
	if input.ReturnValues == store.ReturnAllOld {
		di.ReturnValues = ddbtypes.ReturnValueAllOld
	}
	if len(input.Expected) > 0 {
		eb := newExprBuilder()
		cond, err := eb.condition(input.Expected)
		if err != nil {
			return nil, err
		}
		di.ConditionExpression = &cond
		di.ExpressionAttributeNames = eb.names
		di.ExpressionAttributeValues = eb.values
	}
	out, err := c.ddb.DeleteItem(ctx, di)
	if err != nil {
		return nil, wrapConditional("delete_item", input.TableName, err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return fromAVMap(out.Attributes)
}

// Scan implements store.Scanner via a paginated table scan, used only by the crash-recovery
// sweeper and WAL garbage collector.
func (c *Client) Scan(ctx context.Context, tableName string) ([]dynatx.Item, error) {
	var items []dynatx.Item
	var lastKey map[string]ddbtypes.AttributeValue
	for {
		out, err := c.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &tableName,
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: scan(%s): %w", tableName, err)
		}
		for _, raw := range out.Items {
			item, err := fromAVMap(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		lastKey = out.LastEvaluatedKey
	}
}

func joinClauses(verb string, clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	s := verb + " "
	for i, c := range clauses {
		if i > 0 {
			s += ", "
		}
		s += c
	}
	return s + " "
}

func wrapConditional(op, table string, err error) error {
	var ccf *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return dynatx.NewConditionalCheckFailedError(fmt.Sprintf("%s(%s): %v", op, table, ccf.Message))
	}
	return fmt.Errorf("dynamo: %s(%s): %w", op, table, err)
}

func aStr(s string) *string { return &s }
