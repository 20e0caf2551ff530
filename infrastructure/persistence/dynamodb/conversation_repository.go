package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
	pkgerrors "chat-backend/pkg/errors"
)

// Single-table layout:
//
//	USER#<owner> / CHAT#<id>                 conversation
//	CHAT#<id>    / META                      owner and message sequence counter
//	CHAT#<id>    / MSG#<created_at>#<seq>    message
const (
	metaSK        = "META"
	chatSKPrefix  = "CHAT#"
	msgSKPrefix   = "MSG#"
	sortableTime  = "2006-01-02T15:04:05.000000000Z"
	batchMaxItems = 25
	batchRetries  = 5
)

// API is the subset of the DynamoDB client the repository uses
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// ConversationRepository implements ports.ConversationRepository using DynamoDB
type ConversationRepository struct {
	client    API
	tableName string
	clock     ports.Clock
	logger    *zap.Logger
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(client API, tableName string, clock ports.Clock, logger *zap.Logger) *ConversationRepository {
	return &ConversationRepository{
		client:    client,
		tableName: tableName,
		clock:     clock,
		logger:    logger,
	}
}

var _ ports.ConversationRepository = (*ConversationRepository)(nil)

type conversationItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	ChatID     string `dynamodbav:"ChatID"`
	UserID     string `dynamodbav:"UserID"`
	Title      string `dynamodbav:"Title"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

type metaItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	UserID     string `dynamodbav:"UserID"`
	MessageSeq int64  `dynamodbav:"MessageSeq"`
}

type messageItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	MessageID  string `dynamodbav:"MessageID"`
	ChatID     string `dynamodbav:"ChatID"`
	Role       string `dynamodbav:"Role"`
	Content    string `dynamodbav:"Content"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	Seq        int64  `dynamodbav:"Seq"`
}

func userPK(ownerID string) string { return "USER#" + ownerID }
func chatSK(id string) string      { return chatSKPrefix + id }
func chatPK(id string) string      { return "CHAT#" + id }

func messageSK(createdAt time.Time, seq int64) string {
	return fmt.Sprintf("%s%s#%020d", msgSKPrefix, createdAt.UTC().Format(sortableTime), seq)
}

// formatTime writes fixed width timestamps so string comparison in condition
// expressions is chronological. parseTime reads both this and RFC3339Nano.
func formatTime(t time.Time) string { return t.UTC().Format(sortableTime) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// Create writes the conversation and its META item atomically
func (r *ConversationRepository) Create(ctx context.Context, c *entities.Conversation) error {
	conv, err := attributevalue.MarshalMap(toConversationItem(c))
	if err != nil {
		return pkgerrors.NewDatabaseError("create chat", fmt.Errorf("marshal chat: %w", err))
	}
	meta, err := attributevalue.MarshalMap(metaItem{
		PK:         chatPK(c.ID),
		SK:         metaSK,
		EntityType: "CHAT_META",
		UserID:     c.OwnerID,
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("create chat", fmt.Errorf("marshal chat meta: %w", err))
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: conv}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: meta}},
		},
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("create chat", err)
	}
	return nil
}

// List queries every CHAT# item under the owner's partition
func (r *ConversationRepository) List(ctx context.Context, ownerID string) ([]*entities.Conversation, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(userPK(ownerID))).
		And(expression.KeyBeginsWith(expression.Key("SK"), chatSKPrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list chats", err)
	}

	items, err := r.queryAll(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list chats", err)
	}

	result := make([]*entities.Conversation, 0, len(items))
	for _, raw := range items {
		var item conversationItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, pkgerrors.NewDatabaseError("list chats", fmt.Errorf("unmarshal chat: %w", err))
		}
		result = append(result, item.toEntity())
	}
	entities.SortConversations(result)
	return result, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id, ownerID string) (*entities.Conversation, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(userPK(ownerID), chatSK(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get chat", err)
	}
	if len(out.Item) == 0 {
		return nil, ports.ErrNotFound
	}

	var item conversationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("get chat", fmt.Errorf("unmarshal chat: %w", err))
	}
	return item.toEntity(), nil
}

func (r *ConversationRepository) Rename(ctx context.Context, id, ownerID string, title valueobjects.Title) (*entities.Conversation, error) {
	update := expression.Set(expression.Name("Title"), expression.Value(title.String())).
		Set(expression.Name("UpdatedAt"), expression.Value(formatTime(r.clock.Now())))

	out, err := r.updateChat(ctx, id, ownerID, update, types.ReturnValueAllNew)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, err
		}
		return nil, pkgerrors.NewDatabaseError("rename chat", err)
	}

	var item conversationItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("rename chat", fmt.Errorf("unmarshal chat: %w", err))
	}
	return item.toEntity(), nil
}

// Touch bumps UpdatedAt unless the stored value is already at or past now.
func (r *ConversationRepository) Touch(ctx context.Context, conversationID, ownerID string) error {
	now := formatTime(r.clock.Now())
	updatedAt := expression.Name("UpdatedAt")
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(updatedAt, expression.Value(now))).
		WithCondition(expression.AttributeExists(expression.Name("PK")).
			And(expression.AttributeNotExists(updatedAt).Or(updatedAt.LessThan(expression.Value(now))))).
		Build()
	if err != nil {
		return pkgerrors.NewDatabaseError("touch chat", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key(userPK(ownerID), chatSK(conversationID)),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailed(err) {
		// Either the chat is gone or it was already touched later.
		if _, err := r.Get(ctx, conversationID, ownerID); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("touch chat", err)
	}
	return nil
}

func (r *ConversationRepository) updateChat(ctx context.Context, id, ownerID string, update expression.UpdateBuilder, ret types.ReturnValue) (*dynamodb.UpdateItemOutput, error) {
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return nil, err
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key(userPK(ownerID), chatSK(id)),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              ret,
	})
	if isConditionFailed(err) {
		return nil, ports.ErrNotFound
	}
	return out, err
}

// AppendMessage reserves the next sequence number on the META item, which
// also fails when the conversation no longer exists, then writes the message.
func (r *ConversationRepository) AppendMessage(ctx context.Context, m *entities.Message) error {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name("MessageSeq"), expression.Value(1))).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewDatabaseError("create message", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key(chatPK(m.ConversationID), metaSK),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if isConditionFailed(err) {
		return ports.ErrNotFound
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("create message", err)
	}

	var counter struct {
		MessageSeq int64 `dynamodbav:"MessageSeq"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return pkgerrors.NewDatabaseError("create message", fmt.Errorf("unmarshal sequence: %w", err))
	}
	m.Seq = counter.MessageSeq

	av, err := attributevalue.MarshalMap(toMessageItem(m))
	if err != nil {
		return pkgerrors.NewDatabaseError("create message", fmt.Errorf("marshal message: %w", err))
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}); err != nil {
		return pkgerrors.NewDatabaseError("create message", err)
	}
	return nil
}

// ListMessages relies on the MSG# sort key for created_at then seq order
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID, ownerID string) ([]*entities.Message, error) {
	if _, err := r.Get(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}

	raw, err := r.queryPartition(ctx, conversationID, msgSKPrefix, true)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list messages", err)
	}

	result := make([]*entities.Message, 0, len(raw))
	for _, av := range raw {
		var item messageItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, pkgerrors.NewDatabaseError("list messages", fmt.Errorf("unmarshal message: %w", err))
		}
		m, err := item.toEntity()
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list messages", err)
		}
		result = append(result, m)
	}
	return result, nil
}

// Delete removes messages in batches, then META, then the conversation item.
// DynamoDB transactions cap at 100 items, so a failure after the messages are
// gone is reported as ports.ErrPartialDelete.
func (r *ConversationRepository) Delete(ctx context.Context, id, ownerID string) error {
	if _, err := r.Get(ctx, id, ownerID); err != nil {
		return err
	}

	keys, err := r.queryPartition(ctx, id, msgSKPrefix, false)
	if err != nil {
		return pkgerrors.NewDatabaseError("delete messages", err)
	}
	if err := r.batchDelete(ctx, keys); err != nil {
		return pkgerrors.NewDatabaseError("delete messages", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewDatabaseError("delete chat", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{TableName: aws.String(r.tableName), Key: key(chatPK(id), metaSK)}},
			{Delete: &types.Delete{
				TableName:                aws.String(r.tableName),
				Key:                      key(userPK(ownerID), chatSK(id)),
				ConditionExpression:      expr.Condition(),
				ExpressionAttributeNames: expr.Names(),
			}},
		},
	})
	if err != nil {
		r.logger.Error("Chat messages deleted but chat remains",
			zap.String("chat_id", id),
			zap.Int("messages_deleted", len(keys)),
			zap.Error(err),
		)
		return pkgerrors.NewDatabaseError("delete chat", fmt.Errorf("%w: %v", ports.ErrPartialDelete, err))
	}

	r.logger.Debug("Chat deleted",
		zap.String("chat_id", id),
		zap.Int("messages_deleted", len(keys)),
	)
	return nil
}

func (r *ConversationRepository) Ping(ctx context.Context) error {
	if _, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	}); err != nil {
		return pkgerrors.NewDatabaseError("ping", err)
	}
	return nil
}

// EnsureTable creates the table with on-demand billing if it does not exist.
func (r *ConversationRepository) EnsureTable(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.tableName)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", r.tableName, err)
	}

	r.logger.Info("Creating table", zap.String("table", r.tableName))
	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(r.tableName),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", r.tableName, err)
	}
	return nil
}

// queryPartition returns the items under CHAT#<id> whose sort key starts
// with prefix. With full=false only the keys are projected.
func (r *ConversationRepository) queryPartition(ctx context.Context, id, prefix string, full bool) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(chatPK(id))).
		And(expression.KeyBeginsWith(expression.Key("SK"), prefix))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if !full {
		builder = builder.WithProjection(expression.NamesList(expression.Name("PK"), expression.Name("SK")))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
		ConsistentRead:            aws.Bool(true),
	}
	if !full {
		input.ProjectionExpression = expr.Projection()
	}
	return r.queryAll(ctx, input)
}

func (r *ConversationRepository) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// batchDelete deletes keys 25 at a time, retrying unprocessed items with a
// short linear backoff.
func (r *ConversationRepository) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += batchMaxItems {
		end := start + batchMaxItems
		if end > len(keys) {
			end = len(keys)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{"PK": k["PK"], "SK": k["SK"]}},
			})
		}

		pending := map[string][]types.WriteRequest{r.tableName: requests}
		for attempt := 0; len(pending[r.tableName]) > 0; attempt++ {
			if attempt == batchRetries {
				return fmt.Errorf("batch delete: %d items left unprocessed", len(pending[r.tableName]))
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
				}
			}

			out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func toConversationItem(c *entities.Conversation) conversationItem {
	return conversationItem{
		PK:         userPK(c.OwnerID),
		SK:         chatSK(c.ID),
		EntityType: "CHAT",
		ChatID:     c.ID,
		UserID:     c.OwnerID,
		Title:      c.Title,
		CreatedAt:  formatTime(c.CreatedAt),
		UpdatedAt:  formatTime(c.UpdatedAt),
	}
}

func (item conversationItem) toEntity() *entities.Conversation {
	return &entities.Conversation{
		ID:        item.ChatID,
		OwnerID:   item.UserID,
		Title:     item.Title,
		CreatedAt: parseTime(item.CreatedAt),
		UpdatedAt: parseTime(item.UpdatedAt),
	}
}

func toMessageItem(m *entities.Message) messageItem {
	return messageItem{
		PK:         chatPK(m.ConversationID),
		SK:         messageSK(m.CreatedAt, m.Seq),
		EntityType: "MESSAGE",
		MessageID:  m.ID,
		ChatID:     m.ConversationID,
		Role:       m.Role.String(),
		Content:    m.Content,
		CreatedAt:  formatTime(m.CreatedAt),
		Seq:        m.Seq,
	}
}

func (item messageItem) toEntity() (*entities.Message, error) {
	role, err := valueobjects.ParseRole(item.Role)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", item.MessageID, err)
	}
	return &entities.Message{
		ID:             item.MessageID,
		ConversationID: item.ChatID,
		Role:           role,
		Content:        item.Content,
		CreatedAt:      parseTime(item.CreatedAt),
		Seq:            item.Seq,
	}, nil
}
