package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
	pkgerrors "chat-backend/pkg/errors"
)

// fakeAPI keeps items in memory and understands the expressions the
// repository builds. Calls it does not override panic on the nil interface.
type fakeAPI struct {
	API
	items       map[string]map[string]types.AttributeValue
	batches     [][]types.WriteRequest
	unprocessed int
	updateErr   error
	txErr       error
}

var (
	keyEqualPattern   = regexp.MustCompile(`(#\w+) = (:\w+)`)
	beginsWithPattern = regexp.MustCompile(`begins_with \((#\w+), (:\w+)\)`)
	addPattern        = regexp.MustCompile(`ADD (#\w+) (:\w+)`)
	lessThanPattern   = regexp.MustCompile(`(#\w+) < (:\w+)`)
)

func stringAttr(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func itemKey(k map[string]types.AttributeValue) string {
	return stringAttr(k["PK"]) + "|" + stringAttr(k["SK"])
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *fakeAPI) put(item map[string]types.AttributeValue) {
	if f.items == nil {
		f.items = make(map[string]map[string]types.AttributeValue)
	}
	f.items[itemKey(item)] = copyItem(item)
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := f.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cond := aws.ToString(in.KeyConditionExpression)
	eq := keyEqualPattern.FindStringSubmatch(cond)
	begins := beginsWithPattern.FindStringSubmatch(cond)
	if eq == nil || begins == nil {
		return nil, fmt.Errorf("unsupported key condition %q", cond)
	}
	pk := stringAttr(in.ExpressionAttributeValues[eq[2]])
	prefix := stringAttr(in.ExpressionAttributeValues[begins[2]])

	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if stringAttr(item["PK"]) == pk && strings.HasPrefix(stringAttr(item["SK"]), prefix) {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return stringAttr(out[i]["SK"]) < stringAttr(out[j]["SK"]) })
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		if ti.Delete != nil && ti.Delete.ConditionExpression != nil {
			if _, ok := f.items[itemKey(ti.Delete.Key)]; !ok {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.put(ti.Put.Item)
		case ti.Delete != nil:
			delete(f.items, itemKey(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	for table, reqs := range in.RequestItems {
		f.batches = append(f.batches, reqs)
		processed := reqs
		var left []types.WriteRequest
		if f.unprocessed > 0 {
			f.unprocessed--
			processed, left = reqs[1:], reqs[:1]
		}
		for _, req := range processed {
			if req.DeleteRequest != nil {
				delete(f.items, itemKey(req.DeleteRequest.Key))
			}
		}
		if left != nil {
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]types.WriteRequest{table: left},
			}, nil
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

// UpdateItem applies SET and ADD clauses. Conditions are read as
// attribute_exists on the key plus an optional "attribute missing or less than" guard.
func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	names, values := in.ExpressionAttributeNames, in.ExpressionAttributeValues

	item, ok := f.items[itemKey(in.Key)]
	cond := aws.ToString(in.ConditionExpression)
	if strings.Contains(cond, "attribute_exists") && !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if m := lessThanPattern.FindStringSubmatch(cond); m != nil {
		if current, has := item[names[m[1]]]; has && stringAttr(current) >= stringAttr(values[m[2]]) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if !ok {
		item = copyItem(in.Key)
	}

	updated := map[string]types.AttributeValue{}
	update := aws.ToString(in.UpdateExpression)
	if strings.HasPrefix(update, "SET") {
		for _, m := range keyEqualPattern.FindAllStringSubmatch(update, -1) {
			updated[names[m[1]]] = values[m[2]]
		}
	}
	if m := addPattern.FindStringSubmatch(update); m != nil {
		var current int64
		if n, has := item[names[m[1]]].(*types.AttributeValueMemberN); has {
			current, _ = strconv.ParseInt(n.Value, 10, 64)
		}
		delta, _ := strconv.ParseInt(values[m[2]].(*types.AttributeValueMemberN).Value, 10, 64)
		updated[names[m[1]]] = &types.AttributeValueMemberN{Value: strconv.FormatInt(current+delta, 10)}
	}
	for k, v := range updated {
		item[k] = v
	}
	f.put(item)

	switch in.ReturnValues {
	case types.ReturnValueAllNew:
		return &dynamodb.UpdateItemOutput{Attributes: copyItem(item)}, nil
	case types.ReturnValueUpdatedNew:
		return &dynamodb.UpdateItemOutput{Attributes: updated}, nil
	default:
		return &dynamodb.UpdateItemOutput{}, nil
	}
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newTestRepo(api API) *ConversationRepository {
	return NewConversationRepository(api, "chat-test", ports.SystemClock{}, zap.NewNop())
}

func TestMessageSK_SortsByTimeThenSeq(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := messageSK(base, 9)
	b := messageSK(base, 10)
	c := messageSK(base.Add(time.Nanosecond), 1)

	assert.Less(t, a, b, "seq is zero padded")
	assert.Less(t, b, c)
	assert.Equal(t, "MSG#2024-05-01T12:00:00.000000000Z#00000000000000000009", a)
}

func TestConversationItem_RoundTrip(t *testing.T) {
	title, err := valueobjects.NewTitle("Trip planning")
	require.NoError(t, err)
	conv := entities.NewConversation("user-1", title, time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC))

	item := toConversationItem(conv)
	assert.Equal(t, "USER#user-1", item.PK)
	assert.Equal(t, "CHAT#"+conv.ID, item.SK)

	back := item.toEntity()
	assert.Equal(t, conv.ID, back.ID)
	assert.Equal(t, conv.OwnerID, back.OwnerID)
	assert.Equal(t, conv.Title, back.Title)
	assert.True(t, conv.CreatedAt.Equal(back.CreatedAt))
}

func TestMessageItem_RoundTrip(t *testing.T) {
	msg := entities.NewMessage("chat-1", valueobjects.RoleAssistant, "hello", time.Now().UTC())
	msg.Seq = 4

	item := toMessageItem(msg)
	assert.Equal(t, "CHAT#chat-1", item.PK)

	back, err := item.toEntity()
	require.NoError(t, err)
	assert.Equal(t, msg.ID, back.ID)
	assert.Equal(t, valueobjects.RoleAssistant, back.Role)
	assert.Equal(t, int64(4), back.Seq)

	item.Role = "system"
	_, err = item.toEntity()
	assert.Error(t, err)
}

func TestIsConditionFailed(t *testing.T) {
	assert.True(t, isConditionFailed(&types.ConditionalCheckFailedException{}))
	assert.True(t, isConditionFailed(&types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String("ConditionalCheckFailed")}},
	}))
	assert.False(t, isConditionFailed(errors.New("throttled")))
	assert.False(t, isConditionFailed(nil))
}

func TestBatchDelete_ChunksAndRetries(t *testing.T) {
	api := &fakeAPI{unprocessed: 1}
	repo := newTestRepo(api)

	keys := make([]map[string]types.AttributeValue, 60)
	for i := range keys {
		keys[i] = key("CHAT#c", messageSK(time.Unix(int64(i), 0), int64(i)))
	}

	require.NoError(t, repo.batchDelete(context.Background(), keys))

	// 25 + retry of 1 + 25 + 10
	require.Len(t, api.batches, 4)
	assert.Len(t, api.batches[0], 25)
	assert.Len(t, api.batches[1], 1)
	assert.Len(t, api.batches[2], 25)
	assert.Len(t, api.batches[3], 10)
}

func TestBatchDelete_GivesUpAfterRetries(t *testing.T) {
	api := &fakeAPI{unprocessed: batchRetries + 1}
	repo := newTestRepo(api)

	err := repo.batchDelete(context.Background(), []map[string]types.AttributeValue{key("CHAT#c", "MSG#x")})
	assert.Error(t, err)
}

func TestAppendMessage_MissingConversation(t *testing.T) {
	repo := newTestRepo(&fakeAPI{updateErr: &types.ConditionalCheckFailedException{}})

	msg := entities.NewMessage("gone", valueobjects.RoleUser, "hi", time.Now())
	assert.ErrorIs(t, repo.AppendMessage(context.Background(), msg), ports.ErrNotFound)
}

func TestTouch_MissingConversation(t *testing.T) {
	repo := newTestRepo(&fakeAPI{updateErr: &types.ConditionalCheckFailedException{}})
	assert.ErrorIs(t, repo.Touch(context.Background(), "gone", "user-1"), ports.ErrNotFound)
}

func seedConversation(t *testing.T, repo *ConversationRepository, owner string, now time.Time, contents ...string) *entities.Conversation {
	t.Helper()
	title, err := valueobjects.NewTitle("Trip planning")
	require.NoError(t, err)
	conv := entities.NewConversation(owner, title, now)
	require.NoError(t, repo.Create(context.Background(), conv))

	for i, content := range contents {
		role := valueobjects.RoleUser
		if i%2 == 1 {
			role = valueobjects.RoleAssistant
		}
		msg := entities.NewMessage(conv.ID, role, content, now)
		require.NoError(t, repo.AppendMessage(context.Background(), msg))
	}
	return conv
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	api := &fakeAPI{}
	repo := NewConversationRepository(api, "chat-test", clock, zap.NewNop())

	conv := seedConversation(t, repo, "user-1", clock.t, "hi", "hello", "how are you")
	seedConversation(t, repo, "user-2", clock.t)

	got, err := repo.Get(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", got.Title)
	assert.True(t, got.UpdatedAt.Equal(clock.t))

	_, err = repo.Get(ctx, conv.ID, "user-2")
	assert.ErrorIs(t, err, ports.ErrNotFound, "another owner cannot see the chat")

	list, err := repo.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	clock.t = clock.t.Add(time.Minute)
	newTitle, err := valueobjects.NewTitle("Road trip")
	require.NoError(t, err)
	renamed, err := repo.Rename(ctx, conv.ID, "user-1", newTitle)
	require.NoError(t, err)
	assert.Equal(t, "Road trip", renamed.Title)
	assert.True(t, renamed.UpdatedAt.Equal(clock.t))

	msgs, err := repo.ListMessages(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"hi", "hello", "how are you"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})
	assert.Equal(t, valueobjects.RoleAssistant, msgs[1].Role)

	_, err = repo.ListMessages(ctx, conv.ID, "user-2")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, conv.ID, "user-1"))

	_, err = repo.Get(ctx, conv.ID, "user-1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	for k := range api.items {
		assert.NotContains(t, k, conv.ID, "every item of the chat is removed")
	}
	assert.ErrorIs(t, repo.Delete(ctx, conv.ID, "user-1"), ports.ErrNotFound)
}

func TestDelete_ChatSurvivesMessagesReportsPartialDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{}
	repo := NewConversationRepository(api, "chat-test", &fixedClock{t: now}, zap.NewNop())
	conv := seedConversation(t, repo, "user-1", now, "hi", "hello")

	api.txErr = errors.New("throttled")
	err := repo.Delete(ctx, conv.ID, "user-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPartialDelete)
	appErr := pkgerrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)

	require.Len(t, api.batches, 1)
	assert.Len(t, api.batches[0], 2, "both messages went out in the batch")

	_, err = repo.Get(ctx, conv.ID, "user-1")
	assert.NoError(t, err, "the chat item is still there")
	msgs, err := repo.ListMessages(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTouch_NeverMovesUpdatedAtBackwards(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{t: start}
	api := &fakeAPI{}
	repo := NewConversationRepository(api, "chat-test", clock, zap.NewNop())
	conv := seedConversation(t, repo, "user-1", start)

	clock.t = start.Add(500 * time.Millisecond)
	require.NoError(t, repo.Touch(ctx, conv.ID, "user-1"))
	got, err := repo.Get(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(clock.t))

	// A clock that steps back leaves the stored value alone.
	clock.t = start.Add(100 * time.Millisecond)
	require.NoError(t, repo.Touch(ctx, conv.ID, "user-1"))
	got, err = repo.Get(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(start.Add(500*time.Millisecond)))

	assert.ErrorIs(t, repo.Touch(ctx, conv.ID, "user-2"), ports.ErrNotFound)
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	whole := formatTime(base)
	fraction := formatTime(base.Add(500 * time.Millisecond))

	assert.Less(t, whole, fraction)
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z", whole)
	assert.True(t, parseTime(fraction).Equal(base.Add(500*time.Millisecond)))
	assert.True(t, parseTime("2024-05-01T12:00:00.5Z").Equal(base.Add(500*time.Millisecond)))
}
