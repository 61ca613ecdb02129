package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/storage/dynamo"
	"filevault/internal/shared/storage/object"
	"filevault/internal/shared/telemetry"
)

const emailIndex = "email-index"

// dynamoIdentity is the Users table item. "id" mirrors "userId" for older readers.
type dynamoIdentity struct {
	UserID    string `dynamodbav:"userId"`
	ID        string `dynamodbav:"id"`
	Email     string `dynamodbav:"email"`
	Name      string `dynamodbav:"name,omitempty"`
	Password  string `dynamodbav:"password,omitempty"`
	AvatarKey string `dynamodbav:"avatarKey,omitempty"`
	// Avatar holds a full object URL on items written before avatarKey existed.
	Avatar    string `dynamodbav:"avatar,omitempty"`
	CreatedAt string `dynamodbav:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt,omitempty"`
}

// DynamoRepo stores identities in a DynamoDB table keyed by userId with an
// email-index global secondary index.
type DynamoRepo struct {
	Client dynamo.API
	Table  string
	now    func() time.Time
}

func NewDynamoRepo(client dynamo.API, table string) *DynamoRepo {
	return &DynamoRepo{Client: client, Table: table, now: func() time.Time { return time.Now().UTC() }}
}

// Create rejects a taken email, then writes conditionally on userId.
// Two concurrent registrations of one email can both pass the lookup; the
// table has no way to enforce uniqueness on a GSI attribute.
func (r *DynamoRepo) Create(ctx context.Context, id Identity) error {
	if _, err := r.GetByEmail(ctx, id.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	now := r.now()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = id.CreatedAt
	}
	item, err := attributevalue.MarshalMap(toDynamoIdentity(id))
	if err != nil {
		return apperr.Store("identity.create", err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("userId"))).
		Build()
	if err != nil {
		return apperr.Store("identity.create", err)
	}
	_, err = r.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.Table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrEmailTaken
		}
		return apperr.Store("identity.create", err)
	}
	return nil
}

func (r *DynamoRepo) GetByID(ctx context.Context, ownerID string) (Identity, error) {
	out, err := r.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.Table),
		Key:            userKey(ownerID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Identity{}, apperr.Store("identity.get", err)
	}
	if len(out.Item) == 0 {
		return Identity{}, ErrNotFound
	}
	return decodeIdentity("identity.get", out.Item)
}

func (r *DynamoRepo) GetByEmail(ctx context.Context, email string) (Identity, error) {
	keyCond := expression.Key("email").Equal(expression.Value(NormalizeEmail(email)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return Identity{}, apperr.Store("identity.get_by_email", err)
	}
	out, err := r.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.Table),
		IndexName:                 aws.String(emailIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return Identity{}, apperr.Store("identity.get_by_email", err)
	}
	if len(out.Items) == 0 {
		return Identity{}, ErrNotFound
	}
	return decodeIdentity("identity.get_by_email", out.Items[0])
}

// Update translates the closed Update field set into an update expression.
func (r *DynamoRepo) Update(ctx context.Context, ownerID string, u Update) (Identity, error) {
	if err := u.Validate(); err != nil {
		return Identity{}, err
	}
	u = u.normalized()

	upd := expression.Set(expression.Name("updatedAt"), expression.Value(r.now().Format(time.RFC3339Nano)))
	if u.Name != nil {
		upd = upd.Set(expression.Name("name"), expression.Value(*u.Name))
	}
	if u.AvatarKey != nil {
		if *u.AvatarKey == "" {
			upd = upd.Remove(expression.Name("avatarKey"))
		} else {
			upd = upd.Set(expression.Name("avatarKey"), expression.Value(*u.AvatarKey))
		}
		upd = upd.Remove(expression.Name("avatar"))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(upd).
		WithCondition(expression.AttributeExists(expression.Name("userId"))).
		Build()
	if err != nil {
		return Identity{}, apperr.Store("identity.update", err)
	}

	out, err := r.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.Table),
		Key:                       userKey(ownerID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, apperr.Store("identity.update", err)
	}
	return decodeIdentity("identity.update", out.Attributes)
}

func userKey(ownerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: ownerID},
	}
}

func toDynamoIdentity(id Identity) dynamoIdentity {
	item := dynamoIdentity{
		UserID:    id.ID,
		ID:        id.ID,
		Email:     NormalizeEmail(id.Email),
		Name:      id.Name,
		Password:  id.PasswordHash,
		AvatarKey: id.AvatarKey,
		CreatedAt: id.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !id.UpdatedAt.IsZero() {
		item.UpdatedAt = id.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return item
}

func decodeIdentity(op string, item map[string]types.AttributeValue) (Identity, error) {
	var raw dynamoIdentity
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return Identity{}, apperr.Store(op, err)
	}
	ownerID := raw.UserID
	if ownerID == "" {
		ownerID = raw.ID
	}
	id := Identity{
		ID:           ownerID,
		Email:        raw.Email,
		Name:         raw.Name,
		PasswordHash: raw.Password,
		AvatarKey:    raw.AvatarKey,
	}
	if id.AvatarKey == "" && raw.Avatar != "" {
		id.AvatarKey = legacyAvatarKey(raw.Avatar)
	}
	id.CreatedAt = parseStamp(ownerID, "createdAt", raw.CreatedAt)
	id.UpdatedAt = parseStamp(ownerID, "updatedAt", raw.UpdatedAt)
	return id, nil
}

// parseStamp reads an RFC 3339 attribute. Missing or malformed values
// decode as the zero time; malformed ones are logged.
func parseStamp(ownerID, attr, raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		telemetry.Warn("identity.bad_timestamp", map[string]any{
			"user_id":   ownerID,
			"attribute": attr,
			"value":     raw,
			"error":     err.Error(),
		})
		return time.Time{}
	}
	return t
}

// legacyAvatarKey recovers the object key from a stored avatar URL.
func legacyAvatarKey(raw string) string {
	if i := strings.Index(raw, object.AvatarsPrefix); i >= 0 {
		key := raw[i:]
		if j := strings.IndexAny(key, "?#"); j >= 0 {
			key = key[:j]
		}
		if object.ValidateKey(key) == nil {
			return key
		}
	}
	return ""
}

var _ Repo = (*DynamoRepo)(nil)
