package files

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/storage/dynamo"
	"filevault/internal/shared/telemetry"
)

// dynamoFile is the Files table item: partition key userId, sort key id.
type dynamoFile struct {
	UserID     string `dynamodbav:"userId"`
	ID         string `dynamodbav:"id"`
	FileName   string `dynamodbav:"fileName"`
	FileSize   int64  `dynamodbav:"fileSize"`
	FileType   string `dynamodbav:"fileType"`
	S3Key      string `dynamodbav:"s3Key"`
	UploadDate string `dynamodbav:"uploadDate"`
}

// DynamoRepo implements Repo on a DynamoDB table.
type DynamoRepo struct {
	Client dynamo.API
	Table  string
}

func NewDynamoRepo(client dynamo.API, table string) *DynamoRepo {
	return &DynamoRepo{Client: client, Table: table}
}

func (r *DynamoRepo) Put(ctx context.Context, f FileObject) error {
	item, err := attributevalue.MarshalMap(dynamoFile{
		UserID:     f.OwnerID,
		ID:         f.ID,
		FileName:   f.FileName,
		FileSize:   f.SizeBytes,
		FileType:   f.ContentType,
		S3Key:      f.StorageKey,
		UploadDate: f.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return apperr.Store("files.put", err)
	}
	_, err = r.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.Table),
		Item:      item,
	})
	return apperr.Store("files.put", err)
}

func (r *DynamoRepo) Get(ctx context.Context, ownerID, fileID string) (FileObject, error) {
	out, err := r.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.Table),
		Key:            fileKey(ownerID, fileID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return FileObject{}, apperr.Store("files.get", err)
	}
	if len(out.Item) == 0 {
		return FileObject{}, ErrNotFound
	}
	return decodeFile("files.get", out.Item)
}

func (r *DynamoRepo) ListByOwner(ctx context.Context, ownerID string) ([]FileObject, error) {
	keyCond := expression.Key("userId").Equal(expression.Value(ownerID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, apperr.Store("files.list", err)
	}
	paginator := dynamodb.NewQueryPaginator(r.Client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	out := []FileObject{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperr.Store("files.list", err)
		}
		for _, item := range page.Items {
			f, err := decodeFile("files.list", item)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *DynamoRepo) Delete(ctx context.Context, ownerID, fileID string) error {
	_, err := r.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.Table),
		Key:       fileKey(ownerID, fileID),
	})
	return apperr.Store("files.delete", err)
}

func fileKey(ownerID, fileID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: ownerID},
		"id":     &types.AttributeValueMemberS{Value: fileID},
	}
}

func decodeFile(op string, item map[string]types.AttributeValue) (FileObject, error) {
	var raw dynamoFile
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return FileObject{}, apperr.Store(op, err)
	}
	f := FileObject{
		ID:          raw.ID,
		OwnerID:     raw.UserID,
		FileName:    raw.FileName,
		ContentType: raw.FileType,
		SizeBytes:   raw.FileSize,
		StorageKey:  raw.S3Key,
	}
	if raw.UploadDate != "" {
		created, err := time.Parse(time.RFC3339Nano, raw.UploadDate)
		if err != nil {
			telemetry.Warn("files.bad_upload_date", map[string]any{
				"user_id": raw.UserID,
				"file_id": raw.ID,
				"value":   raw.UploadDate,
				"error":   err.Error(),
			})
		}
		f.CreatedAt = created
	}
	return f, nil
}

var _ Repo = (*DynamoRepo)(nil)
