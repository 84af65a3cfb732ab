// Package meetings tracks coarse per-meeting status in DynamoDB. The
// record is the externally visible summary of a run; the queue holds the
// fine-grained pipeline state.
package meetings

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"lighthouse/internal/services"
)

const stageName = "meetings"

// Status is the coarse meeting lifecycle exposed to consumers of the
// table. Transitions are monotonic and failed is terminal.
type Status string

const (
	StatusUploading    Status = "uploading"
	StatusConverting   Status = "converting"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusComplete     Status = "processing-complete"
	StatusFailed       Status = "failed"
)

var statusRank = map[Status]int{
	StatusUploading:    0,
	StatusConverting:   1,
	StatusTranscribing: 2,
	StatusAnalyzing:    3,
	StatusComplete:     4,
	StatusFailed:       5,
}

// Record is a meeting row in the table.
type Record struct {
	MeetingID      string `dynamodbav:"meeting_id"`
	Status         Status `dynamodbav:"status"`
	VideoKey       string `dynamodbav:"video_key,omitempty"`
	TranscriptKey  string `dynamodbav:"transcript_key,omitempty"`
	MinutesHTMLKey string `dynamodbav:"minutes_html_key,omitempty"`
	MinutesPDFKey  string `dynamodbav:"minutes_pdf_key,omitempty"`
	FailureCause   string `dynamodbav:"failure_cause,omitempty"`
	ErrorMessage   string `dynamodbav:"error_message,omitempty"`
	CreatedAt      string `dynamodbav:"created_at"`
	UpdatedAt      string `dynamodbav:"updated_at"`
}

// api is the subset of the DynamoDB client the store uses.
type api interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store persists meeting records.
type Store struct {
	client api
	table  string
	now    func() time.Time
}

// New builds a store from the shared AWS configuration.
func New(awsCfg aws.Config, table, endpoint string) *Store {
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Store{client: client, table: table, now: time.Now}
}

// Get fetches a meeting record. A missing meeting returns (nil, nil).
func (s *Store) Get(ctx context.Context, meetingID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"meeting_id": &ddbtypes.AttributeValueMemberS{Value: meetingID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "get record", meetingID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var record Record
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "decode record", meetingID, err)
	}
	return &record, nil
}

// Ensure creates the meeting record in uploading state when it does not
// exist yet, and returns the current record either way.
func (s *Store) Ensure(ctx context.Context, meetingID, videoKey string) (*Record, error) {
	existing, err := s.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := s.now().UTC().Format(time.RFC3339)
	record := &Record{
		MeetingID: meetingID,
		Status:    StatusUploading,
		VideoKey:  videoKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Advance moves the meeting to a later status. Stale writes (an equal or
// earlier status, or any write after failed) are skipped and reported as
// advanced=false, never as an error.
func (s *Store) Advance(ctx context.Context, meetingID string, status Status, mutate func(*Record)) (bool, error) {
	record, err := s.Get(ctx, meetingID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, services.Wrap(services.ErrNotFound, stageName, "advance status", meetingID, nil)
	}
	if record.Status == StatusFailed {
		return false, nil
	}
	if statusRank[status] <= statusRank[record.Status] {
		return false, nil
	}
	record.Status = status
	if mutate != nil {
		mutate(record)
	}
	record.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.put(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed moves the meeting to the terminal failed state with cause
// detail. Failing an already failed meeting keeps the first cause.
func (s *Store) MarkFailed(ctx context.Context, meetingID, cause, message string) error {
	record, err := s.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if record == nil {
		return services.Wrap(services.ErrNotFound, stageName, "mark failed", meetingID, nil)
	}
	if record.Status == StatusFailed {
		return nil
	}
	record.Status = StatusFailed
	record.FailureCause = cause
	record.ErrorMessage = message
	record.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	return s.put(ctx, record)
}

func (s *Store) put(ctx context.Context, record *Record) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "encode record", record.MeetingID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "put record", record.MeetingID, err)
	}
	return nil
}
