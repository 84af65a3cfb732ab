// Package transcribe submits and polls the speech-to-text jobs that turn
// converted audio into transcripts.
package transcribe

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	trtypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"lighthouse/internal/jobs"
	"lighthouse/internal/services"
)

const stageName = "transcription"

// api is the subset of the Transcribe client used here.
type api interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// Client submits transcription jobs with speaker identification.
type Client struct {
	client       api
	languageCode string
	maxSpeakers  int32
}

// New builds a client from the shared AWS configuration.
func New(awsCfg aws.Config, languageCode string, maxSpeakers int, endpoint string) *Client {
	client := transcribe.NewFromConfig(awsCfg, func(o *transcribe.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{client: client, languageCode: languageCode, maxSpeakers: int32(maxSpeakers)}
}

// SubmitInput describes one transcription job.
type SubmitInput struct {
	// JobName is the unique Transcribe job name.
	JobName string
	// MediaURI is the s3:// location of the audio segment.
	MediaURI string
	// OutputBucket and OutputKey place the transcript JSON.
	OutputBucket string
	OutputKey    string
}

// Submit starts a transcription job and returns its name as the handle.
func (c *Client) Submit(ctx context.Context, input SubmitInput) (string, error) {
	_, err := c.client.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(input.JobName),
		LanguageCode:         trtypes.LanguageCode(c.languageCode),
		MediaFormat:          trtypes.MediaFormatMp3,
		Media: &trtypes.Media{
			MediaFileUri: aws.String(input.MediaURI),
		},
		OutputBucketName: aws.String(input.OutputBucket),
		OutputKey:        aws.String(input.OutputKey),
		Settings: &trtypes.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(c.maxSpeakers),
		},
	})
	if err != nil {
		return "", services.Wrap(jobs.SubmitErrorMarker(err), stageName, "start job", input.JobName, err)
	}
	return input.JobName, nil
}

// Poll reports the current state of a transcription job.
func (c *Client) Poll(ctx context.Context, jobName string) (jobs.Result, error) {
	out, err := c.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		return jobs.Result{}, services.Wrap(services.ErrTransient, stageName, "get job", jobName, err)
	}
	if out.TranscriptionJob == nil {
		return jobs.Result{}, services.Wrap(services.ErrExternalService, stageName, "get job", "response missing job", nil)
	}

	switch out.TranscriptionJob.TranscriptionJobStatus {
	case trtypes.TranscriptionJobStatusCompleted:
		return jobs.Result{State: jobs.StateSucceeded}, nil
	case trtypes.TranscriptionJobStatusFailed:
		detail := "transcription job failed"
		if out.TranscriptionJob.FailureReason != nil && *out.TranscriptionJob.FailureReason != "" {
			detail = *out.TranscriptionJob.FailureReason
		}
		return jobs.Result{State: jobs.StateFailed, Detail: detail}, nil
	default:
		return jobs.Result{State: jobs.StateRunning}, nil
	}
}
