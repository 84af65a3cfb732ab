// Package mediaconvert submits and polls the MediaConvert jobs that
// extract MP3 audio from uploaded recordings.
package mediaconvert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/mediaconvert"
	mctypes "github.com/aws/aws-sdk-go-v2/service/mediaconvert/types"
	"github.com/google/uuid"

	"lighthouse/internal/jobs"
	"lighthouse/internal/services"
)

const (
	stageName     = "conversion"
	audioSelector = "Audio Selector 1"

	mp3Bitrate    int32 = 192000
	mp3Channels   int32 = 2
	mp3SampleRate int32 = 44100
)

// api is the subset of the MediaConvert client used here.
type api interface {
	CreateJob(ctx context.Context, params *mediaconvert.CreateJobInput, optFns ...func(*mediaconvert.Options)) (*mediaconvert.CreateJobOutput, error)
	GetJob(ctx context.Context, params *mediaconvert.GetJobInput, optFns ...func(*mediaconvert.Options)) (*mediaconvert.GetJobOutput, error)
}

// Client submits audio extraction jobs.
type Client struct {
	client  api
	roleARN string
	queue   string
}

// New builds a client from the shared AWS configuration.
func New(awsCfg aws.Config, roleARN, queue, endpoint string) *Client {
	client := mediaconvert.NewFromConfig(awsCfg, func(o *mediaconvert.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{client: client, roleARN: roleARN, queue: queue}
}

// SubmitInput describes one conversion job.
type SubmitInput struct {
	// InputURI is the s3:// location of the source recording.
	InputURI string
	// DestinationURI is the s3:// prefix audio objects are written under.
	DestinationURI string
	// SourceKey is recorded in job metadata for traceability.
	SourceKey string
	// NameModifier is appended to the output base name.
	NameModifier string
	// Clip restricts the job to a segment of the source. Nil converts the
	// whole recording.
	Clip *Segment
}

// Submit creates a MediaConvert job and returns its identifier.
func (c *Client) Submit(ctx context.Context, input SubmitInput) (string, error) {
	settings := &mctypes.JobSettings{
		Inputs: []mctypes.Input{{
			FileInput: aws.String(input.InputURI),
			AudioSelectors: map[string]mctypes.AudioSelector{
				audioSelector: {DefaultSelection: mctypes.AudioDefaultSelectionDefault},
			},
		}},
		OutputGroups: []mctypes.OutputGroup{{
			Name: aws.String("Audio MP3"),
			OutputGroupSettings: &mctypes.OutputGroupSettings{
				Type: mctypes.OutputGroupTypeFileGroupSettings,
				FileGroupSettings: &mctypes.FileGroupSettings{
					Destination: aws.String(input.DestinationURI),
				},
			},
			Outputs: []mctypes.Output{{
				NameModifier: aws.String(input.NameModifier),
				AudioDescriptions: []mctypes.AudioDescription{{
					AudioSourceName: aws.String(audioSelector),
					CodecSettings: &mctypes.AudioCodecSettings{
						Codec: mctypes.AudioCodecMp3,
						Mp3Settings: &mctypes.Mp3Settings{
							Bitrate:         aws.Int32(mp3Bitrate),
							Channels:        aws.Int32(mp3Channels),
							SampleRate:      aws.Int32(mp3SampleRate),
							RateControlMode: mctypes.Mp3RateControlModeCbr,
						},
					},
				}},
				ContainerSettings: &mctypes.ContainerSettings{
					Container: mctypes.ContainerTypeRaw,
				},
			}},
		}},
	}

	description := "Full recording conversion"
	if input.Clip != nil {
		start := input.Clip.StartSeconds
		end := start + input.Clip.DurationSeconds
		settings.Inputs[0].InputClippings = []mctypes.InputClipping{{
			StartTimecode: aws.String(timecode(start)),
			EndTimecode:   aws.String(timecode(end)),
		}}
		description = fmt.Sprintf("Part %d of %d", input.Clip.Part, input.Clip.TotalParts)
	}

	req := &mediaconvert.CreateJobInput{
		Role:     aws.String(c.roleARN),
		Settings: settings,
		UserMetadata: map[string]string{
			"SourceKey":      input.SourceKey,
			"ProcessingType": "VideoToMP3",
			"JobDescription": description,
			"Submission":     uuid.NewString(),
		},
	}
	if c.queue != "" {
		req.Queue = aws.String(c.queue)
	}

	out, err := c.client.CreateJob(ctx, req)
	if err != nil {
		return "", services.Wrap(jobs.SubmitErrorMarker(err), stageName, "create job", input.SourceKey, err)
	}
	if out.Job == nil || out.Job.Id == nil {
		return "", services.Wrap(services.ErrExternalService, stageName, "create job", "response missing job id", nil)
	}
	return *out.Job.Id, nil
}

// Poll reports the current state of a conversion job.
func (c *Client) Poll(ctx context.Context, jobID string) (jobs.Result, error) {
	out, err := c.client.GetJob(ctx, &mediaconvert.GetJobInput{Id: aws.String(jobID)})
	if err != nil {
		return jobs.Result{}, services.Wrap(services.ErrTransient, stageName, "get job", jobID, err)
	}
	if out.Job == nil {
		return jobs.Result{}, services.Wrap(services.ErrExternalService, stageName, "get job", "response missing job", nil)
	}

	switch out.Job.Status {
	case mctypes.JobStatusComplete:
		return jobs.Result{State: jobs.StateSucceeded}, nil
	case mctypes.JobStatusError, mctypes.JobStatusCanceled:
		detail := string(out.Job.Status)
		if out.Job.ErrorMessage != nil && *out.Job.ErrorMessage != "" {
			detail = *out.Job.ErrorMessage
		}
		return jobs.Result{State: jobs.StateFailed, Detail: detail}, nil
	default:
		return jobs.Result{State: jobs.StateRunning}, nil
	}
}
