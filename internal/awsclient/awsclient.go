// Package awsclient builds the shared AWS SDK configuration every
// service client derives from.
package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"lighthouse/internal/config"
	"lighthouse/internal/services"
)

// Load resolves AWS credentials and region from the Lighthouse
// configuration plus the standard credential chain.
func Load(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, services.Wrap(services.ErrConfiguration, "", "load aws config", "credential chain resolution failed", err)
	}
	return awsCfg, nil
}
