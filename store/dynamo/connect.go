// Package dynamo implements store.Client over Amazon DynamoDB — the concrete remote-store
// client the rest of dynatx treats as an opaque collaborator, following a common
// aws_s3.Connect pattern of building an AWS SDK v2 client from a small Config struct.
package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Config holds the parameters needed to reach a DynamoDB (or DynamoDB-compatible local/test)
// endpoint, the way an S3 client config is shaped.
type Config struct {
	// Region is the AWS region, e.g. "us-east-1".
	Region string
	// Endpoint, when non-empty, overrides the SDK's default DynamoDB endpoint (local DynamoDB).
	Endpoint string
	// AccessKeyID/SecretAccessKey are static credentials; leave both empty to fall back to the
	// SDK's normal credential chain (environment, shared config, instance role).
	AccessKeyID     string
	SecretAccessKey string
}

// Connect builds a *dynamodb.Client from cfg.
func Connect(cfg Config) *dynamodb.Client {
	opts := []func(*dynamodb.Options){}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		})
	}
	return dynamodb.NewFromConfig(aws.Config{Region: cfg.Region}, opts...)
}
