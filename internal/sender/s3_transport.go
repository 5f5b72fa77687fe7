// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sender

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var s3TransportLog = log.WithComponent("s3-transport")

// S3Config configures an S3Transport (adapted from the teacher's
// pkg/archive/parquet.S3TargetConfig).
type S3Config struct {
	Endpoint     string
	Bucket       string
	KeyPrefix    string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
	MaxSendSize  int
}

// S3Transport uploads each forwarded payload as one object under
// <KeyPrefix><topic>/<timestamp>.bin; KeyPrefix is prepended as given,
// with no separator added. Object storage has no notion of a
// subject, so "topic" here becomes a key prefix segment.
type S3Transport struct {
	client *s3.Client
	bucket string
	prefix string

	clock       clock.Clock
	maxSendSize int
}

// NewS3Transport builds an S3-compatible transport, grounded on the
// teacher's pkg/archive/parquet.NewS3Target wiring (same static-credential
// and path-style-endpoint pattern), repointed at the collected-data bucket.
func NewS3Transport(c clock.Clock, cfg S3Config) (*S3Transport, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 transport: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 transport: load AWS config: %w", err)
	}

	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	maxSize := cfg.MaxSendSize
	if maxSize <= 0 {
		maxSize = 5 << 20 // 5MiB, well under S3's single-PutObject limit
	}

	return &S3Transport{
		client:      s3.NewFromConfig(awsCfg, opts),
		bucket:      cfg.Bucket,
		prefix:      cfg.KeyPrefix,
		clock:       c,
		maxSendSize: maxSize,
	}, nil
}

// GetMaxSendSize implements Transport.
func (t *S3Transport) GetMaxSendSize() int {
	return t.maxSendSize
}

// SendBuffer implements Transport by putting data as one S3 object.
func (t *S3Transport) SendBuffer(topic string, data []byte, onDone func(ConnectivityError)) {
	key := fmt.Sprintf("%s%s/%d.bin", t.prefix, topic, t.clock.SystemTimeMillis())

	_, err := t.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		s3TransportLog.Errorf("put object %q: %v", key, err)
		onDone(ConnTransmissionError)
		return
	}
	onDone(ConnSuccess)
}
