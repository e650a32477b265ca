// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/blobgate/pkg/errors"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const serviceIDMeta = "Service-Id"

var _ Store = (*S3)(nil)

// S3Config selects the bucket and credentials of an S3 store.
type S3Config struct {
	Profile  string
	Region   string
	Bucket   string
	Endpoint string
	Logger   *slog.Logger
}

// S3 is an implementation of Store backed by AWS S3.
type S3 struct {
	cfg    S3Config
	mu     sync.Mutex
	client *s3.S3
}

// NewS3 returns a store writing to cfg.Bucket. The client is created on
// first use.
func NewS3(cfg S3Config) *S3 {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3{cfg: cfg}
}

func notFound(err error, id string) error {
	if rfErr, ok := err.(awserr.RequestFailure); ok && rfErr.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%.40q: %w", id, errors.ErrNotFound)
	}
	return errors.New(errors.KindUnavailable, "s3", err)
}

func (s *S3) Put(ctx context.Context, b Blob) error {
	client, err := s.ensureClient()
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(b.ID),
		Body:     bytes.NewReader(b.Data),
		Metadata: map[string]*string{serviceIDMeta: aws.String(b.ServiceID)},
	}
	if b.ContentType != "" {
		in.ContentType = aws.String(b.ContentType)
	}
	if _, err := client.PutObjectWithContext(ctx, in); err != nil {
		return errors.New(errors.KindUnavailable, "s3", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, id string) (Blob, error) {
	client, err := s.ensureClient()
	if err != nil {
		return Blob{}, err
	}
	output, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return Blob{}, notFound(err, id)
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			s.cfg.Logger.Warn("Could not close response body",
				slog.String("op", "get"),
				slog.String("key", id))
		}
	}()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return Blob{}, errors.New(errors.KindUnavailable, "s3", err)
	}
	b := Blob{
		ID:          id,
		ContentType: aws.StringValue(output.ContentType),
		Created:     aws.TimeValue(output.LastModified),
		Data:        data,
	}
	if v, ok := output.Metadata[serviceIDMeta]; ok {
		b.ServiceID = aws.StringValue(v)
	}
	return b, nil
}

func (s *S3) Delete(ctx context.Context, id string) error {
	client, err := s.ensureClient()
	if err != nil {
		return err
	}
	// DeleteObject succeeds for missing keys.
	if _, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(id),
	}); err != nil {
		return notFound(err, id)
	}
	if _, err := client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(id),
	}); err != nil {
		return errors.New(errors.KindUnavailable, "s3", err)
	}
	return nil
}

func (s *S3) Ping(ctx context.Context) error {
	client, err := s.ensureClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	})
	return err
}

func (s *S3) ensureClient() (*s3.S3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	cfg := &aws.Config{
		Region:      aws.String(s.cfg.Region),
		Credentials: credentials.NewSharedCredentials("", s.cfg.Profile),
	}
	if s.cfg.Endpoint != "" {
		cfg.Endpoint = aws.String(s.cfg.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.New(errors.KindUnavailable, "s3", err)
	}
	s.client = s3.New(sess)
	return s.client, nil
}
