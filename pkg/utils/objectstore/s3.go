// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	pkgerrors "github.com/pkg/errors"
)

// s3 DeleteObjects accepts at most 1000 keys per request.
const deleteBatchSize = 1000

type S3Client struct {
	options *Options
	s3cli   *s3.Client
}

var _ Interface = &S3Client{}

func NewS3Client(ctx context.Context, opts *Options) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.StaticCredentialsProvider{Value: aws.Credentials{
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
			}},
		),
		config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: opts.URL}, nil
				},
			),
		),
	)
	if err != nil {
		return nil, err
	}
	s3cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Region = opts.Region
		o.UsePathStyle = true
	})
	return &S3Client{s3cli: s3cli, options: opts}, nil
}

func (c *S3Client) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := c.s3cli.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.options.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: size,
	})
	return pkgerrors.Wrapf(err, "put object %s", key)
}

func (c *S3Client) Stream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.s3cli.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.options.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, convertError(err, key)
	}
	return out.Body, nil
}

func (c *S3Client) Info(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.s3cli.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.options.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, convertError(err, key)
	}
	info := &ObjectInfo{Key: key, Size: out.ContentLength}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

func (c *S3Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(c.s3cli, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.options.Bucket),
		Prefix: aws.String(prefix),
	})
	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "list objects %s", prefix)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: obj.Size}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (c *S3Client) DeleteFolder(ctx context.Context, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(objects); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(obj.Key)})
		}
		if _, err := c.s3cli.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.options.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: true},
		}); err != nil {
			return pkgerrors.Wrapf(err, "delete folder %s", prefix)
		}
	}
	return nil
}

func (c *S3Client) StoreFolder(ctx context.Context, dir string, prefix string) error {
	return storeFolder(ctx, c, dir, prefix)
}

func convertError(err error, key string) error {
	var notfound *types.NotFound
	var nosuchkey *types.NoSuchKey
	if errors.As(err, &notfound) || errors.As(err, &nosuchkey) {
		return pkgerrors.Wrap(ErrNotFound, key)
	}
	return pkgerrors.Wrap(err, key)
}
