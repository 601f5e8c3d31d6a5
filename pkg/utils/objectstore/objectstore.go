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
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"cutout.io/cutout/pkg/utils"
	"github.com/spf13/pflag"
)

var ErrNotFound = errors.New("object not found")

const (
	ProviderS3     = "s3"
	ProviderMemory = "memory"
)

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type Interface interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Stream(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Info(ctx context.Context, key string) (*ObjectInfo, error)
	DeleteFolder(ctx context.Context, prefix string) error
	StoreFolder(ctx context.Context, dir string, prefix string) error
}

type Options struct {
	Provider  string `json:"provider" description:"object store provider, s3 or memory" validate:"oneof=s3 memory"`
	URL       string `json:"url" description:"s3 endpoint url"`
	Bucket    string `json:"bucket" description:"bucket job files are stored in"`
	Region    string `json:"region" description:"region of the bucket"`
	AccessKey string `json:"accessKey" description:"s3 access key"`
	SecretKey string `json:"secretKey" description:"s3 secret key"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Provider: ProviderS3,
		URL:      "http://cutout-minio:9000",
		Bucket:   "cutout",
		Region:   "us-east-1",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Provider, utils.JoinFlagName(prefix, "provider"), o.Provider, "object store provider, s3 or memory")
	fs.StringVar(&o.URL, utils.JoinFlagName(prefix, "url"), o.URL, "s3 endpoint url")
	fs.StringVar(&o.Bucket, utils.JoinFlagName(prefix, "bucket"), o.Bucket, "bucket job files are stored in")
	fs.StringVar(&o.Region, utils.JoinFlagName(prefix, "region"), o.Region, "region of the bucket")
	fs.StringVar(&o.AccessKey, utils.JoinFlagName(prefix, "access-key"), o.AccessKey, "s3 access key")
	fs.StringVar(&o.SecretKey, utils.JoinFlagName(prefix, "secret-key"), o.SecretKey, "s3 secret key")
}

func New(ctx context.Context, options *Options) (Interface, error) {
	switch options.Provider {
	case ProviderMemory:
		return NewMemoryStore(), nil
	case ProviderS3, "":
		return NewS3Client(ctx, options)
	default:
		return nil, fmt.Errorf("unsupported object store provider %q", options.Provider)
	}
}

// storeFolder puts every regular file under dir at prefix/<relative path>.
func storeFolder(ctx context.Context, store Interface, dir, prefix string) error {
	return filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		return store.Put(ctx, path.Join(prefix, filepath.ToSlash(rel)), f, fi.Size())
	})
}
