/*
Copyright © 2018 the uwnet authors.
This file is part of uwnet.

uwnet is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

uwnet is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with uwnet.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cloud opens blob storage buckets on the local filesystem,
// Google Cloud Storage, and AWS S3.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// ErrInvalidProvider is returned for URLs whose storage provider is not
// supported.
var ErrInvalidProvider = errors.New("cloud: invalid storage provider")

// CheckPath returns an error if path is a URL ('provider://...') with a
// provider other than those accepted by OpenBucket.
func CheckPath(path string) error {
	if !IsBlob(path) && strings.Contains(path, "://") {
		return fmt.Errorf("%w: %s", ErrInvalidProvider, path)
	}
	return nil
}

// IsBlob returns whether the given path represents a blob
// (i.e., if it starts with `gs://`, 's3://', or 'file://').
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name' where provider
// is the name of the storage provider and name is the name of the bucket.
// Even if name contains subdirectories, only the base directory name will be
// used when opening the bucket.
// The currently accepted storage providers are "file" for the local filesystem
// (e.g., for testing), "gs" for Google Cloud Storage, and "s3" for AWS S3.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	url, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("cloud.OpenBucket: %v", err)
	}
	switch url.Scheme {
	case "file":
		return fileblob.OpenBucket(url.Hostname(), nil)
	case "gs":
		return gsBucket(ctx, url.Hostname())
	case "s3":
		return s3Bucket(ctx, url.Hostname())
	default:
		return nil, fmt.Errorf("cloud.OpenBucket: %w: %s", ErrInvalidProvider, url.Scheme)
	}
}

// OpenDir returns a bucket and key prefix for dir, which is either a
// blob URL of the form 'provider://name/path' or a local directory.
// A local directory is created if it does not already exist.
func OpenDir(ctx context.Context, dir string) (*blob.Bucket, string, error) {
	if IsBlob(dir) {
		bucketName, prefix, err := SplitURL(dir)
		if err != nil {
			return nil, "", err
		}
		b, err := OpenBucket(ctx, bucketName)
		if err != nil {
			return nil, "", err
		}
		if prefix != "" {
			prefix += "/"
		}
		return b, prefix, nil
	}
	if err := CheckPath(dir); err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, "", fmt.Errorf("cloud: creating directory %s: %v", dir, err)
	}
	b, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, "", fmt.Errorf("cloud: opening directory %s: %v", dir, err)
	}
	return b, "", nil
}

// SplitURL splits a blob URL into the bucket name ('provider://name')
// and the key within the bucket, without leading or trailing slashes.
func SplitURL(path string) (bucketName, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("cloud: parsing blob URL: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("cloud: invalid blob URL %s", path)
	}
	return u.Scheme + "://" + u.Host, strings.Trim(u.Path, "/"), nil
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket. It assumes the following
// environment variables are set: AWS_REGION, AWS_ACCESS_KEY_ID, and
// AWS_SECRET_ACCESS_KEY.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s := session.Must(session.NewSession(c))
	return s3blob.OpenBucket(ctx, s, name, nil)
}
