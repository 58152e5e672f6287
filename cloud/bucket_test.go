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

package cloud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitURL(t *testing.T) {
	for _, test := range []struct {
		path, bucket, key string
		err               bool
	}{
		{path: "gs://bucket/a/b/", bucket: "gs://bucket", key: "a/b"},
		{path: "s3://bucket", bucket: "s3://bucket", key: ""},
		{path: "file://dir/run1/0.pkl", bucket: "file://dir", key: "run1/0.pkl"},
		{path: "local/dir", err: true},
	} {
		bucket, key, err := SplitURL(test.path)
		if (err != nil) != test.err {
			t.Errorf("%s: error %v", test.path, err)
			continue
		}
		if bucket != test.bucket || key != test.key {
			t.Errorf("%s: have (%s, %s), want (%s, %s)", test.path, bucket, key, test.bucket, test.key)
		}
	}
	if !IsBlob("s3://x") || IsBlob("/tmp/x") {
		t.Error("IsBlob")
	}
}

func TestOpenDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "run")
	b, prefix, err := OpenDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if prefix != "" {
		t.Errorf("local prefix %q", prefix)
	}
	for _, k := range []string{"1.pkl", "0.pkl"} {
		if err := WriteBlob(ctx, b, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "0.pkl")); err != nil {
		t.Error(err)
	}
	keys, err := ListKeys(ctx, b, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"0.pkl", "1.pkl"}) {
		t.Errorf("keys %v", keys)
	}
	data, err := ReadBlob(ctx, b, "1.pkl")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1.pkl" {
		t.Errorf("read %q", data)
	}
	if _, err := ReadBlob(ctx, b, "2.pkl"); err == nil {
		t.Error("expected an error for a missing blob")
	}
}

func TestOpenDirBlob(t *testing.T) {
	const bucket = "uwnet_cloud_test_bucket"
	if err := os.MkdirAll(bucket, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(bucket)
	ctx := context.Background()
	b, prefix, err := OpenDir(ctx, "file://"+bucket+"/runs/a")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if prefix != "runs/a/" {
		t.Errorf("prefix %q", prefix)
	}
	if err := WriteBlob(ctx, b, prefix+"0.pkl", []byte("x")); err != nil {
		t.Fatal(err)
	}
	keys, err := ListKeys(ctx, b, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"runs/a/0.pkl"}) {
		t.Errorf("keys %v", keys)
	}
	if _, _, err := OpenDir(ctx, "ftp://x/y"); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("error = %v, want ErrInvalidProvider", err)
	}
	if _, err := os.Stat("ftp:"); !os.IsNotExist(err) {
		t.Errorf("a local directory was created for an unknown provider: %v", err)
	}
}
