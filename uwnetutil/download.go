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

package uwnetutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet/cloud"
)

// maybeDownload checks if the input is an existing local file.
// If not, and it is an http(s) or blob storage URL, it downloads the
// file to a temporary directory and returns the path to the downloaded
// file. Other paths are returned unchanged.
func maybeDownload(ctx context.Context, p string, log logrus.FieldLogger) (string, error) {
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		return p, nil
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return downloadHTTP(ctx, p, log)
	}
	if cloud.IsBlob(p) {
		return downloadBlob(ctx, p, log)
	}
	return p, nil
}

// downloadHTTP downloads a file from the specified URL and returns
// the path to the downloaded file.
func downloadHTTP(ctx context.Context, url string, log logrus.FieldLogger) (string, error) {
	log.Infof("Downloading %s", url)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("uwnet: downloading %s: %v", url, err)
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("uwnet: downloading %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("uwnet: downloading %s: %s", url, resp.Status)
	}
	return saveTemp(path.Base(req.URL.Path), resp.Body)
}

// downloadBlob downloads the specified file from blob storage.
func downloadBlob(ctx context.Context, p string, log logrus.FieldLogger) (string, error) {
	log.Infof("Downloading %s", p)
	bucketName, key, err := cloud.SplitURL(p)
	if err != nil {
		return "", err
	}
	bucket, err := cloud.OpenBucket(ctx, bucketName)
	if err != nil {
		return "", err
	}
	defer bucket.Close()
	b, err := cloud.ReadBlob(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return saveTemp(path.Base(key), bytes.NewReader(b))
}

// saveTemp writes r to a file called name in a new temporary directory.
func saveTemp(name string, r io.Reader) (string, error) {
	dir, err := ioutil.TempDir("", "uwnet")
	if err != nil {
		return "", fmt.Errorf("uwnet: creating temporary download directory: %v", err)
	}
	f := filepath.Join(dir, name)
	w, err := os.Create(f)
	if err != nil {
		return "", fmt.Errorf("uwnet: creating file for download: %v", err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("uwnet: saving download: %v", err)
	}
	return f, w.Close()
}
