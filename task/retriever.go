// task/retriever.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/tellusgl/tellus/log"
)

// ErrNotFound reports that the server definitively does not have the
// requested resource, as opposed to a transient failure worth retrying.
var ErrNotFound = errors.New("resource not found")

// Retriever fetches tile payloads over HTTP. Servers commonly wrap a single
// data file in a zip archive; Get transparently unwraps that.
type Retriever struct {
	client *http.Client
	lg     *log.Logger
}

func NewRetriever(timeout time.Duration, lg *log.Logger) *Retriever {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Retriever{
		client: &http.Client{Timeout: timeout},
		lg:     lg,
	}
}

// Get fetches url and returns the payload bytes. A 404 response returns
// ErrNotFound; other non-2xx statuses and transport failures are returned
// as ordinary errors. Zip-wrapped payloads are unwrapped to their first
// entry.
func (r *Retriever) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	r.lg.Debugf("retrieving %s", url)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %s", url, resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	if unwrapped, err := unwrapZip(payload); err == nil {
		return unwrapped, nil
	}
	return payload, nil
}

// unwrapZip returns the contents of the first entry of a zip archive, or an
// error if the payload isn't one.
func unwrapZip(payload []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, errors.New("empty zip archive")
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
