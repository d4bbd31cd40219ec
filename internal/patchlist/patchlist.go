// Package patchlist fetches and parses the server's ordered list of patch
// packages.
//
// The list is plain text with one patch per line, either "<index> <name>" or
// a bare "<name>". Blank lines and lines starting with "#" or "//" are
// ignored. A missing list (HTTP 404) means there is nothing to apply.
package patchlist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

const (
	stageName      = "check"
	defaultTimeout = 30 * time.Second
	maxListBytes   = 4 << 20
)

// Patch is one entry of the patch list.
type Patch struct {
	Index    int
	Filename string
}

// Fetcher retrieves patch lists.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher constructs a fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "patchlist"),
	}
}

// NewFetcherWithClient constructs a fetcher around an existing HTTP client.
func NewFetcherWithClient(client *http.Client, logger *slog.Logger) *Fetcher {
	f := NewFetcher(0, logger)
	if client != nil {
		f.client = client
	}
	return f
}

// Fetch downloads and parses the list at url. A 404 yields an empty list.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Patch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "build request", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, stageName, "fetch patch list", url, ctx.Err())
		}
		return nil, services.Wrap(services.ErrNetwork, stageName, "fetch patch list", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		f.logger.Info("patch list not found, nothing to apply", logging.String("url", url))
		return []Patch{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, services.Wrap(services.ErrNetwork, stageName, "fetch patch list", fmt.Sprintf("%s: status %s", url, resp.Status), nil)
	}

	patches, err := Parse(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, stageName, "read patch list", url, err)
	}
	f.logger.Debug("patch list fetched", logging.String("url", url), logging.Int("patches", len(patches)))
	return patches, nil
}

// Parse reads a patch list. Lines whose index is not a non-negative integer
// are dropped. Bare names take the position among accepted entries as their
// index. The result is sorted by index; entries with equal indices keep their
// list order.
func Parse(r io.Reader) ([]Patch, error) {
	patches := make([]Patch, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 1:
			patches = append(patches, Patch{Index: len(patches), Filename: fields[0]})
		default:
			index, err := strconv.Atoi(fields[0])
			if err != nil || index < 0 {
				continue
			}
			patches = append(patches, Patch{Index: index, Filename: fields[1]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(patches, func(i, j int) bool {
		return patches[i].Index < patches[j].Index
	})
	return patches, nil
}

// Unapplied returns the patches whose index is not in applied, preserving
// order.
func Unapplied(all []Patch, applied map[int]struct{}) []Patch {
	out := make([]Patch, 0, len(all))
	for _, p := range all {
		if _, done := applied[p.Index]; done {
			continue
		}
		out = append(out, p)
	}
	return out
}
