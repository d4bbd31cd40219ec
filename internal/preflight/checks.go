package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"grfpatch/internal/config"
	"grfpatch/internal/grf"
	"grfpatch/internal/logging"
	"grfpatch/internal/patchlist"
)

const serverTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := checkAccess(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckArchive verifies that the target archive, when present, has a valid
// header. A missing archive passes; the detail says what patching will do.
func CheckArchive(name, path string, createArchive bool) Result {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
		}
		if createArchive {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (missing, created on first patch)", path)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (missing, archive files written to disk)", path)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}

	header, err := grf.NewReader(path, logging.NewNop()).ReadHeader()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%s (%s entries, %s)", path,
			humanize.Comma(int64(header.RealFileCount())), humanize.IBytes(uint64(info.Size()))),
	}
}

// CheckPatchServer verifies that the server's patch list is reachable and
// parses. A 404 list passes since it only means nothing is published yet.
func CheckPatchServer(ctx context.Context, server config.PatchServer) Result {
	name := "Patch server"
	if server.Name != "" {
		name = fmt.Sprintf("Patch server (%s)", server.Name)
	}

	checkCtx, cancel := context.WithTimeout(ctx, serverTimeout)
	defer cancel()

	client := &http.Client{Timeout: serverTimeout}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, server.PlistURL, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("list check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		patches, err := patchlist.Parse(resp.Body)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("list unreadable (%v)", err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Reachable (%d patches listed)", len(patches))}
	case http.StatusNotFound:
		return Result{Name: name, Passed: true, Detail: "Reachable (no patch list published)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("list check failed (%d)", resp.StatusCode)}
	}
}

func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "list check timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "list check timed out (server unreachable)"
	}
	return fmt.Sprintf("list check failed (%v)", err)
}
