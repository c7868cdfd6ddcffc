package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/MrWong99/chunkscribe/internal/resilience"
)

// BreakerCheck fails while cb is open, i.e. while requests to the guarded
// engine are being rejected without being sent.
func BreakerCheck(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error {
		if s := cb.State(); s == resilience.StateOpen {
			return fmt.Errorf("circuit %s is %s", cb.Name(), s)
		}
		return nil
	}}
}

// BinaryCheck fails when the executable at path (or looked up in PATH) is
// missing.
func BinaryCheck(name, path string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error {
		_, err := exec.LookPath(path)
		return err
	}}
}

// WritableDirCheck fails when no file can be created in dir. An empty dir
// means the system temp directory.
func WritableDirCheck(name, dir string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error {
		f, err := os.CreateTemp(dir, ".chunkscribe-probe-*")
		if err != nil {
			return err
		}
		path := f.Name()
		f.Close()
		return os.Remove(path)
	}}
}

// HTTPCheck fails when a GET to url errors or answers with a 5xx status.
// Any other status counts as reachable: engine servers rarely expose a
// dedicated health route and often answer 404 or 405 on their root.
func HTTPCheck(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{Name: name, Check: func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s answered %d", url, resp.StatusCode)
		}
		return nil
	}}
}
