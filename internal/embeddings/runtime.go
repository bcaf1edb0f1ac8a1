//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
)

// onnxRuntimeVersion is the release fastembed-go is built against.
const onnxRuntimeVersion = "1.23.0"

const (
	onnxReleaseBase    = "https://github.com/microsoft/onnxruntime/releases/download"
	defaultRuntimeDir  = "~/.config/seer/lib"
	runtimeEnv         = "ONNX_PATH"
	runtimeDownloadTTL = 5 * time.Minute
	maxRuntimeRetries  = 3
)

// ErrUnsupportedPlatform means no ONNX runtime release exists for this OS/arch.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

type onnxPlatform struct {
	goos, goarch string
	archive      string
	library      string
}

var onnxPlatforms = []onnxPlatform{
	{"linux", "amd64", "linux-x64", "libonnxruntime.so"},
	{"linux", "arm64", "linux-aarch64", "libonnxruntime.so"},
	{"darwin", "amd64", "osx-x86_64", "libonnxruntime.dylib"},
	{"darwin", "arm64", "osx-arm64", "libonnxruntime.dylib"},
}

func lookupPlatform(goos, goarch string) (onnxPlatform, error) {
	for _, p := range onnxPlatforms {
		if p.goos == goos && p.goarch == goarch {
			return p, nil
		}
	}
	return onnxPlatform{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

// runtimeInstaller finds or fetches the ONNX shared library.
type runtimeInstaller struct {
	dir      string
	version  string
	platform onnxPlatform
	baseURL  string
	client   *http.Client
	logger   *logging.Logger
	backoff  time.Duration
}

func newRuntimeInstaller(dir string, logger *logging.Logger) (*runtimeInstaller, error) {
	platform, err := lookupPlatform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = defaultRuntimeDir
	}
	if dir, err = config.ExpandHome(dir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &runtimeInstaller{
		dir:      dir,
		version:  onnxRuntimeVersion,
		platform: platform,
		baseURL:  onnxReleaseBase,
		client:   &http.Client{Timeout: runtimeDownloadTTL},
		logger:   logger,
		backoff:  time.Second,
	}, nil
}

func (i *runtimeInstaller) libraryPath() string {
	return filepath.Join(i.dir, i.platform.library)
}

// archiveRoot is the top-level directory inside the release tarball.
func (i *runtimeInstaller) archiveRoot() string {
	return fmt.Sprintf("onnxruntime-%s-%s", i.platform.archive, i.version)
}

func (i *runtimeInstaller) releaseURL() string {
	return fmt.Sprintf("%s/v%s/%s.tgz", strings.TrimSuffix(i.baseURL, "/"), i.version, i.archiveRoot())
}

// locate returns ONNX_PATH or the installed library, or "" when neither exists.
func (i *runtimeInstaller) locate() string {
	if p := os.Getenv(runtimeEnv); p != "" {
		return p
	}
	if _, err := os.Stat(i.libraryPath()); err == nil {
		return i.libraryPath()
	}
	return ""
}

// ensure returns the library path, downloading the release when needed,
// and exports it through ONNX_PATH for fastembed-go.
func (i *runtimeInstaller) ensure(ctx context.Context) (string, error) {
	lib := i.locate()
	if lib == "" {
		i.logger.Info(ctx, "onnx runtime missing, downloading",
			zap.String("version", i.version),
			zap.String("platform", i.platform.goos+"/"+i.platform.goarch),
			zap.String("dir", i.dir))
		if err := i.download(ctx); err != nil {
			return "", fmt.Errorf("download onnx runtime (set %s to use an existing install): %w", runtimeEnv, err)
		}
		lib = i.locate()
		if lib == "" {
			return "", fmt.Errorf("onnx runtime installed but %s is missing", i.libraryPath())
		}
		i.logger.Info(ctx, "onnx runtime installed", zap.String("path", lib))
	}
	if err := os.Setenv(runtimeEnv, lib); err != nil {
		return "", fmt.Errorf("set %s: %w", runtimeEnv, err)
	}
	return lib, nil
}

func (i *runtimeInstaller) download(ctx context.Context) error {
	if err := os.MkdirAll(i.dir, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	url := i.releaseURL()

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := i.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d", url, resp.StatusCode))
		}
		if err := i.extract(resp.Body); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.backoff
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(attempt,
		backoff.WithContext(backoff.WithMaxRetries(b, maxRuntimeRetries), ctx),
		func(err error, wait time.Duration) {
			i.logger.Warn(ctx, "onnx runtime download failed, retrying", zap.Error(err), zap.Duration("wait", wait))
		})
}

// extract copies the lib/ entries of the release tarball flat into dir.
// Files are written under a temporary name and renamed once complete.
// Symlinks must point at a sibling file.
func (i *runtimeInstaller) extract(r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	prefix := i.archiveRoot() + "/lib/"
	found := false
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		base := path.Base(name)
		if base == "." || base == ".." || strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			continue
		}
		dest := filepath.Join(i.dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if hdr.Linkname != path.Base(hdr.Linkname) || hdr.Linkname == "." || hdr.Linkname == ".." {
				return fmt.Errorf("archive entry %s links outside lib: %s", name, hdr.Linkname)
			}
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return fmt.Errorf("link %s: %w", base, err)
			}
		case tar.TypeReg:
			if err := writeAtomic(dest, tr); err != nil {
				return err
			}
		default:
			continue
		}
		if base == i.platform.library || strings.HasPrefix(base, i.platform.library+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%s not found in archive", i.platform.library)
	}
	return nil
}

func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".onnx-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
