//go:build cgo

package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seer/internal/logging"
)

type tarEntry struct {
	name, body, link string
}

func tarball(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(e.body))}
		if e.link != "" {
			hdr = &tar.Header{Name: e.name, Typeflag: tar.TypeSymlink, Linkname: e.link}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func testInstaller(t *testing.T, baseURL string) *runtimeInstaller {
	t.Helper()
	platform, err := lookupPlatform("linux", "amd64")
	require.NoError(t, err)
	return &runtimeInstaller{
		dir:      t.TempDir(),
		version:  onnxRuntimeVersion,
		platform: platform,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logging.NewNop(),
		backoff:  time.Millisecond,
	}
}

func releaseArchive(t *testing.T) []byte {
	return tarball(t,
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/include/onnxruntime_c_api.h", body: "header"},
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so.1.23.0", body: "elf"},
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", link: "libonnxruntime.so.1.23.0"},
		tarEntry{name: "onnxruntime-linux-x64-1.23.0/lib/pkgconfig/libonnxruntime.pc", body: "pc"},
	)
}

func TestLookupPlatform(t *testing.T) {
	tests := []struct {
		goos, goarch     string
		archive, library string
	}{
		{"linux", "amd64", "linux-x64", "libonnxruntime.so"},
		{"linux", "arm64", "linux-aarch64", "libonnxruntime.so"},
		{"darwin", "amd64", "osx-x86_64", "libonnxruntime.dylib"},
		{"darwin", "arm64", "osx-arm64", "libonnxruntime.dylib"},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			p, err := lookupPlatform(tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.archive, p.archive)
			assert.Equal(t, tt.library, p.library)
		})
	}

	_, err := lookupPlatform("windows", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestRuntimeInstaller_ReleaseURL(t *testing.T) {
	i := testInstaller(t, onnxReleaseBase+"/")
	assert.Equal(t,
		"https://github.com/microsoft/onnxruntime/releases/download/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz",
		i.releaseURL())
}

func TestRuntimeInstaller_Locate(t *testing.T) {
	i := testInstaller(t, "")

	t.Setenv(runtimeEnv, "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", i.locate())

	t.Setenv(runtimeEnv, "")
	assert.Empty(t, i.locate())

	require.NoError(t, os.WriteFile(i.libraryPath(), []byte("elf"), 0o644))
	assert.Equal(t, i.libraryPath(), i.locate())
}

func TestRuntimeInstaller_EnsureDownloads(t *testing.T) {
	archive := releaseArchive(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz", r.URL.Path)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	t.Setenv(runtimeEnv, "")
	i := testInstaller(t, srv.URL)

	lib, err := i.ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, i.libraryPath(), lib)
	assert.Equal(t, lib, os.Getenv(runtimeEnv))
	assert.Equal(t, int32(2), hits.Load(), "503 is retried")

	target, err := os.Readlink(lib)
	require.NoError(t, err)
	assert.Equal(t, "libonnxruntime.so.1.23.0", target)
	assert.FileExists(t, filepath.Join(i.dir, "libonnxruntime.so.1.23.0"))
	assert.NoFileExists(t, filepath.Join(i.dir, "onnxruntime_c_api.h"))
	assert.NoFileExists(t, filepath.Join(i.dir, "libonnxruntime.pc"))

	// Installed now, so a second call does not hit the server.
	t.Setenv(runtimeEnv, "")
	_, err = i.ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRuntimeInstaller_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	t.Setenv(runtimeEnv, "")
	_, err := testInstaller(t, srv.URL).ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), runtimeEnv)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRuntimeInstaller_Extract(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
		wantErr string
	}{
		{
			name: "link escapes lib",
			entries: []tarEntry{
				{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", link: "../../../etc/passwd"},
			},
			wantErr: "links outside lib",
		},
		{
			name: "absolute link",
			entries: []tarEntry{
				{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", link: "/usr/lib/libc.so"},
			},
			wantErr: "links outside lib",
		},
		{
			name: "library missing",
			entries: []tarEntry{
				{name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime_providers_shared.so", body: "elf"},
			},
			wantErr: "libonnxruntime.so not found",
		},
		{
			name: "other version ignored",
			entries: []tarEntry{
				{name: "onnxruntime-linux-x64-1.22.0/lib/libonnxruntime.so", body: "elf"},
			},
			wantErr: "not found",
		},
		{
			name: "dot slash prefix",
			entries: []tarEntry{
				{name: "./onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", body: "elf"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := testInstaller(t, "")
			err := i.extract(bytes.NewReader(tarball(t, tt.entries...)))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.FileExists(t, i.libraryPath())
		})
	}
}

func TestRuntimeInstaller_ExtractNotGzip(t *testing.T) {
	err := testInstaller(t, "").extract(bytes.NewReader([]byte("<html>rate limited</html>")))
	assert.ErrorContains(t, err, "open archive")
}
