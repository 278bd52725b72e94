package infra

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// HTTPFetcher implements domain.ArtifactFetcher.
// Downloads are fail-fast: a failed transfer leaves no file behind and is not resumed.
type HTTPFetcher struct {
	client          *http.Client
	userAgent       string
	downloadTimeout time.Duration
	logger          *zap.Logger
}

// NewFetcher creates a fetcher. downloadTimeout bounds a whole transfer.
func NewFetcher(opts HTTPOptions, downloadTimeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	opts = opts.withDefaults()
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}
	return &HTTPFetcher{
		client:          newHTTPClient(opts.MaxRedirects),
		userAgent:       opts.UserAgent,
		downloadTimeout: downloadTimeout,
		logger:          logger,
	}
}

// Download streams url into destPath, creating parent directories.
// onProgress may be nil.
func (f *HTTPFetcher) Download(ctx context.Context, url, destPath string, onProgress domain.ProgressFunc) error {
	ctx, cancel := context.WithTimeout(ctx, f.downloadTimeout)
	defer cancel()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrFilesystem, dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download returned status %d", domain.ErrNetwork, resp.StatusCode)
	}

	// Temp file in the same directory for atomic rename
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".part-*")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	pw := &progressWriter{total: resp.ContentLength, onProgress: onProgress}
	pw.report()
	if _, err := io.Copy(io.MultiWriter(&fileWriter{f: tmp}, pw), resp.Body); err != nil {
		var werr *writeError
		if errors.As(err, &werr) {
			return fmt.Errorf("%w: %v", domain.ErrFilesystem, werr.err)
		}
		return classifyTransportError(err)
	}
	if resp.ContentLength > 0 && pw.written != resp.ContentLength {
		return fmt.Errorf("%w: short body: got %d of %d bytes", domain.ErrNetwork, pw.written, resp.ContentLength)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	success = true

	if f.logger != nil {
		f.logger.Info("download complete",
			zap.String("url", resp.Request.URL.Redacted()),
			zap.String("path", destPath),
			zap.Int64("bytes", pw.written))
	}
	return nil
}

// Extract unpacks a .zip, .tar.gz or .tgz archive into destDir and deletes
// the archive whether or not extraction succeeded.
func (f *HTTPFetcher) Extract(archivePath, destDir string) (err error) {
	defer func() {
		if rmErr := os.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) && f.logger != nil {
			f.logger.Warn("failed to remove archive", zap.String("path", archivePath), zap.Error(rmErr))
		}
	}()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrExtraction, destDir, err)
	}

	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(archivePath, destDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = extractTarGz(archivePath, destDir)
	default:
		err = fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	return nil
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, zf := range r.File {
		target, err := safeJoin(destDir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, zf.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		default:
			// links and devices are not part of helper packages
		}
	}
}

// safeJoin resolves name under root and rejects entries escaping it.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// progressWriter counts bytes and reports progress, at most once per percent.
type progressWriter struct {
	written     int64
	total       int64
	lastPercent float64
	onProgress  domain.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.report()
	return len(b), nil
}

func (p *progressWriter) report() {
	if p.onProgress == nil {
		return
	}
	if p.total <= 0 {
		p.onProgress(domain.Progress{Downloaded: p.written, Total: -1, Percent: -1})
		return
	}
	percent := float64(p.written) * 100 / float64(p.total)
	if p.written > 0 && percent-p.lastPercent < 1 && p.written != p.total {
		return
	}
	p.lastPercent = percent
	p.onProgress(domain.Progress{Downloaded: p.written, Total: p.total, Percent: percent, Known: true})
}

// fileWriter tags destination write failures so they are not mistaken for
// transport errors.
type fileWriter struct{ f *os.File }

func (w *fileWriter) Write(b []byte) (int, error) {
	n, err := w.f.Write(b)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

// Ensure HTTPFetcher implements domain.ArtifactFetcher.
var _ domain.ArtifactFetcher = (*HTTPFetcher)(nil)
