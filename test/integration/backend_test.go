//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
)

// backend fakes every service the launcher talks to: the launcher and
// helper manifests, the helper package, the subscription API and ipinfo.
type backend struct {
	*httptest.Server

	launcherVersion string
	helperVersion   string
	pkg             []byte
	subscribed      atomic.Bool
	org             string

	mu     sync.Mutex
	checks int
}

func newBackend(helperName string) (*backend, error) {
	pkg, err := buildPackage(helperName)
	if err != nil {
		return nil, err
	}
	b := &backend{
		launcherVersion: "1.0.0",
		helperVersion:   "1.0.0",
		pkg:             pkg,
		org:             "AS25513 PJSC Moscow city telephone network",
	}
	b.subscribed.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/launcher/version.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": b.launcherVersion})
	})
	mux.HandleFunc("/bypass/version.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":     b.helperVersion,
			"downloadUrl": b.URL + "/files/bypass.zip",
		})
	})
	mux.HandleFunc("/files/bypass.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(b.pkg)
	})
	mux.HandleFunc("/api/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Code != "GOOD-CODE" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"subscribed": b.subscribed.Load(),
			"userId":     42,
		})
	})
	mux.HandleFunc("/api/check-subscription", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.checks++
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"subscribed": b.subscribed.Load()})
	})
	mux.HandleFunc("/ipinfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"ip": "192.0.2.1", "org": b.org, "country": "RU"})
	})

	b.Server = httptest.NewServer(mux)
	return b, nil
}

func (b *backend) checkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checks
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// buildPackage zips a helper package whose executable is this test binary.
func buildPackage(helperName string) ([]byte, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	exe, err := os.Open(self)
	if err != nil {
		return nil, err
	}
	defer exe.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	hdr := &zip.FileHeader{Name: "bin/" + helperName, Method: zip.Deflate}
	hdr.SetMode(0755)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, exe); err != nil {
		return nil, err
	}

	for name, body := range map[string]string{
		"bin/WinDivert.dll":      "driver",
		"bin/WinDivert64.sys":    "driver",
		"lists/list-general.txt": "example.com\n",
	} {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
