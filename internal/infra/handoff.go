package infra

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

const (
	batchScriptName = "update.bat"
	shellScriptName = "update.sh"
)

// The batch script waits for the launcher to exit, unpacks the package
// over the install dir, relaunches and deletes itself. A failed unpack
// still relaunches the previous launcher.
var batchTemplate = template.Must(template.New("bat").Funcs(scriptFuncs).Parse(`@echo off
timeout /t {{.DelaySeconds}} /nobreak > nul
powershell -NoProfile -ExecutionPolicy Bypass -Command "Expand-Archive -Path {{ps .PackagePath}} -DestinationPath {{ps .InstallDir}} -Force"
if errorlevel 1 goto relaunch
del "{{.PackagePath}}"
:relaunch
start "" "{{.Executable}}"{{range .Args}} "{{.}}"{{end}}
del "%~f0"
`))

var shellTemplate = template.Must(template.New("sh").Funcs(scriptFuncs).Parse(`#!/bin/sh
sleep {{.DelaySeconds}}
case {{sh .PackagePath}} in
  *.zip) unzip -o -q {{sh .PackagePath}} -d {{sh .InstallDir}} ;;
  *) tar -xzf {{sh .PackagePath}} -C {{sh .InstallDir}} ;;
esac && rm -f {{sh .PackagePath}}
chmod +x {{sh .Executable}} 2>/dev/null
nohup {{sh .Executable}}{{range .Args}} {{sh .}}{{end}} >/dev/null 2>&1 &
rm -f "$0"
`))

var scriptFuncs = template.FuncMap{
	"ps": psQuote,
	"sh": shQuote,
}

// psQuote quotes s as a PowerShell single-quoted literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// shQuote quotes s as a POSIX shell single-quoted word.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type scriptData struct {
	domain.HandoffScript
	DelaySeconds int
}

// ScriptHandoff implements domain.HandoffLauncher with a batch file on
// Windows and a shell script elsewhere.
type ScriptHandoff struct {
	goos   string
	logger *zap.Logger
}

// NewScriptHandoff creates a handoff launcher for the running OS.
func NewScriptHandoff(logger *zap.Logger) *ScriptHandoff {
	return &ScriptHandoff{goos: runtime.GOOS, logger: logger}
}

// Stage renders the install script into dir.
func (h *ScriptHandoff) Stage(dir string, script domain.HandoffScript) (string, error) {
	content, name, err := renderHandoff(h.goos, script)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0700); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if h.logger != nil {
		h.logger.Info("staged update script", zap.String("path", path))
	}
	return path, nil
}

// Launch starts the script detached from the launcher.
func (h *ScriptHandoff) Launch(scriptPath string) error {
	pid, err := startDetached(scriptPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSpawn, err)
	}
	if h.logger != nil {
		h.logger.Info("update script launched", zap.String("path", scriptPath), zap.Int("pid", pid))
	}
	return nil
}

func renderHandoff(goos string, script domain.HandoffScript) ([]byte, string, error) {
	data := scriptData{
		HandoffScript: script,
		DelaySeconds:  int(math.Ceil(script.Delay.Seconds())),
	}
	if data.DelaySeconds < 1 {
		data.DelaySeconds = 1
	}

	tmpl, name := shellTemplate, shellScriptName
	if goos == "windows" {
		if err := validateBatchArgs(script); err != nil {
			return nil, "", err
		}
		tmpl, name = batchTemplate, batchScriptName
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, "", fmt.Errorf("%w: render update script: %v", domain.ErrUpdateFailed, err)
	}
	out := buf.Bytes()
	if goos == "windows" {
		out = bytes.ReplaceAll(out, []byte("\n"), []byte("\r\n"))
	}
	return out, name, nil
}

// validateBatchArgs rejects values cmd.exe cannot carry inside double quotes.
func validateBatchArgs(script domain.HandoffScript) error {
	values := append([]string{script.PackagePath, script.InstallDir, script.Executable}, script.Args...)
	for _, v := range values {
		if strings.ContainsAny(v, "\"%\r\n") {
			return fmt.Errorf("%w: unsupported character in path %q", domain.ErrUpdateFailed, v)
		}
	}
	return nil
}

// Ensure ScriptHandoff implements domain.HandoffLauncher.
var _ domain.HandoffLauncher = (*ScriptHandoff)(nil)
