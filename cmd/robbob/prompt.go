package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/robbob/launcher/internal/domain"
	"github.com/robbob/launcher/internal/launcher"
)

// promptingUpdater asks whether to retry a failed mandatory update. The
// launcher does not continue on an old version, so declining ends the run.
type promptingUpdater struct {
	updater launcher.Updater
	in      io.Reader
	out     io.Writer
}

func (p *promptingUpdater) Run(ctx context.Context, onProgress domain.ProgressFunc) (bool, error) {
	reader := bufio.NewReader(p.in)
	for {
		handedOff, err := p.updater.Run(ctx, onProgress)
		if err == nil || ctx.Err() != nil {
			return handedOff, err
		}

		fmt.Fprintf(p.out, "\n%s\nRetry? [Y/n] ", domain.UserMessage(err))
		if !confirm(reader) {
			return false, err
		}
	}
}

// confirm reads one answer. A blank line means yes, EOF means no.
func confirm(r *bufio.Reader) bool {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}

// progressPrinter renders download progress on a single line.
func progressPrinter(out io.Writer, label string) domain.ProgressFunc {
	last := -1
	return func(p domain.Progress) {
		if !p.Known {
			fmt.Fprintf(out, "\r%s: %.1f MB", label, float64(p.Downloaded)/(1<<20))
			return
		}
		pct := int(p.Percent)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(out, "\r%s: %3d%%", label, pct)
		if pct >= 100 {
			fmt.Fprintln(out)
		}
	}
}
