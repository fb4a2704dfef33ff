package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// progressReporter shows render progress as percentages.
type progressReporter interface {
	Update(percent int)
	Finish()
}

// newProgressReporter draws a bar on terminals and logs otherwise.
func newProgressReporter(w io.Writer, logger *slog.Logger) progressReporter {
	if isTerminal(w) {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("rendering"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionClearOnFinish(),
		)
		return &barProgress{bar: bar}
	}
	return &logProgress{logger: logger, last: -1}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Update(percent int) {
	_ = p.bar.Set(percent)
}

func (p *barProgress) Finish() {
	_ = p.bar.Finish()
}

// logProgress logs each new percentage once.
type logProgress struct {
	logger *slog.Logger
	last   int
}

func (p *logProgress) Update(percent int) {
	if percent == p.last {
		return
	}
	p.last = percent
	p.logger.Info("render progress", slog.Int("percent", percent))
}

func (p *logProgress) Finish() {}
