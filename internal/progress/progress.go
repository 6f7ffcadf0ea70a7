// Package progress renders transfer progress for the command line tools.
package progress

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/schollz/progressbar/v3"
	isp "github.com/tocurd/go-stm32isp"
	"golang.org/x/term"
)

// Renderer draws one bar per phase on a terminal and falls back to log lines otherwise.
type Renderer struct {
	out   *os.File
	tty   bool
	phase isp.Phase
	bar   *progressbar.ProgressBar
	last  int
}

func New(out *os.File) *Renderer {
	return &Renderer{out: out, tty: term.IsTerminal(int(out.Fd()))}
}

// Report is an isp.ProgressFunc.
func (r *Renderer) Report(p isp.Progress) {
	if p.Phase != r.phase {
		r.Finish()
		r.phase = p.Phase
		r.last = -1
		if r.tty && p.TotalBytes > 0 {
			r.bar = progressbar.NewOptions(p.TotalBytes,
				progressbar.OptionSetWriter(r.out),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription(string(p.Phase)),
				progressbar.OptionShowBytes(p.Phase != isp.PhaseErasing),
			)
		}
	}
	if r.bar != nil {
		r.bar.Set(p.Bytes)
		return
	}
	// 非终端时每 10% 输出一行
	step := int(p.Percentage()) / 10
	if step != r.last {
		r.last = step
		glog.Infof("%s: %d/%d (%.0f%%)", p.Phase, p.Chunk, p.Total, p.Percentage())
	}
}

// Abort leaves the current bar where it stopped and moves to a new line.
func (r *Renderer) Abort() {
	if r.bar == nil {
		return
	}
	fmt.Fprintln(r.out)
	r.bar = nil
}

// Finish completes the current bar, if any.
func (r *Renderer) Finish() {
	if r.bar == nil {
		return
	}
	r.bar.Finish()
	fmt.Fprintln(r.out)
	r.bar = nil
}
