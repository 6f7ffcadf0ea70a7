package progress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/schollz/progressbar/v3"
	isp "github.com/tocurd/go-stm32isp"
)

func TestRendererWithoutTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r := New(f)
	if r.tty {
		t.Fatal("regular file reported as terminal")
	}
	for i := 1; i <= 4; i++ {
		r.Report(isp.Progress{Phase: isp.PhaseWriting, Chunk: i, Total: 4, Bytes: i * 256, TotalBytes: 1024})
	}
	if r.bar != nil {
		t.Fatal("bar drawn on a regular file")
	}
	if r.last != 10 {
		t.Fatalf("last step = %d, want 10", r.last)
	}
	r.Report(isp.Progress{Phase: isp.PhaseVerifying, Chunk: 1, Total: 4, Bytes: 256, TotalBytes: 1024})
	if r.phase != isp.PhaseVerifying || r.last != 2 {
		t.Fatalf("phase %s step %d after switch", r.phase, r.last)
	}
	r.Finish()
}

func TestRendererAbortKeepsBar(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r := New(f)
	bar := progressbar.NewOptions(1024, progressbar.OptionSetWriter(f))
	r.bar = bar
	r.phase = isp.PhaseWriting
	r.Report(isp.Progress{Phase: isp.PhaseWriting, Chunk: 1, Total: 4, Bytes: 256, TotalBytes: 1024})

	r.Abort()
	if r.bar != nil {
		t.Fatal("bar kept after abort")
	}
	if bar.IsFinished() {
		t.Error("aborted bar was completed")
	}
	r.Abort()
	r.Finish()
}
