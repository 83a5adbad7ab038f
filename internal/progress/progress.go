// Package progress renders a terminal progress bar for long scans. It is a
// no-op when disabled or when stderr is not a TTY, so log output stays
// clean under pipes and service managers.
package progress

import (
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

const labelWidth = 28

// Bar tracks progress over a known number of items.
type Bar struct {
	container *mpb.Progress
	bar       *mpb.Bar
	label     string
}

// New returns a bar over total items. When enabled is false or stderr is
// not a terminal, every method is a no-op.
func New(total int, enabled bool) *Bar {
	b := &Bar{}
	if !enabled || !term.IsTerminal(int(os.Stderr.Fd())) {
		return b
	}

	b.container = mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithWidth(64),
		mpb.WithRefreshRate(100*time.Millisecond),
	)
	b.bar = b.container.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				if len(b.label) > labelWidth {
					return b.label[:labelWidth-2] + ".."
				}
				return b.label
			}, decor.WC{W: labelWidth, C: decor.DindentRight}),
			decor.CountersNoUnit("%d/%d", decor.WC{C: decor.DindentRight}),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return b
}

// Step advances the bar by one item and updates the displayed label.
func (b *Bar) Step(label string) {
	if b.bar == nil {
		return
	}
	b.label = label
	b.bar.Increment()
}

// Finish waits for the bar to render its final state.
func (b *Bar) Finish() {
	if b.container == nil {
		return
	}
	b.bar.SetTotal(-1, true)
	b.container.Wait()
}
