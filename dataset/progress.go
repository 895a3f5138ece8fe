package dataset

import (
	"io"

	progress "gopkg.in/cheggaaa/pb.v1"
)

// bar wraps a progress bar that may be disabled.
type bar struct {
	pb *progress.ProgressBar
}

// newBar draws on w; a nil w disables drawing.
func newBar(total int, w io.Writer) *bar {
	if w == nil || total == 0 {
		return &bar{}
	}
	pb := progress.New(total)
	pb.Callback = func(msg string) {
		_, _ = io.WriteString(w, "\033[2K\r"+msg)
	}
	pb.NotPrint = true
	pb.ShowSpeed = false
	pb.SetMaxWidth(80).Start()
	return &bar{pb: pb}
}

func (b *bar) Increment(postfix string) {
	if b.pb == nil {
		return
	}
	b.pb.Postfix(" " + postfix)
	b.pb.Increment()
}

func (b *bar) Finish() {
	if b.pb != nil {
		b.pb.Finish()
	}
}
