package ctxswitch

import "testing"

func TestJumpContextRoundTrip(t *testing.T) {
	root := NewRootContext()
	var seen int64
	done := make(chan struct{})

	var fiberCtx *Context
	fiberCtx = MakeContext(func(arg int64) {
		seen = arg
		// hand back to root, then immediately receive again to simulate a
		// second suspension point before finishing.
		arg2 := JumpContext(fiberCtx, root, arg*2)
		seen = arg2
		close(done)
		Finish(root, arg2*2)
	})

	got := JumpContext(root, fiberCtx, 21)
	if got != 42 {
		t.Fatalf("first resume: got %d, want 42", got)
	}
	if seen != 21 {
		t.Fatalf("fiber saw %d, want 21", seen)
	}

	got = JumpContext(root, fiberCtx, 100)
	<-done
	if got != 200 {
		t.Fatalf("final jump: got %d, want 200", got)
	}
	if seen != 100 {
		t.Fatalf("fiber saw %d on resume, want 100", seen)
	}
}
