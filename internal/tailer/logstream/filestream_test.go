package logstream_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/tailer/logstream"
	"github.com/sysflow-telemetry/logshipper/internal/testutil"
	"github.com/sysflow-telemetry/logshipper/internal/waker"
)

func TestFileStreamReadsAppendedLines(t *testing.T) {
	dir := testutil.TestTempDir(t)
	name := filepath.Join(dir, "log")
	f := testutil.OpenLogFile(t, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wk := waker.NewTestAlways()
	lines := make(chan logline.LineEvent, 10)

	ls, err := logstream.New(ctx, &wg, wk, name, "app", lines, false)
	if err != nil {
		t.Fatal(err)
	}

	testutil.WriteString(t, f, "hello\nworld\n")

	got := []string{}
	for i := 0; i < 2; i++ {
		select {
		case le := <-lines:
			got = append(got, le.Line)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}

	testutil.ExpectNoDiff(t, []string{"hello", "world"}, got)

	ls.Stop()
	f.Close()
	wg.Wait()
	if !ls.IsComplete() {
		t.Error("expected stream to be complete after Stop")
	}
}

func TestFileStreamFollowsTruncation(t *testing.T) {
	dir := testutil.TestTempDir(t)
	name := filepath.Join(dir, "log")
	f := testutil.OpenLogFile(t, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wk := waker.NewTestAlways()
	lines := make(chan logline.LineEvent, 10)

	ls, err := logstream.New(ctx, &wg, wk, name, "app", lines, false)
	if err != nil {
		t.Fatal(err)
	}

	testutil.WriteString(t, f, "first\n")
	select {
	case le := <-lines:
		testutil.ExpectNoDiff(t, "first", le.Line)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first line")
	}

	if err := f.Truncate(0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	testutil.WriteString(t, f, "after-truncate\n")

	select {
	case le := <-lines:
		testutil.ExpectNoDiff(t, "after-truncate", le.Line)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for post-truncation line")
	}

	ls.Stop()
	f.Close()
	wg.Wait()
}

func TestFileStreamFollowsRotation(t *testing.T) {
	dir := testutil.TestTempDir(t)
	name := filepath.Join(dir, "log")
	f := testutil.OpenLogFile(t, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wk := waker.NewTestAlways()
	lines := make(chan logline.LineEvent, 10)

	ls, err := logstream.New(ctx, &wg, wk, name, "app", lines, false)
	if err != nil {
		t.Fatal(err)
	}

	testutil.WriteString(t, f, "a1\na2\na3\na4\na5\n")

	got := []string{}
	for i := 0; i < 5; i++ {
		select {
		case le := <-lines:
			got = append(got, le.Line)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for pre-rotation line %d", i)
		}
	}
	testutil.ExpectNoDiff(t, []string{"a1", "a2", "a3", "a4", "a5"}, got)

	// Simulate log rotation: the old file is renamed out of the way (its
	// inode is unchanged, fd stays valid until EOF) and a brand new file
	// is created at the original path.
	if err := os.Rename(name, name+".1"); err != nil {
		t.Fatal(err)
	}
	f2 := testutil.OpenLogFile(t, name)
	testutil.WriteString(t, f2, "b1\nb2\nb3\n")

	for i := 0; i < 3; i++ {
		select {
		case le := <-lines:
			got = append(got, le.Line)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for post-rotation line %d", i)
		}
	}
	testutil.ExpectNoDiff(t, []string{"a1", "a2", "a3", "a4", "a5", "b1", "b2", "b3"}, got)

	ls.Stop()
	f.Close()
	f2.Close()
	wg.Wait()
}

func TestFileStreamCompletesOnUnlink(t *testing.T) {
	dir := testutil.TestTempDir(t)
	name := filepath.Join(dir, "log")
	f := testutil.OpenLogFile(t, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wk := waker.NewTestAlways()
	lines := make(chan logline.LineEvent, 10)

	ls, err := logstream.New(ctx, &wg, wk, name, "app", lines, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(name); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !ls.IsComplete() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !ls.IsComplete() {
		t.Error("expected stream to complete after source file removal")
	}

	f.Close()
	wg.Wait()
}
