package safefs

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestStat_ReturnsTimeoutError(t *testing.T) {
	prev := osStat
	defer func() { osStat = prev }()

	osStat = func(string) (os.FileInfo, error) {
		select {}
	}

	start := time.Now()
	_, err := Stat(context.Background(), "/does/not/matter", 25*time.Millisecond)
	if err == nil || !errors.Is(err, ErrTimeout) {
		t.Fatalf("Stat err = %v; want timeout", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("Stat took too long: %s", time.Since(start))
	}
}

func TestStatfs_ReturnsTimeoutError(t *testing.T) {
	prev := syscallStatfs
	defer func() { syscallStatfs = prev }()

	syscallStatfs = func(string, *syscall.Statfs_t) error {
		select {}
	}

	start := time.Now()
	_, err := Statfs(context.Background(), "/does/not/matter", 25*time.Millisecond)
	if err == nil || !errors.Is(err, ErrTimeout) {
		t.Fatalf("Statfs err = %v; want timeout", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("Statfs took too long: %s", time.Since(start))
	}
}

func TestStat_PropagatesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Stat(ctx, "/does/not/matter", 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stat err = %v; want context.Canceled", err)
	}
}

func TestAvailableBytes(t *testing.T) {
	prev := syscallStatfs
	defer func() { syscallStatfs = prev }()

	syscallStatfs = func(path string, st *syscall.Statfs_t) error {
		st.Bavail = 10
		st.Bsize = 4096
		return nil
	}

	got, err := AvailableBytes(context.Background(), "/archives", time.Second)
	if err != nil {
		t.Fatalf("AvailableBytes error: %v", err)
	}
	if got != 40960 {
		t.Fatalf("AvailableBytes = %d; want 40960", got)
	}
}

func TestStat_ReturnsInfo(t *testing.T) {
	dir := t.TempDir()
	info, err := Stat(context.Background(), dir, time.Second)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected directory")
	}
}
