package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"streamgate/internal/domain"
)

func newLocalFixture(t *testing.T, files map[string]string) (StreamLocal, *fakeTracker) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	tracker := newFakeTracker()
	return StreamLocal{Fs: fs, Tracker: tracker, ChunkSize: 10, MaxFileSize: 1000}, tracker
}

func TestStreamLocalWholeFileWithoutRange(t *testing.T) {
	content := strings.Repeat("a", 25)
	uc, tracker := newLocalFixture(t, map[string]string{"song.mp3": content})

	stream, err := uc.Execute(context.Background(), StreamLocalRequest{FileName: "song.mp3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if stream.Partial {
		t.Fatal("request without Range must not be partial")
	}
	if stream.Window != (domain.ByteWindow{Start: 0, End: 24}) || stream.ContentType != "audio/mpeg" {
		t.Fatalf("window %+v, content type %q", stream.Window, stream.ContentType)
	}
	body, _ := io.ReadAll(stream.Body)
	if string(body) != content {
		t.Fatalf("body = %q", body)
	}
	if tracker.live() != 1 {
		t.Fatal("local response not tracked")
	}
	if c := tracker.Snapshot()[0]; c.SessionID != "" || c.FileName != "song.mp3" {
		t.Fatalf("connection = %+v", c)
	}
	stream.Release(true)
	if tracker.live() != 0 {
		t.Fatal("connection not released")
	}
}

func TestStreamLocalRange(t *testing.T) {
	uc, _ := newLocalFixture(t, map[string]string{"clip.webm": "0123456789abcdefghijklmnopqrstuvwxyz"})

	stream, err := uc.Execute(context.Background(), StreamLocalRequest{FileName: "clip.webm", RangeHeader: "bytes=5-"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer stream.Release(true)
	if !stream.Partial || stream.Window != (domain.ByteWindow{Start: 5, End: 14}) {
		t.Fatalf("partial=%v window=%+v", stream.Partial, stream.Window)
	}
	body, _ := io.ReadAll(stream.Body)
	if string(body) != "56789abcde" {
		t.Fatalf("body = %q", body)
	}
}

func TestStreamLocalErrors(t *testing.T) {
	uc, tracker := newLocalFixture(t, map[string]string{
		"big.mkv":   strings.Repeat("b", 1001),
		"movie.mp4": "short",
	})
	if err := uc.Fs.MkdirAll("folder", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name   string
		file   string
		header string
		want   error
	}{
		{"Missing", "nope.mp4", "", domain.ErrNotFound},
		{"Directory", "folder", "", domain.ErrNotFound},
		{"Traversal", "../etc/passwd", "", domain.ErrNotFound},
		{"Empty", "", "", domain.ErrNotFound},
		{"TooLarge", "big.mkv", "", domain.ErrSizeLimitExceeded},
		{"Unsatisfiable", "movie.mp4", "bytes=10-", domain.ErrRangeNotSatisfiable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), StreamLocalRequest{FileName: tc.file, RangeHeader: tc.header})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if tracker.live() != 0 {
		t.Fatal("failed requests left connections behind")
	}
}

func TestStreamLocalEmptyFile(t *testing.T) {
	uc, _ := newLocalFixture(t, map[string]string{"empty.mp4": ""})
	stream, err := uc.Execute(context.Background(), StreamLocalRequest{FileName: "empty.mp4", RangeHeader: "bytes=0-"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer stream.Release(true)
	if stream.Body != nil || stream.ContentLength() != 0 || stream.Partial {
		t.Fatalf("empty file stream = %+v", stream)
	}
}

func TestStreamLocalStopsReadingAfterCancel(t *testing.T) {
	uc, _ := newLocalFixture(t, map[string]string{"song.flac": strings.Repeat("f", 50)})
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := uc.Execute(ctx, StreamLocalRequest{FileName: "song.flac"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer stream.Release(false)
	cancel()
	if _, err := stream.Body.Read(make([]byte, 8)); !errors.Is(err, context.Canceled) {
		t.Fatalf("read after cancel err = %v", err)
	}
}

func TestStreamLocalSniffsUnknownExtension(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32)
	uc, _ := newLocalFixture(t, map[string]string{"poster": png})

	stream, err := uc.Execute(context.Background(), StreamLocalRequest{FileName: "poster"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer stream.Release(true)
	if stream.ContentType != "image/png" {
		t.Fatalf("content type = %q, want image/png", stream.ContentType)
	}
	body, _ := io.ReadAll(stream.Body)
	if string(body) != png {
		t.Fatal("sniffing must not consume the body")
	}
}
