package pairchat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAttachmentPipelineValidation(t *testing.T) {
	p := NewAttachmentPipeline(&fakeStorage{})

	t.Run("oversized file rejected, sibling staged", func(t *testing.T) {
		errs := p.AddFiles(
			File{Name: "huge.mp4", MimeType: "video/mp4", Size: 150 << 20},
			File{Name: "ok.png", MimeType: "image/png", Data: []byte("png")},
		)
		if len(errs) != 1 {
			t.Fatalf("expected exactly one error, got %v", errs)
		}
		var verr *ValidationError
		if !errors.As(errs[0], &verr) {
			t.Fatalf("expected ValidationError, got %T", errs[0])
		}
		if !strings.Contains(errs[0].Error(), "huge.mp4") {
			t.Errorf("error should name the file: %v", errs[0])
		}
		pending := p.Pending()
		if len(pending) != 1 || pending[0].Name != "ok.png" {
			t.Errorf("sibling should be staged: %+v", pending)
		}
	})

	t.Run("unsupported mime rejected", func(t *testing.T) {
		errs := p.AddFiles(File{Name: "app.exe", MimeType: "application/x-msdownload", Data: []byte("x")})
		if len(errs) != 1 {
			t.Fatalf("expected one error, got %v", errs)
		}
		if len(p.Pending()) != 1 {
			t.Error("rejected file must not be staged")
		}
	})

	t.Run("documents accepted", func(t *testing.T) {
		errs := p.AddFiles(
			File{Name: "doc.pdf", MimeType: "application/pdf", Data: []byte("pdf")},
			File{Name: "old.doc", MimeType: "application/msword", Data: []byte("doc")},
			File{Name: "notes.txt", MimeType: "text/plain", Data: []byte("txt")},
		)
		if len(errs) != 0 {
			t.Fatalf("documents should be accepted: %v", errs)
		}
	})
}

func TestAttachmentPipelinePreview(t *testing.T) {
	p := NewAttachmentPipeline(&fakeStorage{})
	p.AddFiles(
		File{Name: "doc.pdf", MimeType: "application/pdf", Data: []byte("pdf")},
		File{Name: "a.png", MimeType: "image/png", Data: []byte("aaa")},
		File{Name: "b.png", MimeType: "image/png", Data: []byte("bbb")},
	)

	first := p.Preview()
	if !strings.HasPrefix(first, "data:image/png;base64,") {
		t.Fatalf("expected data URI preview, got %q", first)
	}

	// Removing the previewed image promotes the next staged image.
	if !p.RemoveAt(1) {
		t.Fatal("remove failed")
	}
	second := p.Preview()
	if second == "" || second == first {
		t.Errorf("preview should move to the next image, got %q", second)
	}

	// No images left: preview clears.
	p.RemoveAt(1)
	if p.Preview() != "" {
		t.Error("preview should clear when no image is staged")
	}
}

func TestAttachmentPipelineUploadAll(t *testing.T) {
	storage := &fakeStorage{failOn: "bad.png"}
	p := NewAttachmentPipeline(storage)
	p.retention = 50 * time.Millisecond

	p.AddFiles(
		File{Name: "good.png", MimeType: "image/png", Data: []byte("g")},
		File{Name: "bad.png", MimeType: "image/png", Data: []byte("b")},
	)

	attachments, failures := p.UploadAll(context.Background(), "a_b", "u-alice")
	if len(attachments) != 1 || attachments[0].OriginalName != "good.png" {
		t.Fatalf("expected good.png to upload, got %+v", attachments)
	}
	if len(failures) != 1 || failures[0].File.Name != "bad.png" {
		t.Fatalf("expected bad.png to fail, got %+v", failures)
	}

	t.Run("staged files consumed up front", func(t *testing.T) {
		if len(p.Pending()) != 0 || p.Preview() != "" {
			t.Error("upload should consume the staged files and preview")
		}
		again, _ := p.UploadAll(context.Background(), "a_b", "u-alice")
		if len(again) != 0 {
			t.Error("second upload must not re-send consumed files")
		}
	})

	t.Run("failure entry removed immediately, success retained briefly", func(t *testing.T) {
		progress := p.Progress()
		if len(progress) != 1 {
			t.Fatalf("expected one retained entry, got %v", progress)
		}
		for _, pct := range progress {
			if pct != 100 {
				t.Errorf("retained entry should read 100, got %d", pct)
			}
		}
		time.Sleep(120 * time.Millisecond)
		if remaining := p.Progress(); len(remaining) != 0 {
			t.Errorf("entry should expire after the retention window, got %v", remaining)
		}
	})
}

func TestAttachmentPipelineUploadProgress(t *testing.T) {
	storage := &fakeStorage{}
	p := NewAttachmentPipeline(storage)

	// Sample the progress map while the transfer is halfway through.
	var observed []int
	storage.during = func(f File, onProgress func(sent, total int64)) {
		onProgress(f.size()/2, f.size())
		for _, pct := range p.Progress() {
			observed = append(observed, pct)
		}
	}

	p.AddFiles(File{Name: "clip.mp4", MimeType: "video/mp4", Data: make([]byte, 1024)})
	p.UploadAll(context.Background(), "a_b", "u-alice")

	if len(observed) != 1 || observed[0] != 50 {
		t.Errorf("expected a 50%% reading mid-transfer, got %v", observed)
	}
	for key, pct := range p.Progress() {
		if pct != 100 {
			t.Errorf("finished entry %s should read 100, got %d", key, pct)
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{100 << 20, "100.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, c := range cases {
		if got := formatFileSize(c.in); got != c.want {
			t.Errorf("formatFileSize(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
