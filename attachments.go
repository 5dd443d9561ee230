package pairchat

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Attachment pipeline
// ============================================================================

// File is a staged binary awaiting upload. Size takes precedence over
// len(Data) when set, so callers can describe large files without holding
// their bytes.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

func (f File) size() int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Data))
}

// MaxAttachmentSize is the per-file upload ceiling.
const MaxAttachmentSize = 100 << 20

// defaultUploadRetention is how long a finished upload entry remains in the
// progress map before it is dropped.
const defaultUploadRetention = 5 * time.Second

var acceptedMimeExact = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

func acceptedMime(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "image/"),
		strings.HasPrefix(mime, "video/"),
		strings.HasPrefix(mime, "audio/"):
		return true
	}
	return acceptedMimeExact[mime]
}

// kindForMime maps a mime type onto the attachment kind stored with the
// message.
func kindForMime(mime string) AttachmentKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	}
	return KindFile
}

// UploadFailure reports one file that could not be uploaded; the siblings
// of a failed file still go through.
type UploadFailure struct {
	File File
	Err  error
}

// AttachmentPipeline stages files for the next send: validation on entry,
// a preview for the first staged image, and per-upload progress entries
// that outlive completion briefly for visual confirmation.
type AttachmentPipeline struct {
	storage   BlobStore
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time

	mu       sync.Mutex
	pending  []File
	preview  string
	progress map[string]int
}

// NewAttachmentPipeline builds a pipeline over a blob store.
func NewAttachmentPipeline(storage BlobStore) *AttachmentPipeline {
	return &AttachmentPipeline{
		storage:   storage,
		logger:    zap.NewNop(),
		retention: defaultUploadRetention,
		now:       time.Now,
		progress:  make(map[string]int),
	}
}

// AddFiles stages files for the next send. Each rejected file yields its
// own error; accepted siblings are staged regardless.
func (p *AttachmentPipeline) AddFiles(files ...File) []error {
	var errs []error
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range files {
		if f.size() > MaxAttachmentSize {
			errs = append(errs, validationErrorf("%s exceeds the %s limit", f.Name, formatFileSize(MaxAttachmentSize)))
			continue
		}
		if !acceptedMime(f.MimeType) {
			errs = append(errs, validationErrorf("%s: unsupported file type %q", f.Name, f.MimeType))
			continue
		}
		p.pending = append(p.pending, f)
	}
	p.refreshPreviewLocked()
	return errs
}

// RemoveAt unstages the file at index i. The preview follows the first
// remaining image.
func (p *AttachmentPipeline) RemoveAt(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.pending) {
		return false
	}
	p.pending = append(p.pending[:i], p.pending[i+1:]...)
	p.refreshPreviewLocked()
	return true
}

// refreshPreviewLocked points the preview at the first staged image, as a
// data URI, or clears it.
func (p *AttachmentPipeline) refreshPreviewLocked() {
	for _, f := range p.pending {
		if strings.HasPrefix(f.MimeType, "image/") && len(f.Data) > 0 {
			p.preview = "data:" + f.MimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
			return
		}
	}
	p.preview = ""
}

// Pending returns a copy of the staged files.
func (p *AttachmentPipeline) Pending() []File {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]File, len(p.pending))
	copy(out, p.pending)
	return out
}

// Preview returns the first staged image as a data URI, or "".
func (p *AttachmentPipeline) Preview() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preview
}

// Progress returns a snapshot of the in-flight and recently finished
// uploads, keyed by upload key, valued 0..100.
func (p *AttachmentPipeline) Progress() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.progress))
	for k, v := range p.progress {
		out[k] = v
	}
	return out
}

// Reset drops all staged files, the preview, and every progress entry.
func (p *AttachmentPipeline) Reset() {
	p.mu.Lock()
	p.pending = nil
	p.preview = ""
	p.progress = make(map[string]int)
	p.mu.Unlock()
}

// UploadAll uploads every staged file and returns the resulting attachment
// records plus per-file failures. Staged files and the preview are cleared
// up front so a re-send cannot double-upload; a failed file's progress
// entry disappears immediately, a finished one lingers for the retention
// window.
func (p *AttachmentPipeline) UploadAll(ctx context.Context, conversationID, uploaderID string) ([]Attachment, []UploadFailure) {
	p.mu.Lock()
	files := p.pending
	p.pending = nil
	p.preview = ""
	p.mu.Unlock()

	if len(files) == 0 {
		return nil, nil
	}

	batch := p.now().UnixMilli()
	attachments := make([]Attachment, 0, len(files))
	var failures []UploadFailure

	for i, f := range files {
		key := fmt.Sprintf("%d-%d", batch, i)
		p.setProgress(key, 0)

		att, err := p.storage.Upload(ctx, f, conversationID, uploaderID, func(sent, total int64) {
			p.setProgress(key, uploadPercent(sent, total))
		})
		if err != nil {
			p.dropProgress(key)
			p.logger.Warn("attachment upload failed",
				zap.String("file", f.Name),
				zap.Error(err))
			failures = append(failures, UploadFailure{File: f, Err: remoteError("upload", err)})
			continue
		}

		p.setProgress(key, 100)
		p.scheduleDrop(key)
		attachments = append(attachments, att)
	}
	return attachments, failures
}

func (p *AttachmentPipeline) setProgress(key string, pct int) {
	p.mu.Lock()
	p.progress[key] = pct
	p.mu.Unlock()
}

func (p *AttachmentPipeline) dropProgress(key string) {
	p.mu.Lock()
	delete(p.progress, key)
	p.mu.Unlock()
}

func (p *AttachmentPipeline) scheduleDrop(key string) {
	time.AfterFunc(p.retention, func() { p.dropProgress(key) })
}

func uploadPercent(sent, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(sent * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// formatFileSize renders a byte count for user-facing messages.
func formatFileSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
