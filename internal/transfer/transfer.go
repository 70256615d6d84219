// Package transfer moves payloads to and from a remote.Backend. Payloads above
// the chunk size are split, uploaded with bounded concurrency into a temporary
// directory and reassembled at the final path.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/crypto"
	"syncvault/internal/progress"
	"syncvault/internal/remote"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize     = 5 * 1024 * 1024
	DefaultMaxConcurrent = 3
	DefaultTimeout       = 30 * time.Second
	DefaultBackoffBase   = time.Second
)

type Options struct {
	ChunkSize     int
	MaxConcurrent int
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// BackoffBase is the first retry delay; later delays double.
	BackoffBase time.Duration
}

type Engine struct {
	backend remote.Backend
	opts    Options
	logger  *slog.Logger
}

func New(backend remote.Backend, opts Options, logger *slog.Logger) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{backend: backend, opts: opts, logger: logger}
}

func (e *Engine) Backend() remote.Backend {
	return e.backend
}

// Upload writes content to target. Small payloads go up in one request;
// larger ones use the backend's multipart upload when it has one and the
// chunk-and-reassemble path otherwise.
func (e *Engine) Upload(ctx context.Context, target string, content []byte, onProgress progress.Func) error {
	target = remote.Clean(target)
	if err := ctx.Err(); err != nil {
		return cancelled("upload "+target, err)
	}

	if len(content) <= e.opts.ChunkSize {
		onProgress.Emit(progress.New(progress.StatusUploading, target, 0, 1))
		if err := e.Retry(ctx, "upload "+target, func(ctx context.Context) error {
			return e.backend.Upload(ctx, target, content)
		}); err != nil {
			onProgress.Emit(progress.New(progress.StatusError, target, 0, 1))
			return err
		}
		onProgress.Emit(progress.New(progress.StatusCompleted, target, 1, 1))
		return nil
	}

	if mu, ok := e.backend.(remote.MultipartUploader); ok {
		onProgress.Emit(progress.New(progress.StatusUploading, target, 0, 1))
		if err := e.Retry(ctx, "multipart upload "+target, func(ctx context.Context) error {
			return mu.UploadMultipart(ctx, target, content, int64(e.opts.ChunkSize))
		}); err != nil {
			onProgress.Emit(progress.New(progress.StatusError, target, 0, 1))
			return err
		}
		onProgress.Emit(progress.New(progress.StatusCompleted, target, 1, 1))
		return nil
	}

	if err := e.uploadChunked(ctx, target, content, onProgress); err != nil {
		onProgress.Emit(progress.New(progress.StatusError, target, 0, 0))
		return err
	}
	return nil
}

func (e *Engine) uploadChunked(ctx context.Context, target string, content []byte, onProgress progress.Func) error {
	tempDir := path.Join(path.Dir(target), "temp_upload_"+uuid.NewString())
	chunks := split(content, e.opts.ChunkSize)
	total := len(chunks)

	e.logger.Info("Starting chunked upload", "target", target, "bytes", len(content), "chunks", total, "tempDir", tempDir)
	defer e.cleanup(ctx, tempDir, total)

	if err := e.Retry(ctx, "mkdir "+tempDir, func(ctx context.Context) error {
		return e.backend.EnsureDir(ctx, tempDir)
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)

	var mu sync.Mutex
	completed := 0

	for i, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		name := chunkPath(tempDir, i)
		g.Go(func() error {
			if err := e.Retry(gctx, "upload "+name, func(ctx context.Context) error {
				return e.backend.Upload(ctx, name, chunk)
			}); err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, total, err)
			}

			mu.Lock()
			completed++
			onProgress.Emit(progress.New(progress.StatusUploading, name, completed, total))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return cancelled("upload "+target, err)
	}

	// Chunks are read back strictly by index so completion order does not matter.
	var assembled bytes.Buffer
	assembled.Grow(len(content))
	for i := range total {
		if err := ctx.Err(); err != nil {
			return cancelled("reassemble "+target, err)
		}
		name := chunkPath(tempDir, i)
		data, err := e.download(ctx, name)
		if err != nil {
			return fmt.Errorf("reassemble chunk %d/%d: %w", i+1, total, err)
		}
		assembled.Write(data)
	}

	if got, want := crypto.Hash(assembled.Bytes()), crypto.Hash(content); got != want {
		return apperr.Errorf(apperr.KindFormat, "reassemble "+target,
			"reassembled payload does not match source (blake3 %s, want %s)", got, want)
	}

	if err := e.Retry(ctx, "upload "+target, func(ctx context.Context) error {
		return e.backend.Upload(ctx, target, assembled.Bytes())
	}); err != nil {
		return err
	}

	onProgress.Emit(progress.New(progress.StatusCompleted, target, total, total))
	e.logger.Info("Chunked upload completed", "target", target, "chunks", total)
	return nil
}

// cleanup removes chunk objects and the temporary directory. It runs even when
// the upload was cancelled, and missing objects are ignored.
func (e *Engine) cleanup(ctx context.Context, tempDir string, total int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeout)
	defer cancel()

	for i := range total {
		if err := remote.DeleteIfExists(ctx, e.backend, chunkPath(tempDir, i)); err != nil {
			e.logger.Warn("Failed to delete chunk", "path", chunkPath(tempDir, i), "error", err)
		}
	}
	if err := remote.DeleteIfExists(ctx, e.backend, tempDir); err != nil {
		e.logger.Warn("Failed to delete temporary upload directory", "path", tempDir, "error", err)
	}
}

// Download reads p through the retry policy.
func (e *Engine) Download(ctx context.Context, p string, onProgress progress.Func) ([]byte, error) {
	p = remote.Clean(p)
	onProgress.Emit(progress.New(progress.StatusDownloading, p, 0, 1))
	data, err := e.download(ctx, p)
	if err != nil {
		onProgress.Emit(progress.New(progress.StatusError, p, 0, 1))
		return nil, err
	}
	onProgress.Emit(progress.New(progress.StatusCompleted, p, 1, 1))
	return data, nil
}

func (e *Engine) download(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := e.Retry(ctx, "download "+p, func(ctx context.Context) error {
		var err error
		data, err = e.backend.Download(ctx, p)
		return err
	})
	return data, err
}

// Retry runs fn until it succeeds, fails with a non-transient error or runs
// out of retries. Each attempt gets its own timeout; waits double from
// BackoffBase. Cancellation of ctx is reported as a cancelled error.
func (e *Engine) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(uint64(e.opts.RetryAttempts), retry.NewExponential(e.opts.BackoffBase))

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		err = e.classify(ctx, actx, op, err)
		if apperr.Transient(err) {
			e.logger.Warn("Transfer attempt failed, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return cancelled(op, err)
	}
	return err
}

func (e *Engine) classify(parent, attempt context.Context, op string, err error) error {
	if parent.Err() != nil {
		return cancelled(op, parent.Err())
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, op, fmt.Errorf("attempt exceeded %s: %w", e.opts.Timeout, err))
	}
	return err
}

func cancelled(op string, err error) error {
	return apperr.Wrap(apperr.KindCancelled, op, err)
}

func split(content []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(content)+size-1)/size)
	for start := 0; start < len(content); start += size {
		end := min(start+size, len(content))
		chunks = append(chunks, content[start:end])
	}
	return chunks
}

func chunkPath(dir string, i int) string {
	return path.Join(dir, fmt.Sprintf("chunk_%05d", i))
}
