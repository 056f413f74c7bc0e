package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// chunkSize is the read buffer size used when streaming a media file.
	chunkSize = 8 * 1024

	// Progress is reported at most once per progressStep percentage points or
	// per progressBytes bytes, whichever comes first.
	progressStep  = 5
	progressBytes = 100 * 1024

	connectTimeout = 30 * time.Second
	readTimeout    = 120 * time.Second
)

// browserHeader is the header set sent with every media request. The remote
// server rejects unidentified clients, so the fetcher presents itself as a
// mobile browser.
var browserHeader = http.Header{
	"User-Agent":      []string{"Mozilla/5.0 (Linux; Android 12; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"},
	"Accept":          []string{"*/*"},
	"Accept-Language": []string{"en-US,en;q=0.9"},
	"Referer":         []string{"https://www.instagram.com/"},
	"Origin":          []string{"https://www.instagram.com"},
}

// ProgressFunc receives cumulative bytes written and the total content length,
// or -1 if the server did not report a length.
type ProgressFunc func(written int64, total int64)

// Fetcher streams remote media files into local byte sinks. It performs no
// retries; a failed fetch is a failed fetch, and re-download is a caller
// decision.
type Fetcher struct {
	hc *http.Client
}

func New() *Fetcher {
	return &Fetcher{
		hc: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

// Fetch performs an http GET for url=u and streams the response body into w,
// invoking progress (if non-nil) as bytes arrive. It returns the number of
// bytes written. A non-2xx status, a timeout, or a body shorter than the
// advertised content length all yield an error; the caller must treat any
// partial write as failed.
func (f *Fetcher) Fetch(ctx context.Context, u string, w io.Writer, progress ProgressFunc) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	log.Debugf("fetch: %s", u)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range browserHeader {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rsp, err := f.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %v", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return 0, fmt.Errorf("error status: %s", rsp.Status)
	}

	total := rsp.ContentLength
	written, err := copyWithProgress(w, newContextReader(ctx, rsp.Body), total, progress)
	if err != nil {
		return written, err
	}

	if total >= 0 && written != total {
		return written, fmt.Errorf("short body: have=%d want=%d", written, total)
	}

	return written, nil
}

// copyWithProgress streams r into w in small chunks, emitting throttled
// progress events. Reported percentages are monotonically non-decreasing.
func copyWithProgress(w io.Writer, r io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)

	var written int64
	var lastEmit int64
	lastPct := -1

	emit := func() {
		if progress == nil {
			return
		}
		progress(written, total)
		lastEmit = written
		if total > 0 {
			lastPct = int(written * 100 / total)
		}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}

			switch {
			case total > 0 && int(written*100/total) >= lastPct+progressStep:
				emit()
			case written-lastEmit >= progressBytes:
				emit()
			}
		}

		if err == io.EOF {
			if written != lastEmit {
				emit()
			}
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// contextReader wraps a reader such that reads respect a context deadline. An
// active read is orphaned in its own goroutine if the context finishes first.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func newContextReader(ctx context.Context, r io.Reader) *contextReader {
	return &contextReader{ctx: ctx, r: r}
}

func (cr *contextReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}

	resultChan := make(chan result, 1)
	go func() {
		n, err := cr.r.Read(p)
		resultChan <- result{n, err}
	}()

	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	case res := <-resultChan:
		return res.n, res.err
	}
}
