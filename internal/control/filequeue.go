package control

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"vigil/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// fallbackPollInterval guards against missed fsnotify events; the queue is
// correct with polling alone, the watcher just makes it prompt.
const fallbackPollInterval = 2 * time.Second

// FileQueue is the legacy transport: a JSON request document the companion
// scheduler appends to, consumed and truncated by the core after processing,
// plus a single-slot response document.
type FileQueue struct {
	requestPath  string
	responsePath string
	handler      *Handler
}

func NewFileQueue(requestPath, responsePath string, handler *Handler) *FileQueue {
	return &FileQueue{
		requestPath:  requestPath,
		responsePath: responsePath,
		handler:      handler,
	}
}

// Run watches the request document until ctx is cancelled.
func (q *FileQueue) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(q.requestPath), 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory: editors and the companion process replace the file
	// by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(q.requestPath)); err != nil {
		return err
	}
	logger.Infof("control file queue watching %s", q.requestPath)

	ticker := time.NewTicker(fallbackPollInterval)
	defer ticker.Stop()
	q.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) == filepath.Clean(q.requestPath) {
				q.drain()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("control file queue watch error: %v", err)
		case <-ticker.C:
			q.drain()
		}
	}
}

// drain consumes every queued request, truncates the queue, and writes the
// last response into the single response slot.
func (q *FileQueue) drain() {
	data, err := os.ReadFile(q.requestPath)
	if err != nil || len(data) == 0 {
		return
	}
	requests := q.parse(data)
	if len(requests) == 0 {
		return
	}
	// Truncate before processing so a slow handler cannot double-consume on
	// the next wakeup.
	if err := os.WriteFile(q.requestPath, []byte("[]"), 0o644); err != nil {
		logger.Warnf("control queue truncate failed: %v", err)
		return
	}
	var last Response
	for _, req := range requests {
		last = q.handler.Handle(req)
		logger.Infof("control queue: %s id=%s ok=%v", req.Action, req.ID, last.OK)
	}
	q.writeResponse(last)
}

// parse accepts either a JSON array of requests or a single request object.
// gjson probes the shape first so garbage never aborts the queue.
func (q *FileQueue) parse(data []byte) []Request {
	root := gjson.ParseBytes(data)
	var rawItems []gjson.Result
	switch {
	case root.IsArray():
		rawItems = root.Array()
	case root.IsObject():
		rawItems = []gjson.Result{root}
	default:
		logger.Warnf("control queue: unparsable request document, ignoring")
		return nil
	}
	out := make([]Request, 0, len(rawItems))
	for _, item := range rawItems {
		if !item.Get("action").Exists() {
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(item.Raw), &req); err != nil {
			logger.Warnf("control queue: skipping malformed request: %v", err)
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		out = append(out, req)
	}
	return out
}

func (q *FileQueue) writeResponse(resp Response) {
	if resp.Action == "" {
		return
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		logger.Warnf("control queue: encode response failed: %v", err)
		return
	}
	tmp := q.responsePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Warnf("control queue: write response failed: %v", err)
		return
	}
	if err := os.Rename(tmp, q.responsePath); err != nil {
		logger.Warnf("control queue: publish response failed: %v", err)
	}
}
