package hlsupload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// transientFailure mimics a retryable storage error.
type transientFailure struct {
	msg string
}

func (e *transientFailure) Error() string   { return e.msg }
func (e *transientFailure) Transient() bool { return true }

type putRecord struct {
	bucket      string
	key         string
	body        []byte
	contentType string
}

// fakeUploader records every put and can be scripted to fail per key
// and attempt number.
type fakeUploader struct {
	mu     sync.Mutex
	puts   []putRecord
	counts map[string]int

	fail func(key string, attempt int) error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{counts: map[string]int{}}
}

func (u *fakeUploader) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.counts[key]++
	if u.fail != nil {
		if err := u.fail(key, u.counts[key]); err != nil {
			return err
		}
	}

	u.puts = append(u.puts, putRecord{bucket: bucket, key: key, body: data, contentType: contentType})
	return nil
}

func (u *fakeUploader) keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	keys := make([]string, 0, len(u.puts))
	for _, put := range u.puts {
		keys = append(keys, put.key)
	}
	return keys
}

func (u *fakeUploader) find(key string) (putRecord, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, put := range u.puts {
		if put.key == key {
			return put, true
		}
	}
	return putRecord{}, false
}

func (u *fakeUploader) attempts(key string) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.counts[key]
}

// writeIndex writes a local segment index plus the segment files it
// references, the way the encoder lays them out in the workspace.
func writeIndex(t *testing.T, dir string, count int, duration float64, closed bool) {
	t.Helper()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%.0f\n", duration))

	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s-%05d.ts", segmentPrefix, i)
		b.WriteString(fmt.Sprintf("#EXTINF:%f,\n%s\n", duration, name))

		segmentPath := path.Join(dir, name)
		require.NoError(t, os.WriteFile(segmentPath, []byte(fmt.Sprintf("segment %d", i)), 0644))
	}

	if closed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	require.NoError(t, os.WriteFile(path.Join(dir, indexFileName), []byte(b.String()), 0644))
}
