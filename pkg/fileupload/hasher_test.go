package fileupload

import (
	"strings"
	"testing"

	"github.com/cloudmon/platform/pkg/common/logger"
)

func init() {
	logger.Init()
}

func TestHashContentMatchesHashBytes(t *testing.T) {
	content := []byte("customer_id,service_type\nCUST1,PEC\n")

	hash, n, err := HashContent(strings.NewReader(string(content)))
	if err != nil {
		t.Fatalf("HashContent returned error: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("expected %d bytes hashed, got %d", len(content), n)
	}
	if hash != HashBytes(content) {
		t.Fatalf("HashContent and HashBytes disagree: %s vs %s", hash, HashBytes(content))
	}
	if len(hash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hash))
	}
}

func TestHashIgnoresFileName(t *testing.T) {
	// Identity depends only on content, so the same bytes under two names
	// must collide.
	a := HashBytes([]byte("same content"))
	b := HashBytes([]byte("same content"))
	if a != b {
		t.Fatalf("identical content produced different hashes")
	}

	c := HashBytes([]byte("same content "))
	if a == c {
		t.Fatalf("different content produced the same hash")
	}
}
