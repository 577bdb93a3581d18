package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultCorpusTTL bounds how long a loaded corpus is reused before S3 is read again.
const DefaultCorpusTTL = 10 * time.Minute

// S3API is the subset of the S3 client used by CorpusStore.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// CorpusStore loads the curated few-shot corpus, a JSONL object of Examples, from S3.
type CorpusStore struct {
	bucket   string
	key      string
	s3Client S3API
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   []Example
	loadedAt time.Time
}

// NewCorpusStore creates a CorpusStore. If bucket is empty, LoadExamples returns nothing.
func NewCorpusStore(s3Client S3API, bucket, key string, logger *slog.Logger) *CorpusStore {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = "fewshot/corpus.jsonl"
	}
	return &CorpusStore{
		bucket:   bucket,
		key:      key,
		s3Client: s3Client,
		logger:   logger,
		ttl:      DefaultCorpusTTL,
		now:      time.Now,
	}
}

// Enabled returns true if the corpus is configured (bucket is set).
func (s *CorpusStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// LoadExamples returns the scrubbed corpus, reading S3 at most once per TTL. A missing
// object is an empty corpus.
func (s *CorpusStore) LoadExamples(ctx context.Context) ([]Example, error) {
	if !s.Enabled() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loadedAt.IsZero() && s.now().Sub(s.loadedAt) < s.ttl {
		return s.cached, nil
	}

	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFoundErr(err) {
			s.logger.Debug("few-shot corpus not found", "bucket", s.bucket, "key", s.key)
			s.cached, s.loadedAt = nil, s.now()
			return nil, nil
		}
		return nil, fmt.Errorf("archive: s3 get %s: %w", s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read corpus: %w", err)
	}

	examples := parseCorpus(data, s.logger)
	ScrubExamples(examples)
	s.cached, s.loadedAt = examples, s.now()

	s.logger.Info("loaded few-shot corpus", "key", s.key, "examples", len(examples))
	return examples, nil
}

func parseCorpus(data []byte, logger *slog.Logger) []Example {
	var examples []Example
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var ex Example
		if err := json.Unmarshal([]byte(raw), &ex); err != nil || !ex.Valid() {
			logger.Warn("skipping invalid corpus line", "line", line)
			continue
		}
		examples = append(examples, ex)
	}
	return examples
}

// isNotFoundErr checks if the error is an S3 NoSuchKey error.
func isNotFoundErr(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}
