package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client serves objects from memory and counts reads.
type mockS3Client struct {
	objects  map[string][]byte
	getCalls int
	err      error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

const corpus = `{"feedback":"good","user_text":"quero marcar amanhã","agent_text":"Claro! Tenho horários às 09:00 e 10:30."}
{"feedback":"rewritten","user_text":"meu número é (11) 98765-4321","agent_text":"anotei","rewritten_text":"Obrigado! Anotei seu telefone."}

not json
{"feedback":"bad","user_text":"","agent_text":"x"}
{"feedback":"bad","user_text":"oi","agent_text":"Seu horário está confirmado!","note":"inventou confirmação"}
`

func TestCorpusStore_LoadExamples(t *testing.T) {
	mock := newMockS3()
	mock.objects["fewshot/corpus.jsonl"] = []byte(corpus)
	store := NewCorpusStore(mock, "bucket", "", nil)

	examples, err := store.LoadExamples(context.Background())
	require.NoError(t, err)
	require.Len(t, examples, 3)
	assert.Equal(t, FeedbackGood, examples[0].Feedback)
	assert.Equal(t, "meu número é [TELEFONE]", examples[1].UserText)
	assert.Equal(t, FeedbackBad, examples[2].Feedback)
}

func TestCorpusStore_CachesWithinTTL(t *testing.T) {
	mock := newMockS3()
	mock.objects["k"] = []byte(corpus)
	store := NewCorpusStore(mock, "bucket", "k", nil)
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, err := store.LoadExamples(context.Background())
	require.NoError(t, err)
	_, err = store.LoadExamples(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.getCalls)

	now = now.Add(DefaultCorpusTTL + time.Second)
	_, err = store.LoadExamples(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, mock.getCalls)
}

func TestCorpusStore_MissingObjectIsEmpty(t *testing.T) {
	store := NewCorpusStore(newMockS3(), "bucket", "absent.jsonl", nil)
	examples, err := store.LoadExamples(context.Background())
	require.NoError(t, err)
	assert.Empty(t, examples)
}

func TestCorpusStore_PropagatesErrors(t *testing.T) {
	mock := newMockS3()
	mock.err = errors.New("access denied")
	_, err := NewCorpusStore(mock, "bucket", "k", nil).LoadExamples(context.Background())
	assert.Error(t, err)
}

func TestCorpusStore_Disabled(t *testing.T) {
	store := NewCorpusStore(nil, "", "", nil)
	assert.False(t, store.Enabled())
	examples, err := store.LoadExamples(context.Background())
	require.NoError(t, err)
	assert.Nil(t, examples)
}
