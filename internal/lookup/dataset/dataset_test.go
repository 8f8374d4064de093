package dataset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/lookup"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/resilience"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	globalJSON = `[
		{"code":"A00","title":"Cholera"},
		{"code":"A00.0","title":{"@language":"en","@value":"Cholera due to Vibrio cholerae 01, biovar cholerae"}}
	]`
	diagnosesJSON = `[
		{"code":"A00.0","rawCode":"A000","isHeader":false,"shortDescription":"Cholera d/t vib cholerae","longDescription":"Cholera due to Vibrio cholerae 01, biovar cholerae"}
	]`
	proceduresJSON = `[
		{"code":"00500ZZ","longDescription":"Destruction of Brain, Open Approach"}
	]`
)

var testNames = Names{Global: "global.json", Diagnoses: "cm.json", Procedures: "pcs.json"}

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

// memSource serves documents from memory and can fail a name a set number
// of times before succeeding.
type memSource struct {
	mu       sync.Mutex
	docs     map[string]string
	failures map[string]int
	opens    map[string]int
}

func newMemSource() *memSource {
	return &memSource{
		docs: map[string]string{
			testNames.Global:     globalJSON,
			testNames.Diagnoses:  diagnosesJSON,
			testNames.Procedures: proceduresJSON,
		},
		failures: map[string]int{},
		opens:    map[string]int{},
	}
}

func (m *memSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[name]++
	if m.failures[name] > 0 {
		m.failures[name]--
		return nil, errors.New("connection reset")
	}
	doc, ok := m.docs[name]
	if !ok {
		return nil, resilience.Permanent(errors.New(name + " not found"))
	}
	return io.NopCloser(strings.NewReader(doc)), nil
}

func TestJSONLoader_Load(t *testing.T) {
	raw, err := NewJSONLoader(newMemSource(), testNames, fastRetry).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, raw.Global, 2)
	assert.Equal(t, lookup.Title("Cholera due to Vibrio cholerae 01, biovar cholerae"), raw.Global[1].Title)
	require.Len(t, raw.Diagnoses, 1)
	assert.Equal(t, "A000", raw.Diagnoses[0].RawCode)
	require.Len(t, raw.Procedures, 1)
	assert.Equal(t, "00500ZZ", raw.Procedures[0].Code)
}

func TestJSONLoader_RetriesTransientFailures(t *testing.T) {
	src := newMemSource()
	src.failures[testNames.Diagnoses] = 2

	_, err := NewJSONLoader(src, testNames, fastRetry).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, src.opens[testNames.Diagnoses])
	assert.Equal(t, 1, src.opens[testNames.Global])
}

func TestJSONLoader_MissingDocumentIsNotRetried(t *testing.T) {
	src := newMemSource()
	delete(src.docs, testNames.Procedures)

	_, err := NewJSONLoader(src, testNames, fastRetry).Load(context.Background())
	assert.ErrorContains(t, err, "pcs.json not found")
	assert.Equal(t, 1, src.opens[testNames.Procedures])
}

func TestJSONLoader_MalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "object instead of array", doc: `{"code":"A00"}`, want: "expected a JSON array"},
		{name: "bad title", doc: `[{"code":"A00","title":7}]`, want: "record 0"},
		{name: "empty", doc: ``, want: "decoding global.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newMemSource()
			src.docs[testNames.Global] = tt.doc

			_, err := NewJSONLoader(src, testNames, fastRetry).Load(context.Background())
			assert.ErrorContains(t, err, tt.want)
			assert.Equal(t, 1, src.opens[testNames.Global], "decode errors are permanent")
		})
	}
}

func TestJSONLoader_FeedsEngine(t *testing.T) {
	e := lookup.New(lookup.Options{})
	require.NoError(t, e.Init(context.Background(), NewJSONLoader(newMemSource(), testNames, fastRetry)))

	got := e.ConvertBillToReport("A00.0")
	assert.True(t, got.Mapped)
	assert.Equal(t, "A00.0", got.ReportCode)
	assert.Len(t, e.SearchProcedure("brain"), 1)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "int"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "int", "g.json"), []byte(globalJSON), 0o644))

	src := FileSource{Dir: dir}
	rc, err := src.Open(context.Background(), "int/g.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, globalJSON, string(body))

	rc, err = src.Open(context.Background(), filepath.Join(dir, "int", "g.json"))
	require.NoError(t, err, "absolute paths bypass Dir")
	rc.Close()

	_, err = src.Open(context.Background(), "missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
	calls := 0
	err = resilience.Retry(context.Background(), "open", fastRetry, func(ctx context.Context) error {
		calls++
		_, err := src.Open(ctx, "missing.json")
		return err
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

type fakeS3 struct {
	objects map[string]string
	err     error
	last    *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"icd/global.json": globalJSON,
		"icd/cm.json":     diagnosesJSON,
		"icd/pcs.json":    proceduresJSON,
	}}
	src := NewS3SourceWithClient(client, "datasets")
	names := Names{Global: "icd/global.json", Diagnoses: "icd/cm.json", Procedures: "icd/pcs.json"}

	raw, err := NewJSONLoader(src, names, fastRetry).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, raw.Global, 2)
	assert.Equal(t, "datasets", *client.last.Bucket)
}

func TestS3Source_Errors(t *testing.T) {
	src := NewS3SourceWithClient(&fakeS3{objects: map[string]string{}}, "datasets")
	calls := 0
	err := resilience.Retry(context.Background(), "open", fastRetry, func(ctx context.Context) error {
		calls++
		_, err := src.Open(ctx, "nope.json")
		return err
	})
	var noKey *types.NoSuchKey
	assert.ErrorAs(t, err, &noKey)
	assert.Contains(t, err.Error(), "s3://datasets/nope.json")
	assert.Equal(t, 1, calls, "missing keys are not retried")

	throttled := errors.New("SlowDown")
	src = NewS3SourceWithClient(&fakeS3{err: throttled}, "datasets")
	_, err = src.Open(context.Background(), "x.json")
	assert.ErrorIs(t, err, throttled)
}

func TestNewS3Source_RequiresBucket(t *testing.T) {
	_, err := NewS3Source(context.Background(), config.S3Config{})
	assert.ErrorContains(t, err, "bucket is required")
}

func TestPostgresQueries_QuoteTableNames(t *testing.T) {
	assert.Equal(t, `SELECT code, title FROM "icd10_int" ORDER BY position`, globalQuery("icd10_int"))
	assert.Equal(t, `SELECT code, long_description FROM "evil""; DROP TABLE x; --" ORDER BY position`,
		usQuery(`evil"; DROP TABLE x; --`))
}
