package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
)

const (
	DefaultMaxResults  = 5
	DefaultMaxExamples = 3
)

// Loader fetches the raw classifications. Retrying and source selection are
// the loader's business; a returned error is fatal to Init.
type Loader interface {
	Load(ctx context.Context) (*RawDatasets, error)
}

// Options bounds result sizes. Zero values fall back to the defaults.
type Options struct {
	MaxResults  int
	MaxExamples int
}

// Engine answers lookups over indexes built once by Init or Build. Until
// then every query returns an empty result. After the indexes are published
// nothing writes to them, so queries run concurrently without coordination.
type Engine struct {
	opts   Options
	logger *slog.Logger
	initMu sync.Mutex
	state  atomic.Pointer[indexes]
}

// indexes is the immutable, fully built query state. Records live in the
// three arenas; every index refers to them by position.
type indexes struct {
	global     []GlobalCode
	diagnoses  []USDiagnosis
	procedures []USProcedure

	globalCodeMap    map[string]int
	globalTokenIndex *index.Frozen[int]
	usChildrenIndex  map[string][]int
	proceduresIndex  *index.Frozen[int]

	builtIn time.Duration
}

// New returns an uninitialized Engine.
func New(opts Options) *Engine {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = DefaultMaxExamples
	}
	return &Engine{
		opts:   opts,
		logger: logger.WithComponent("lookup-engine"),
	}
}

// Init loads the datasets through loader and builds the indexes. It may
// succeed at most once; a failed Init leaves the engine unusable for
// queries and should be treated as fatal by the caller.
func (e *Engine) Init(ctx context.Context, loader Loader) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.state.Load() != nil {
		return apperrors.ErrAlreadyInitialized
	}

	e.logger.Info("loading datasets")
	start := time.Now()
	raw, err := loader.Load(ctx)
	if err != nil {
		e.logger.Error("dataset load failed", "error", err)
		return fmt.Errorf("%w: %w", apperrors.ErrDatasetLoad, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatasetLoad, err)
	}
	e.logger.Info("datasets loaded",
		"global", len(raw.Global),
		"us_cm", len(raw.Diagnoses),
		"us_pcs", len(raw.Procedures),
		"load_ms", time.Since(start).Milliseconds(),
	)
	e.publish(build(raw.Normalize()))
	return nil
}

// Build indexes already normalised datasets, skipping the load step.
func (e *Engine) Build(d Datasets) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.state.Load() != nil {
		return apperrors.ErrAlreadyInitialized
	}
	e.publish(build(d))
	return nil
}

func (e *Engine) publish(st *indexes) {
	e.state.Store(st)
	e.logger.Info("lookup indexes built",
		"global", len(st.global),
		"us_cm", len(st.diagnoses),
		"us_pcs", len(st.procedures),
		"global_terms", st.globalTokenIndex.Terms(),
		"procedure_terms", st.proceduresIndex.Terms(),
		"diagnosis_buckets", len(st.usChildrenIndex),
		"build_ms", st.builtIn.Milliseconds(),
	)
}

// Ready reports whether the indexes have been built.
func (e *Engine) Ready() bool {
	return e.state.Load() != nil
}

func build(d Datasets) *indexes {
	start := time.Now()
	st := &indexes{
		global:          slices.Clone(d.Global),
		diagnoses:       slices.Clone(d.Diagnoses),
		procedures:      slices.Clone(d.Procedures),
		globalCodeMap:   make(map[string]int, len(d.Global)),
		usChildrenIndex: make(map[string][]int),
	}

	globalTokens := index.NewMemoryIndex[int]()
	for i, g := range st.global {
		st.globalCodeMap[g.Code] = i
		globalTokens.Insert(i, recordTerms(g.Title, g.Code))
	}
	for i, dx := range st.diagnoses {
		key := bucketKey(dx.Code)
		st.usChildrenIndex[key] = append(st.usChildrenIndex[key], i)
	}
	procTokens := index.NewMemoryIndex[int]()
	for i, p := range st.procedures {
		procTokens.Insert(i, recordTerms(p.Description, p.Code))
	}
	st.globalTokenIndex = globalTokens.Freeze()
	st.proceduresIndex = procTokens.Freeze()

	st.builtIn = time.Since(start)
	return st
}

// recordTerms is the tokenized text plus the lower-cased code, de-duplicated.
func recordTerms(text, code string) []string {
	terms := append(tokenizer.Tokenize(text), strings.ToLower(code))
	return tokenizer.Unique(terms)
}

// SearchCondition finds international categories whose title or code holds
// every query term and attaches the US billing codes beneath each one.
func (e *Engine) SearchCondition(query string) []ConditionResult {
	st := e.state.Load()
	results := make([]ConditionResult, 0)
	if st == nil {
		return results
	}
	terms := tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return results
	}
	for _, gi := range st.globalTokenIndex.Search(terms, e.opts.MaxResults) {
		g := st.global[gi]
		count, examples := st.children(g.Code, e.opts.MaxExamples)
		results = append(results, ConditionResult{
			Type:                TypeDiagnosis,
			Global:              g,
			BillingOptionsCount: count,
			BillingExamples:     examples,
		})
	}
	e.logger.Debug("condition search",
		"query", query,
		"terms", terms,
		"results", len(results),
	)
	return results
}

// children counts the diagnoses whose code starts with the full global code
// and returns up to maxExamples of them. The three-character bucket is only
// a coarse pre-filter.
func (st *indexes) children(code string, maxExamples int) (int, []USDiagnosis) {
	examples := make([]USDiagnosis, 0, maxExamples)
	count := 0
	for _, di := range st.usChildrenIndex[bucketKey(code)] {
		d := st.diagnoses[di]
		if !strings.HasPrefix(d.Code, code) {
			continue
		}
		count++
		if len(examples) < maxExamples {
			examples = append(examples, d)
		}
	}
	return count, examples
}

// SearchProcedure finds procedures whose description or code holds every
// query term.
func (e *Engine) SearchProcedure(query string) []ProcedureResult {
	st := e.state.Load()
	results := make([]ProcedureResult, 0)
	if st == nil {
		return results
	}
	terms := tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return results
	}
	for _, pi := range st.proceduresIndex.Search(terms, e.opts.MaxResults) {
		p := st.procedures[pi]
		results = append(results, ProcedureResult{
			Type:        TypeProcedure,
			Code:        p.Code,
			Description: p.Description,
		})
	}
	e.logger.Debug("procedure search",
		"query", query,
		"terms", terms,
		"results", len(results),
	)
	return results
}

// ConvertBillToReport maps a US billing code to its international reporting
// code: first by exact match, then by the part before the first dot.
func (e *Engine) ConvertBillToReport(usCode string) ReportResult {
	miss := ReportResult{OriginalBill: usCode, Status: StatusNoMapping}
	st := e.state.Load()
	if st == nil {
		return miss
	}
	gi, ok := st.globalCodeMap[usCode]
	if !ok {
		gi, ok = st.globalCodeMap[parentCode(usCode)]
	}
	if !ok {
		return miss
	}
	g := st.global[gi]
	return ReportResult{
		OriginalBill: usCode,
		Mapped:       true,
		ReportCode:   g.Code,
		ReportTitle:  g.Title,
		Status:       StatusValid,
	}
}

// Stats describes the built indexes.
type Stats struct {
	Ready             bool  `json:"ready"`
	GlobalCodes       int   `json:"global_codes"`
	Diagnoses         int   `json:"us_diagnoses"`
	Procedures        int   `json:"us_procedures"`
	GlobalTerms       int   `json:"global_terms"`
	ProcedureTerms    int   `json:"procedure_terms"`
	GlobalPostings    int   `json:"global_postings"`
	ProcedurePostings int   `json:"procedure_postings"`
	DiagnosisBuckets  int   `json:"diagnosis_buckets"`
	BuildMs           int64 `json:"build_ms"`
}

// Stats returns record and index sizes; all zero before the engine is ready.
func (e *Engine) Stats() Stats {
	st := e.state.Load()
	if st == nil {
		return Stats{}
	}
	return Stats{
		Ready:             true,
		GlobalCodes:       len(st.global),
		Diagnoses:         len(st.diagnoses),
		Procedures:        len(st.procedures),
		GlobalTerms:       st.globalTokenIndex.Terms(),
		ProcedureTerms:    st.proceduresIndex.Terms(),
		GlobalPostings:    st.globalTokenIndex.Postings(),
		ProcedurePostings: st.proceduresIndex.Postings(),
		DiagnosisBuckets:  len(st.usChildrenIndex),
		BuildMs:           st.builtIn.Milliseconds(),
	}
}
