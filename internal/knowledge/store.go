// Package knowledge loads the institutional document corpus and answers
// retrieval queries for the call pipeline. Documents are loaded once at
// startup and are read-only afterwards, so a single Store is shared across
// all session workers without locking.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Document is one knowledge base entry.
type Document struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Result pairs a document with its relevance score.
type Result struct {
	Document *Document
	Score    float64
}

// RetrievalResult is ordered highest score first; may be empty.
type RetrievalResult []Result

// LoadError reports that no documents could be loaded. It is logged loudly
// by the caller but never aborts the process.
type LoadError struct {
	Dir string
	Err error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("knowledge: no documents loaded from %s: %v", e.Dir, e.Err)
	}
	return fmt.Sprintf("knowledge: no documents loaded from %s", e.Dir)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Embedder produces dense vectors for texts. Implementations wrap an
// OpenAI-compatible embeddings endpoint.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// topKCap bounds retrieval fan-out regardless of what callers ask for.
const topKCap = 5

// fallbackText covers the questions callers ask most, so the agent is not
// mute when the corpus directory is missing or empty.
const fallbackText = `The Institute of Space Technology offers BS programs in Aerospace Engineering, Avionics Engineering, Electrical Engineering, Mechanical Engineering, Materials Science, Computer Science, Software Engineering, Artificial Intelligence, Data Science, Space Science, Mathematics, Physics and Biotechnology.
Approximate fee per semester: engineering programs 1 lakh 48 thousand rupees, materials science 1 lakh 42 thousand, computing programs 1 lakh 26 thousand, and science programs 1 lakh 2 thousand. One time admission charges are around 49 thousand rupees for all BS programs.
Admissions usually open in February and close at the end of June for the fall intake only. The merit list is announced around August and classes start in September. Engineering merit is typically 10 percent matric, 40 percent FSC and 50 percent entry test.
The admissions office contact number is 051-9075100 and the email address is admissions@ist.edu.pk.`

// Store holds the corpus plus per-document token tables and, when the dense
// strategy initialized successfully, one embedding vector per document.
type Store struct {
	docs      []*Document
	docCounts []map[string]int
	docLens   []int

	embedder Embedder
	vectors  [][]float32

	fallbackOnly bool
}

// NewStore creates an empty store. embedder may be nil, which disables the
// dense strategy entirely.
func NewStore(embedder Embedder) *Store {
	return &Store{embedder: embedder}
}

// Loaded reports whether a real corpus is available. The embedded fallback
// document alone does not count; the health endpoint reports degraded then.
func (s *Store) Loaded() bool { return len(s.docs) > 0 && !s.fallbackOnly }

// Len returns the number of loaded documents.
func (s *Store) Len() int { return len(s.docs) }

// Add appends a document and its token table. Insertion order is the
// tie-break order for retrieval.
func (s *Store) Add(doc Document) {
	d := doc
	counts, n := tokenCounts(d.Text)
	s.docs = append(s.docs, &d)
	s.docCounts = append(s.docCounts, counts)
	s.docLens = append(s.docLens, n)
}

// Load reads the corpus from dir: every .txt file becomes one document
// (title derived from the filename) and an optional corpus.json may carry
// additional entries. Returns *LoadError when nothing loads.
func (s *Store) Load(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.seedFallback()
		return &LoadError{Dir: dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".txt":
			b, rerr := os.ReadFile(path)
			if rerr != nil {
				log.Warn().Err(rerr).Str("file", path).Msg("could not read knowledge file")
				continue
			}
			text := strings.TrimSpace(string(b))
			if text == "" {
				continue
			}
			s.Add(Document{Title: titleFromFilename(name), Text: text, Source: path})
		case ".json":
			if err := s.loadJSON(path); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("could not parse knowledge corpus file")
			}
		}
	}

	if len(s.docs) == 0 {
		s.seedFallback()
		return &LoadError{Dir: dir}
	}
	log.Info().Int("documents", len(s.docs)).Str("dir", dir).Msg("knowledge base loaded")

	s.buildIndex(ctx)
	return nil
}

// seedFallback installs the embedded document when nothing loaded from disk.
func (s *Store) seedFallback() {
	log.Warn().Msg("no knowledge documents on disk, using embedded fallback document")
	s.Add(Document{Title: "Key Admissions Information", Text: fallbackText, Source: "embedded:fallback"})
	s.fallbackOnly = true
}

type corpusFile struct {
	Documents []Document `json:"documents"`
}

func (s *Store) loadJSON(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cf corpusFile
	if err := json.Unmarshal(b, &cf); err != nil {
		// Accept a bare array as well.
		var docs []Document
		if aerr := json.Unmarshal(b, &docs); aerr != nil {
			return err
		}
		cf.Documents = docs
	}
	for _, d := range cf.Documents {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		if d.Source == "" {
			d.Source = path
		}
		s.Add(d)
	}
	return nil
}

// buildIndex embeds the corpus for the dense strategy. Any failure degrades
// the store to keyword-only retrieval without surfacing an error.
func (s *Store) buildIndex(ctx context.Context) {
	if s.embedder == nil || len(s.docs) == 0 {
		return
	}
	texts := make([]string, len(s.docs))
	for i, d := range s.docs {
		texts[i] = d.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(s.docs) {
		log.Warn().Err(err).Msg("vector index unavailable, retrieval degraded to keyword search")
		s.vectors = nil
		return
	}
	s.vectors = vecs
	log.Info().Int("documents", len(vecs)).Msg("vector index built")
}

// Retrieve returns the topK most relevant documents for query, highest score
// first. The dense strategy runs when the index is available; any failure on
// that path falls back to keyword scoring, so Retrieve never returns an
// error to the call path.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) RetrievalResult {
	if topK <= 0 || topK > topKCap {
		topK = topKCap
	}
	if len(s.docs) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	if s.vectors != nil {
		if res, err := s.denseRetrieve(ctx, query, topK); err == nil {
			return res
		} else {
			log.Warn().Err(err).Msg("dense retrieval failed, falling back to keyword search")
		}
	}
	return s.keywordRetrieve(query, topK)
}

func titleFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}
