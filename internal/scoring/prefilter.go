package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/pathfinder/matchmaker/internal/db"
)

// similarityFloor drops pairs with negligible lexical overlap
const similarityFloor = 0.01

// fallbackPairCap bounds the deterministic fallback when no vocabulary can
// be built, so an empty-text corpus cannot explode into a full cross product
const fallbackPairCap = 1000

// PreFilter selects candidate researcher-opportunity pairs by TF-IDF cosine
// similarity over their text profiles. For each researcher the top-N most
// similar opportunities above the floor are kept. When no usable vocabulary
// exists the first top-N opportunities are paired with every researcher,
// capped, so the pipeline still produces work for the judge to rank.
func PreFilter(researchers []db.ResearcherProfile, opportunities []db.OpportunityProfile, topN int) []Pair {
	if len(researchers) == 0 || len(opportunities) == 0 {
		return nil
	}
	if topN <= 0 {
		topN = 20
	}

	rDocs := make([][]string, len(researchers))
	for i, r := range researchers {
		rDocs[i] = tokenize(researcherDoc(&r))
	}
	oDocs := make([][]string, len(opportunities))
	for i, o := range opportunities {
		oDocs[i] = tokenize(o.Title + " " + o.Synopsis)
	}

	corpus := newCorpus(append(append([][]string{}, rDocs...), oDocs...))
	if corpus.empty() {
		return fallbackPairs(researchers, opportunities, topN)
	}

	rVecs := make([]map[string]float64, len(rDocs))
	for i, doc := range rDocs {
		rVecs[i] = corpus.vector(doc)
	}
	oVecs := make([]map[string]float64, len(oDocs))
	for i, doc := range oDocs {
		oVecs[i] = corpus.vector(doc)
	}

	var pairs []Pair
	for i, r := range researchers {
		scored := make([]Pair, 0, len(opportunities))
		for j, o := range opportunities {
			sim := cosine(rVecs[i], oVecs[j])
			if sim > similarityFloor {
				scored = append(scored, Pair{
					ResearcherID:  r.ID,
					OpportunityID: o.ID,
					TFIDFScore:    math.Round(sim*10000) / 10000,
				})
			}
		}
		sort.SliceStable(scored, func(a, b int) bool {
			return scored[a].TFIDFScore > scored[b].TFIDFScore
		})
		if len(scored) > topN {
			scored = scored[:topN]
		}
		pairs = append(pairs, scored...)
	}
	return pairs
}

// fallbackPairs pairs every researcher with the first topN opportunities
func fallbackPairs(researchers []db.ResearcherProfile, opportunities []db.OpportunityProfile, topN int) []Pair {
	if topN > len(opportunities) {
		topN = len(opportunities)
	}
	var pairs []Pair
	for _, r := range researchers {
		for _, o := range opportunities[:topN] {
			pairs = append(pairs, Pair{ResearcherID: r.ID, OpportunityID: o.ID})
			if len(pairs) >= fallbackPairCap {
				return pairs
			}
		}
	}
	return pairs
}

// researcherDoc concatenates the text fields that describe a researcher
func researcherDoc(r *db.ResearcherProfile) string {
	parts := []string{
		r.Summary,
		r.KeywordText,
		strings.Join(r.Keywords, " "),
		strings.Join(r.ExpandedKeywords, " "),
		r.Position,
	}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// stopWords are excluded from the vocabulary
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "which": {}, "will": {},
	"with": {},
}

// tokenize lowercases and splits text into alphanumeric terms, dropping
// stop words and single characters
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// corpus holds document frequencies for IDF weighting. Terms that appear in
// fewer than two documents or in nearly every document carry no signal and
// are excluded.
type corpus struct {
	docCount int
	idf      map[string]float64
}

func newCorpus(docs [][]string) *corpus {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, term := range doc {
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}

	c := &corpus{docCount: len(docs), idf: make(map[string]float64)}
	maxDF := int(math.Ceil(0.95 * float64(len(docs))))
	for term, count := range df {
		if count < 2 || count > maxDF {
			continue
		}
		c.idf[term] = math.Log(float64(1+c.docCount)/float64(1+count)) + 1
	}
	return c
}

func (c *corpus) empty() bool {
	return len(c.idf) == 0
}

// vector builds an L2-normalized TF-IDF vector for a document
func (c *corpus) vector(doc []string) map[string]float64 {
	tf := make(map[string]float64)
	for _, term := range doc {
		if _, ok := c.idf[term]; ok {
			tf[term]++
		}
	}

	var norm float64
	for term := range tf {
		tf[term] *= c.idf[term]
		norm += tf[term] * tf[term]
	}
	if norm == 0 {
		return tf
	}
	norm = math.Sqrt(norm)
	for term := range tf {
		tf[term] /= norm
	}
	return tf
}

// cosine computes the dot product of two normalized vectors
func cosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for term, av := range a {
		if bv, ok := b[term]; ok {
			sum += av * bv
		}
	}
	return sum
}
