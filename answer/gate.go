package answer

import (
	"log"

	"ragkb/store"
)

// RefusalText is returned verbatim, with no citations, whenever retrieval
// finds nothing close enough to the question.
const RefusalText = "I could not find anything relevant to that question in the indexed documents."

// PassesGate reports whether retrieved hits are usable for answering. The
// best (first) hit must be within maxDistance by cosine distance. This
// check runs before any answerer sees the retrieved text.
func PassesGate(hits []store.SearchHit, maxDistance float64) bool {
	if len(hits) == 0 {
		return false
	}
	if hits[0].Distance > maxDistance {
		log.Printf("[GATE] best distance %.4f above threshold %.2f, refusing", hits[0].Distance, maxDistance)
		return false
	}
	return true
}
