package replay

import "github.com/prism-node/prism/internal/did"

// Document projects a finalized, non-deactivated DID state into its W3C DID
// Document per spec.md §4.2.6. Callers must check IsDeactivated first: a
// deactivated DID's resolution result omits the document entirely.
func (s DidState) Document() did.Document {
	return did.BuildDocument(did.DocumentInput{
		ID:         s.Did,
		Context:    s.Context,
		PublicKeys: s.PublicKeys,
		Services:   s.Services,
	})
}
