package rag

import "strings"

// chunkDelimiter separates retrieved chunk texts inside the context slot so
// the model can tell excerpt boundaries apart.
const chunkDelimiter = "\n\n---\n\n"

// promptHeader is the fixed instruction preceding every generation request.
// It tells the model to ground its answer in the supplied context, to fall
// back to general knowledge for unrelated questions, and to admit ignorance
// rather than fabricate. It is deliberately not user-configurable.
const promptHeader = `You are a helpful assistant.

If the question is about the uploaded document, use the context below.
If the question is unrelated, answer normally using your general knowledge.
If you truly do not know the answer, say "I don't know".`

// AssemblePrompt merges retrieved chunks and the user question into a single
// generation prompt. Chunk texts are kept verbatim, in the descending
// similarity order the retriever produced. An empty chunk list still yields
// a valid prompt with an empty context slot — the header's fallback
// instruction covers that case.
func AssemblePrompt(chunks []ScoredChunk, question string) string {
	texts := make([]string, len(chunks))
	for i, sc := range chunks {
		texts[i] = sc.Chunk.Text
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nContext:\n")
	b.WriteString(strings.Join(texts, chunkDelimiter))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
