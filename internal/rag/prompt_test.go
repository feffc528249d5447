package rag

import (
	"strings"
	"testing"
)

func TestAssemblePrompt_ContainsChunksAndQuestion(t *testing.T) {
	t.Parallel()

	chunks := []ScoredChunk{
		{Chunk: Chunk{Index: 0, Text: "Cats are mammals. Dogs are mammals too."}, Score: 0.9},
	}
	prompt := AssemblePrompt(chunks, "What are cats?")

	if !strings.Contains(prompt, "Cats are mammals. Dogs are mammals too.") {
		t.Error("prompt missing chunk text")
	}
	if !strings.Contains(prompt, "Question: What are cats?") {
		t.Error("prompt missing question")
	}
	if !strings.HasSuffix(prompt, "Answer:") {
		t.Error("prompt must end with the answer cue")
	}
}

func TestAssemblePrompt_FixedInstruction(t *testing.T) {
	t.Parallel()

	prompt := AssemblePrompt(nil, "anything")

	for _, want := range []string{
		"use the context below",
		"answer normally using your general knowledge",
		`say "I don't know"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing instruction fragment %q", want)
		}
	}
}

func TestAssemblePrompt_EmptyChunksStillValid(t *testing.T) {
	t.Parallel()

	prompt := AssemblePrompt(nil, "Who won the 1998 world cup?")

	if prompt == "" {
		t.Fatal("expected non-empty prompt")
	}
	if !strings.Contains(prompt, "Context:\n") {
		t.Error("prompt missing context slot")
	}
	if !strings.Contains(prompt, "Question: Who won the 1998 world cup?") {
		t.Error("prompt missing question")
	}
}

func TestAssemblePrompt_PreservesRetrievalOrder(t *testing.T) {
	t.Parallel()

	chunks := []ScoredChunk{
		{Chunk: Chunk{Index: 3, Text: "most relevant"}, Score: 0.9},
		{Chunk: Chunk{Index: 0, Text: "less relevant"}, Score: 0.5},
	}
	prompt := AssemblePrompt(chunks, "q")

	first := strings.Index(prompt, "most relevant")
	second := strings.Index(prompt, "less relevant")
	if first < 0 || second < 0 || first > second {
		t.Errorf("chunks out of order: positions %d, %d", first, second)
	}
	if !strings.Contains(prompt, chunkDelimiter) {
		t.Error("expected delimiter between chunks")
	}
}
