package rag

import (
	"fmt"
	"strings"

	"paperqa/internal/llm"
)

const draftSystemPrompt = `You are a research assistant answering questions about academic papers.
Answer using only the numbered passages supplied by the user. Cite every claim with the
passage handle in square brackets, for example [c1] or [c2][c3]. If the passages do not
contain the answer, say so plainly instead of guessing.

Reply with a single JSON object and nothing else:
{"answer": "<answer text with inline citations>", "citations": ["c1", "c2"]}`

const checkSystemPrompt = `You check whether an answer is supported by its cited passages.
Split the answer into sentences. Count how many sentences are directly supported by the
passages. Quote each unsupported sentence verbatim and say briefly why the passages do
not support it.

Reply with a single JSON object and nothing else:
{"supported": <int>, "total": <int>, "unsupported": [{"text": "<sentence>", "reason": "<why>"}, ...]}`

func formatEvidence(b *strings.Builder, ev []Evidence) {
	for _, e := range ev {
		p := e.Candidate.Passage
		fmt.Fprintf(b, "[%s] (document: %s", e.Handle, p.DocumentID)
		if p.Title != "" {
			fmt.Fprintf(b, ", title: %s", p.Title)
		}
		fmt.Fprintf(b, ", page %d, section: %s)\n%s\n\n", p.PageNumber, p.SectionType, e.Text)
	}
}

func draftMessages(question string, ev []Evidence) []llm.Message {
	var b strings.Builder
	b.WriteString("Passages:\n\n")
	formatEvidence(&b, ev)
	fmt.Fprintf(&b, "Question: %s", question)

	return []llm.Message{
		{Role: "system", Content: draftSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func checkMessages(answer string, cited []Evidence) []llm.Message {
	var b strings.Builder
	b.WriteString("Cited passages:\n\n")
	formatEvidence(&b, cited)
	fmt.Fprintf(&b, "Answer:\n%s", answer)

	return []llm.Message{
		{Role: "system", Content: checkSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}
