package answer

import "strings"

// systemPrompt is sent with every question.
const systemPrompt = "You are a senior astrophysics research assistant.\n" +
	"You MUST follow these rules:\n" +
	"- Output English only.\n" +
	"- Use only the provided evidence.\n" +
	"- Do not hallucinate.\n" +
	"- Every factual claim must have a citation.\n" +
	"- Use citation formats exactly:\n" +
	"  - Text: [doc_id:page:chunk_id]\n" +
	"  - Figure: [doc_id:page:figure_id]\n" +
	"- If evidence is insufficient, explicitly say so.\n"

// userPrompt fills the question template.
func userPrompt(question, textEvidence, figureEvidence string) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nEvidence (text chunks):\n")
	b.WriteString(textEvidence)
	b.WriteString("\n\nEvidence (figures):\n")
	b.WriteString(figureEvidence)
	b.WriteString("\n\n" +
		"Write the answer with this format:\n" +
		"1) Final answer\n" +
		"2) Evidence list (bulleted, each bullet includes citations)\n" +
		"3) Relevant figures (caption + explanation + citations)\n")
	return b.String()
}
