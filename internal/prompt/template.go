package prompt

import "strings"

// NoAnswer is what the model is told to say when the context lacks the answer.
const NoAnswer = "I don't know."

const instructions = "You are an assistant that answers questions using ONLY the CONTEXT below. " +
	"If the answer is not in the context, respond: '" + NoAnswer + "' " +
	"When answering, mention the episode title and podcast name, include relevant quotes, " +
	"and cite the episode URL if citing specifics. Do not invent information."

// Build returns the answer prompt for question over an assembled context.
func Build(question, context string) string {
	var sb strings.Builder
	sb.Grow(len(instructions) + len(context) + len(question) + 64)
	sb.WriteString(instructions)
	sb.WriteString("\n\nCONTEXT:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nUSER QUESTION:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:\n")
	return sb.String()
}
