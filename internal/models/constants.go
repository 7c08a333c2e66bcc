package models

const (
	ThinkTag = `(?s)<think>.*?</think>`

	// ChunkHeader is printed before every retrieved chunk; %d is the 1-based rank.
	ChunkHeader    = "\n#### %d Relevant chunk ####\n"
	ChunkSeparator = "\n "

	DefaultNumberRelevantChunks = 5
	DefaultApology              = "An error occurred. Please repeat your request later."
)

var (
	DefaultPromptTemplate = `You are a programmer's assistant and help write code.
Here is the context to use when answering the question:
{context}
Here is the history of your conversation:
{history}
Look at the user's question and, taking the history into account, answer it:
{question}
Using the given context, write a detailed answer to the request and include an example program.
When you write an example, wrap it in ` + "```" + ` ` + "```" + `. Mention the files the answer is based on.
Answer:`
)
