package prompt

import (
	"strings"
	"text/template"
)

// Every kind shares one layout: title, context, task, fenced content, output
// requirements. Only the wording differs.
var layout = template.Must(template.New("prompt").Parse(`# {{.Title}}

## Context
{{.Context}}

## Task
{{.Task}}

## Content
{{.Fence}}
{{.Content}}
{{.Fence}}

## Output requirements
{{.Output}}

{{.Closing}}
`))

type layoutData struct {
	Title   string
	Context string
	Task    string
	Fence   string
	Content string
	Output  string
	Closing string
}

type kindText struct {
	title       string
	defaultTask string
	output      string
	closing     string
}

var templates = map[Kind]kindText{
	KnowledgeExtraction: {
		title: "Knowledge Extraction",
		defaultTask: `Using the context above, extract the knowledge points, entities and relations in the text. Focus on:
1. Definitions of core concepts
2. Hierarchical relations between entities
3. Attributes and characteristics
4. Processes and methods
Present the results in a structured format.`,
		output: `1. Clear structure with an explicit hierarchy
2. Include entities, relations and attributes
3. Note the source and a confidence for each item
4. Use JSON so the result can be processed further`,
		closing: "Begin the analysis:",
	},
	EntityRelation: {
		title: "Entity and Relation Extraction",
		defaultTask: `Identify the entities in the text and the relations between them, including:
1. Entity types (concept, person, place, time, ...)
2. Entity attributes
3. Relations between entities (belongs to, contains, depends on, causes, ...)
Output relations as (subject, relation, object) triples.`,
		output: "Use this shape:\n```json\n" + `{
  "entities": [
    {"id": "E1", "type": "concept", "name": "entity name", "attributes": {}}
  ],
  "relations": [
    {"subject": "E1", "predicate": "relation type", "object": "E2", "confidence": 0.9}
  ]
}` + "\n```",
		closing: "Begin the analysis:",
	},
	ConceptUnderstanding: {
		title: "Concept Understanding",
		defaultTask: `Study the core concepts in the text and explain:
1. The definition and meaning of each concept
2. Its scope and concrete instances
3. Its relation to other concepts
4. Its place in the wider body of knowledge`,
		output: `Explain your understanding in detail:
1. Core concept definitions
2. Features and attributes of each concept
3. Relations to other concepts
4. Practical applications`,
		closing: "Begin the analysis:",
	},
	QAGeneration: {
		title: "Question and Answer Generation",
		defaultTask: `Based on the text and its context, write high quality question and answer pairs:
1. Factual questions
2. Comprehension questions
3. Application questions
4. Analytical questions
Every answer must be supported by the text.`,
		output: "Use this shape:\n```json\n" + `{
  "qa_pairs": [
    {
      "question": "question text",
      "answer": "answer text",
      "type": "factual|comprehension|application|analytical",
      "difficulty": "easy|medium|hard"
    }
  ]
}` + "\n```",
		closing: "Begin generating:",
	},
	Summarization: {
		title: "Summarization",
		defaultTask: `Write a concise and accurate summary of this text, highlighting:
1. The main points
2. Key information
3. How it connects to the surrounding context
4. Important details`,
		output: `Produce a structured summary:
1. Main points
2. Key facts
3. Connection to the context
4. Important conclusions`,
		closing: "Begin the summary:",
	},
}

// fenceFor returns a backtick fence longer than any backtick run in content.
func fenceFor(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}
