package steps

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const promptTemplates = `
{{define "classify.system"}}You group community chat messages into conversation threads and decide whether each thread holds information worth adding to the {{.Domain}} documentation.
Allowed categories: {{join ", " .Categories}}. Use "{{.NoDocValue}}" for chatter, greetings, spam and anything already obvious.
For documentation-relevant threads, write a one-sentence summary and a semantic search query that would find the documentation page to update.
Only use message ids that appear in the input. A message belongs to at most one thread.{{end}}

{{define "classify.user"}}Messages:
{{range .Messages}}[{{.ID}}] {{.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}} {{.SenderID}}{{with .Topic}} #{{.}}{{end}}: {{.Content | trunc 2000}}
{{end}}{{end}}

{{define "generate.system"}}You are a technical writer maintaining the {{.Domain}} documentation{{with .DocsBasePath}} under {{.}}{{end}}.
Given a conversation thread and the most relevant existing pages, propose concrete documentation changes.
Each proposal targets one page path relative to the documentation root and contains ready-to-merge Markdown.
Propose at most {{.MaxProposals}} changes. Propose nothing if the existing documentation already covers the thread.{{end}}

{{define "generate.user"}}Thread category: {{.Thread.Category}}
Summary: {{default "(none)" .Thread.Summary}}

Conversation:
{{range .Messages}}- {{.SenderID}}: {{.Content | trunc 2000}}
{{end}}{{if .Context}}
Surrounding messages:
{{range .Context}}- {{.SenderID}}: {{.Content | trunc 500}}
{{end}}{{end}}{{if .Docs}}
Existing documentation:
{{range .Docs}}### {{.FilePath}}{{with .Title}} ({{.}}){{end}} similarity {{printf "%.2f" .Similarity}}
{{.Excerpt}}
{{end}}{{else}}
No existing page matched; propose a new page if warranted.
{{end}}{{end}}

{{define "validate.system"}}You review proposed documentation changes for accuracy, clarity and fitness for the target page. Reply valid=false only for proposals that are wrong, unsafe, off-topic or unreadable, and list the issues.{{end}}

{{define "validate.user"}}Target page: {{.Page}}{{with .Section}}
Section: {{.}}{{end}}
Update type: {{.UpdateType}}

{{.Content}}{{end}}

{{define "condense.system"}}You shorten documentation text without losing facts, commands, configuration keys or warnings. Keep Markdown structure. Stay under {{.MaxLength}} characters.{{end}}

{{define "condense.user"}}{{if gt (len .Parts) 1}}Merge these {{len .Parts}} proposed changes to {{.Page}} into one coherent change:
{{range $i, $p := .Parts}}
--- change {{add1 $i}} ---
{{$p}}
{{end}}{{else}}Condense this proposed change to {{.Page}}:

{{index .Parts 0}}{{end}}{{end}}

{{define "condense.retry"}}That is {{.Length}} characters. Shorten it to under {{.MaxLength}} characters.{{end}}

{{define "review.system"}}You enforce the documentation ruleset below. Decide "accept" when a proposal follows every rule, "flag" when a human should look at it, and "reject" when it breaks a rule outright. Explain the decision in one or two sentences.

Ruleset:
{{.Ruleset}}{{end}}

{{define "review.user"}}Page: {{.Page}}{{with .Section}}
Section: {{.}}{{end}}
Update type: {{.UpdateType}}
Reasoning: {{default "(none)" .Reasoning}}

{{.Content}}{{end}}
`

var prompts = template.Must(template.New("prompts").
	Option("missingkey=error").
	Funcs(sprig.TxtFuncMap()).
	Parse(promptTemplates))

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
