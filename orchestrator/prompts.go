package orchestrator

// Prompts are text/template sources rendered with util.RenderTemplate. Every
// template sees .Task, .Team (name: description lines), .Names, .Facts and
// .Plan.
type Prompts struct {
	Facts       string
	Plan        string
	Ledger      string
	Judgment    string
	UpdateFacts string
	UpdatePlan  string
	FinalAnswer string
}

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() Prompts {
	return Prompts{
		Facts:       factsPrompt,
		Plan:        planPrompt,
		Ledger:      ledgerPrompt,
		Judgment:    judgmentPrompt,
		UpdateFacts: updateFactsPrompt,
		UpdatePlan:  updatePlanPrompt,
		FinalAnswer: finalAnswerPrompt,
	}
}

func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if p.Facts == "" {
		p.Facts = d.Facts
	}
	if p.Plan == "" {
		p.Plan = d.Plan
	}
	if p.Ledger == "" {
		p.Ledger = d.Ledger
	}
	if p.Judgment == "" {
		p.Judgment = d.Judgment
	}
	if p.UpdateFacts == "" {
		p.UpdateFacts = d.UpdateFacts
	}
	if p.UpdatePlan == "" {
		p.UpdatePlan = d.UpdatePlan
	}
	if p.FinalAnswer == "" {
		p.FinalAnswer = d.FinalAnswer
	}
	return p
}

const factsPrompt = `You are preparing to work on the following request:

{{.Task}}

Before starting, survey what is known. Reply with four short sections:
1. GIVEN OR VERIFIED FACTS stated in the request
2. FACTS TO LOOK UP and where they might be found
3. FACTS TO DERIVE by reasoning or computation
4. EDUCATED GUESSES drawn from memory or intuition

Do not plan yet and do not answer the request.`

const planPrompt = `Our team for the request "{{.Task}}":

{{.Team}}

Known facts:
{{.Facts}}

Write a short bullet plan for solving the request with this team. Not every
member has to take part. Reply with the plan only.`

const ledgerPrompt = `We are working on the following request:

{{.Task}}

Team:
{{.Team}}

Facts:
{{.Facts}}

Plan:
{{.Plan}}`

const judgmentPrompt = `Review the conversation about the request:

{{.Task}}

Team members: {{join ", " .Names}}

Current plan:
{{.Plan}}

Answer in JSON with these fields:
- is_request_satisfied: true only when the request is fully addressed
- is_progress_being_made: false when the team is looping or not getting closer
- next_speaker: one of {{join ", " .Names}}
- instruction: what next_speaker should do now, phrased as a direct request`

const updateFactsPrompt = `We are working on the request:

{{.Task}}

Progress has stalled. Here are the facts as previously surveyed:

{{.Facts}}

Rewrite the fact sheet using what the conversation so far has taught us.
Move verified items into GIVEN OR VERIFIED FACTS and add at least one new
EDUCATED GUESS, even if it proves wrong later. Reply with the fact sheet only.`

const updatePlanPrompt = `The previous plan did not lead to progress:

{{.Plan}}

Team:
{{.Team}}

Explain in one sentence what went wrong, then write a new short bullet plan
for the same team that avoids repeating the mistake.`

const finalAnswerPrompt = `We have finished working on the request:

{{.Task}}

Using the conversation above, write the final answer for the person who
asked. Reply with the answer only.`
