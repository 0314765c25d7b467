package summary

import (
	"fmt"
	"strings"
)

const systemPrompt = "You write structured minutes of corporate meetings. Reply with a single JSON object and nothing else."

const instructions = `Read the meeting transcript below and produce detailed minutes.

RULES:
1. meeting_title: a short descriptive title.
2. context_and_objective: two to four sentences covering why the meeting happened and what it aimed for.
3. participants: names mentioned in the transcript. Never invent names. If nobody is identified use ["%s"].
4. main_points: several small, specific topics. Each has a subtitle and a list of points discussed. Prefer many focused topics over a few large ones.
5. action_items: concrete tasks. description starts with a verb. owner is the person named, or "%s". due is the deadline mentioned, or "%s". done is false.
6. decisions: decisions that were actually taken.
7. next_steps: what happens after the meeting.
8. Use empty arrays when there is nothing to report. Do not add fields.
%s
EXACT FORMAT:
{
  "meeting_title": "...",
  "context_and_objective": "...",
  "participants": ["..."],
  "main_points": [{"subtitle": "...", "points": ["...", "..."]}],
  "action_items": [{"description": "...", "owner": "...", "due": "...", "done": false}],
  "decisions": ["..."],
  "next_steps": ["..."]
}

Meeting transcript:
%s`

// buildPrompt renders the user message for one transcript.
func buildPrompt(transcript, language string) string {
	lang := ""
	if language != "" {
		lang = fmt.Sprintf("9. Write every value in %s.\n", language)
	}
	return fmt.Sprintf(instructions, NoParticipants, DefaultOwner, DefaultDue, lang, strings.TrimSpace(transcript))
}
