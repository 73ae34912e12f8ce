package adapters

import (
	"fmt"
	"strings"

	"github.com/lyzr/refinery/cmd/refiner/models"
)

const generatorSystem = `You write short social media posts. Output only the post text: no title, no preamble, no hashtags unless asked.`

const scorerSystem = `You are an engagement analyst. You judge posts you did not write. Output only JSON.`

func voiceLine(profile string) string {
	if strings.TrimSpace(profile) == "" {
		return "Voice: plain, direct, first person."
	}
	return "Voice profile: " + profile
}

func styleLine(style string) string {
	if strings.TrimSpace(style) == "" {
		return "Style: conversational."
	}
	return "Style: " + style
}

func buildGeneratePrompt(req GenerateRequest, hook models.Hook) string {
	return fmt.Sprintf(`Write a post about: %s

%s
%s
Opening: %s

Rules:
- 80 to 200 words
- Short paragraphs, one idea each
- End with a line that invites a reply`,
		req.Topic, styleLine(req.Style), voiceLine(req.VoiceProfile), hook.Instruction)
}

func buildRewritePrompt(req RewriteRequest, hook models.Hook) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Revise this post about %q.\n\n", req.Topic)
	fmt.Fprintf(&b, "%s\n%s\n", styleLine(req.Style), voiceLine(req.VoiceProfile))
	if hook.Instruction != "" {
		fmt.Fprintf(&b, "Keep this opening pattern: %s\n", hook.Instruction)
	}

	if len(req.Suggestions) > 0 {
		b.WriteString("\nAn independent reviewer asked for:\n")
		for _, s := range req.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nThe author adds: %s\n", req.Feedback)
	}

	fmt.Fprintf(&b, "\nCurrent post:\n%s\n\nReturn only the revised post.", req.Content)
	return b.String()
}

func buildScorePrompt(content string) string {
	return fmt.Sprintf(`Predict how well this post will perform with a professional audience.

Output ONLY valid JSON with this exact structure (no markdown, no explanation):
{"score": 72, "suggestions": ["suggestion 1", "suggestion 2"]}

Rules:
- score: number 0-100, where 85+ means ready to publish
- suggestions: 1 to 4 concrete edits, most important first
- Judge the opening line hardest

Post:
%s`, content)
}
