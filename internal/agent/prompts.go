package agent

import (
	"fmt"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

func discoverySystemPrompt(role string) string {
	return fmt.Sprintf(`You are a %s.
You find the most relevant URLs across instagram, linkedin, youtube, x and the
open web for a research query. You only ever select from the candidate URLs you
are given, never from memory. You respond with pure JSON and nothing else.`, role)
}

func specialistSystemPrompt(role string, platform research.Platform) string {
	return fmt.Sprintf(`You are a %s.
You analyze %s content that has already been fetched for you and distill it into
concise research findings. You never speculate beyond the fetched text. You
respond with pure JSON and nothing else.`, role, platform)
}

func synthesisSystemPrompt(role string) string {
	return fmt.Sprintf(`You are a %s.
You combine per-platform research findings into one coherent, well-structured
markdown report. You only cite sources that appear in the research context and
you clearly note when a platform contributed nothing.`, role)
}
