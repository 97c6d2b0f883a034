package pipeline

import (
	"fmt"
	"strings"
)

// textSystemPrompt frames the text generator as a workplace meme writer.
const textSystemPrompt = "You are a creative meme generator for workplace morale. " +
	"Generate short, witty, and appropriate meme text that would work well " +
	"with popular meme formats. Keep it professional yet fun."

const imageBaseStyle = "internet meme style, bold text overlay, high contrast, "

var moodStyles = map[Mood]string{
	MoodFunny:        "humorous, lighthearted, cartoonish, bright colors",
	MoodSarcastic:    "deadpan expression, muted colors, ironic situation",
	MoodWholesome:    "warm, friendly, positive vibes, soft lighting",
	MoodMotivational: "inspiring, energetic, success-oriented, dynamic pose",
	MoodRelatable:    "everyday situation, realistic, 'this is so me' feeling",
	MoodAngry:        "exaggerated frustration, dramatic lighting, comic rage",
}

var topicScenes = map[string]string{
	"coding":    "developer at computer, multiple monitors, coffee cup, late night coding",
	"meetings":  "conference room, people around table, video call screen, presentation",
	"coffee":    "office coffee machine, tired employee, morning routine, coffee cup",
	"deadlines": "stressed worker, clock showing time pressure, papers scattered",
	"debugging": "frustrated programmer, error messages on screen, rubber duck",
	"teamwork":  "collaborative workspace, people working together, brainstorming",
}

// buildTextPrompt returns the user prompt for text generation.
func buildTextPrompt(topic string, mood Mood) string {
	return fmt.Sprintf("Create a %s meme about: %s", mood, topic)
}

// buildImagePrompt composes the image generation prompt from the base
// meme style, the mood style and a scene matching the topic.
func buildImagePrompt(topic string, mood Mood) string {
	style, ok := moodStyles[mood]
	if !ok {
		style = moodStyles[MoodFunny]
	}

	scene, ok := topicScenes[strings.ToLower(topic)]
	if !ok {
		scene = fmt.Sprintf("workplace situation involving %s", topic)
	}

	prompt := imageBaseStyle + style + ", " + scene +
		", meme format, professional workplace setting, safe for work content"
	prompt += fmt.Sprintf(", with space for text overlay about %s in a %s way", topic, mood)
	return prompt
}
