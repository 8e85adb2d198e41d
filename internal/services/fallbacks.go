package services

import "github.com/aiwuxian/chronica/internal/models"

// 生成失败时的兜底内容。全部离线可用、结构上自洽，
// 保证任何一次生成失败都不会中断回合循环。

func fallbackSceneUnit() *models.ContentUnit {
	narrative := []models.NarrativeBlock{
		{
			Speaker: "narrator",
			Text:    "You awaken in a dimly lit chamber, the air thick with the smell of dust and old stone. A single torch flickers on a nearby wall, casting long shadows that dance like phantoms.",
			Voice: models.VoiceSpec{
				Role: "narrator", Gender: "neutral", Age: "adult", Style: "mysterious", Accent: "en-US",
			},
			Sentiment: "tension",
			Urgent:    false,
		},
		{
			Speaker: "narrator",
			Text:    "You don't remember how you got here. Three paths lie before you: a heavy oak door, a narrow stone staircase leading down, and a small, dark crevice in the wall.",
			Voice: models.VoiceSpec{
				Role: "narrator", Gender: "neutral", Age: "adult", Style: "mysterious", Accent: "en-US",
			},
			Sentiment: "asombro",
			Urgent:    false,
		},
	}

	return &models.ContentUnit{
		Kind:     models.ContentScene,
		Fallback: true,
		Scene: &models.Scene{
			SceneID:   "fallback-awakening",
			Title:     "The Awakening",
			Story:     joinNarrative(narrative),
			Narrative: narrative,
			Options: []models.SceneOption{
				{ID: "A", Text: "Try to open the heavy oak door."},
				{ID: "B", Text: "Descend the narrow stone staircase."},
				{ID: "C", Text: "Investigate the dark crevice."},
			},
			ImagePrompt: "A mysterious, torch-lit stone chamber with a single flickering torch on the wall, revealing three potential paths: a large wooden door, a dark staircase, and a narrow crack in the wall.",
		},
	}
}

func fallbackRiddleUnit() *models.ContentUnit {
	narrative := []models.NarrativeBlock{
		{
			Speaker: "narrator",
			Text:    "Suddenly, a mysterious voice echoes in your mind, presenting a challenge.",
			Voice: models.VoiceSpec{
				Role: "narrator", Gender: "neutral", Age: "senior", Style: "mysterious", Accent: "en-GB",
			},
			Sentiment: "asombro",
			Urgent:    false,
		},
	}

	return &models.ContentUnit{
		Kind:     models.ContentRiddle,
		Fallback: true,
		Riddle: &models.Riddle{
			Prompt:     "I speak without a mouth and hear without ears. I have no body, but I come alive with wind. What am I?",
			AnswerHint: "It returns whatever it is given.",
			Story:      joinNarrative(narrative),
			Narrative:  narrative,
			Options: []models.RiddleOption{
				{ID: "A", Text: "A shadow", IsCorrect: false},
				{ID: "B", Text: "An echo", IsCorrect: true},
				{ID: "C", Text: "A dream", IsCorrect: false},
			},
			ImagePrompt: "A mysterious scene with a glowing rune or an ancient talking statue posing a riddle.",
		},
	}
}

func fallbackPlot(title string) *models.Plot {
	return &models.Plot{
		Title:   title,
		Summary: "An unexpected error occurred while trying to generate your story. You find yourself on a generic adventure.",
		Scenes: []models.PlotScene{
			{Title: "The Beginning", Description: "The adventure starts here."},
			{Title: "The Middle", Description: "The plot thickens."},
			{Title: "The End", Description: "The story concludes."},
		},
	}
}

func fallbackCharacters(names []string) []models.Participant {
	chars := make([]models.Participant, 0, len(names))
	for _, name := range names {
		chars = append(chars, models.Participant{
			Name:        name,
			Race:        "Human",
			Class:       "Adventurer",
			Description: "A brave soul ready for anything.",
		})
	}
	return chars
}
