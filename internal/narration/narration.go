// Package narration 把叙事块编排成朗读计划：为每块挑选发音人并计算语速、
// 音调、音量。实际合成由表现层完成，这里只做确定性的编排。
package narration

import (
	"strings"

	"github.com/aiwuxian/chronica/internal/models"
)

// Voice 表现层可用的一个发音人
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"` // BCP-47，如 en-GB、zh-CN
}

// Utterance 一条待朗读请求
type Utterance struct {
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
	Voice   string  `json:"voice,omitempty"` // 匹配到的发音人名，空表示无可用发音人
	Rate    float64 `json:"rate"`
	Pitch   float64 `json:"pitch"`
	Volume  float64 `json:"volume"`
}

// Plan 把场景的叙事块逐块编排成朗读队列，保持原有顺序
func Plan(blocks []models.NarrativeBlock, voices []Voice) []Utterance {
	utterances := make([]Utterance, 0, len(blocks))
	for _, block := range blocks {
		if block.Text == "" {
			continue
		}

		u := Utterance{
			Text:    block.Text,
			Speaker: block.Speaker,
			Rate:    1.0,
			Pitch:   1.0,
			Volume:  1.0,
		}

		if v := findVoice(block.Voice.Accent, voices); v != nil {
			u.Voice = v.Name
		}

		// 紧急块直接抬速，风格修正在其上叠乘
		if block.Urgent {
			u.Rate = 1.25
		}

		switch block.Voice.Style {
		case "calm":
			u.Rate *= 0.9
		case "urgent":
			u.Rate *= 1.25
			u.Pitch = 1.1
		case "whisper":
			u.Volume *= 0.7
			u.Pitch = 0.9
			u.Rate *= 0.95
		case "epic":
			u.Rate *= 0.85
			u.Pitch = 0.9
		case "dramatic":
			u.Rate *= 0.9
			u.Pitch = 1.1
		}

		utterances = append(utterances, u)
	}
	return utterances
}

// findVoice 发音人匹配链：精确口音 → 同语言 → 任意英语 → 第一个可用
func findVoice(accent string, voices []Voice) *Voice {
	if len(voices) == 0 {
		return nil
	}

	for i := range voices {
		if voices[i].Lang == accent {
			return &voices[i]
		}
	}

	lang, _, _ := strings.Cut(accent, "-")
	if lang != "" {
		for i := range voices {
			if strings.HasPrefix(voices[i].Lang, lang) {
				return &voices[i]
			}
		}
	}

	for i := range voices {
		if strings.HasPrefix(voices[i].Lang, "en") {
			return &voices[i]
		}
	}

	return &voices[0]
}
