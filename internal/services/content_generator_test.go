package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aiwuxian/chronica/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubLLM 可编程的模型桩
type stubLLM struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestGenerator(llm Completer) *ContentGenerator {
	return NewContentGenerator(llm, zap.NewNop())
}

func generatorSession() *models.Session {
	return &models.Session{
		ID:         "test",
		Language:   "en",
		StoryTitle: "The Sunken Citadel",
		Plot: models.Plot{
			Title:   "The Sunken Citadel",
			Summary: "A fortress beneath the waves.",
			Scenes: []models.PlotScene{
				{Title: "Arrival", Description: "The party reaches the shore."},
				{Title: "Descent", Description: "The gates open beneath the tide."},
			},
		},
		Players:    []models.Participant{{Name: "Ana", Health: 100, Mana: 100, IsAlive: true}},
		Inventory:  map[string]int{},
		WorldState: map[string]string{},
		Status:     models.SessionActive,
	}
}

// TestSummarize 空历史、失败、成功三种路径
func TestSummarize(t *testing.T) {
	llm := &stubLLM{}
	g := newTestGenerator(llm)

	// 空历史不调用模型
	got := g.Summarize(context.Background(), nil)
	assert.Equal(t, "This is the first turn.", got)
	assert.Equal(t, 0, llm.calls)

	history := []models.Event{{Story: "The gate creaks open.", Choice: &models.Choice{Action: "Push the gate"}}}

	llm.err = errors.New("timeout")
	got = g.Summarize(context.Background(), history)
	assert.Equal(t, "The story continues...", got)

	llm.err = nil
	llm.reply = "  The heroes forced the gate.  \n"
	got = g.Summarize(context.Background(), history)
	assert.Equal(t, "The heroes forced the gate.", got)
	assert.Contains(t, llm.lastPrompt, "Push the gate")
}

// TestGeneratePlotFallback 任何失败都落到通用三幕剧情
func TestGeneratePlotFallback(t *testing.T) {
	for name, llm := range map[string]*stubLLM{
		"传输失败":  {err: errors.New("boom")},
		"畸形JSON": {reply: "not json at all"},
		"缺少场景":  {reply: `{"title": "Empty", "scenes": []}`},
	} {
		g := newTestGenerator(llm)
		plot := g.GeneratePlot(context.Background(), "The Sunken Citadel", "en")

		require.NotNil(t, plot, name)
		assert.Equal(t, "The Sunken Citadel", plot.Title, name)
		require.Len(t, plot.Scenes, 3, name)
		assert.Equal(t, "The Beginning", plot.Scenes[0].Title, name)
		assert.Equal(t, "The End", plot.Scenes[2].Title, name)
	}
}

// TestGeneratePlotParsed 合法输出（带markdown围栏）被解析
func TestGeneratePlotParsed(t *testing.T) {
	llm := &stubLLM{reply: "```json\n{\"title\": \"The Sunken Citadel\", \"summary\": \"s\", \"scenes\": [{\"title\": \"One\", \"description\": \"d\"}]}\n```"}
	g := newTestGenerator(llm)

	plot := g.GeneratePlot(context.Background(), "The Sunken Citadel", "en")

	require.Len(t, plot.Scenes, 1)
	assert.Equal(t, "One", plot.Scenes[0].Title)
}

// TestGenerateCharactersFallback 数量或名字不匹配整体回退
func TestGenerateCharactersFallback(t *testing.T) {
	names := []string{"Ana", "Bruno"}

	for name, llm := range map[string]*stubLLM{
		"传输失败": {err: errors.New("boom")},
		"数量不符": {reply: `[{"name": "Ana"}]`},
		"名字不符": {reply: `[{"name": "Ana"}, {"name": "Someone"}]`},
	} {
		g := newTestGenerator(llm)
		chars := g.GenerateCharacters(context.Background(), names, "Title", "en")

		require.Len(t, chars, 2, name)
		assert.Equal(t, "Ana", chars[0].Name, name)
		assert.Equal(t, "Human", chars[0].Race, name)
		assert.Equal(t, "Adventurer", chars[0].Class, name)
		assert.Equal(t, "A brave soul ready for anything.", chars[1].Description, name)
	}
}

// TestGenerateCharactersRealigned 输出顺序按请求名单重排
func TestGenerateCharactersRealigned(t *testing.T) {
	llm := &stubLLM{reply: `[
		{"name": "Bruno", "race": "Elf", "class": "Ranger", "description": "quiet"},
		{"name": "Ana", "race": "Dwarf", "class": "Smith", "description": "loud"}
	]`}
	g := newTestGenerator(llm)

	chars := g.GenerateCharacters(context.Background(), []string{"Ana", "Bruno"}, "Title", "en")

	require.Len(t, chars, 2)
	assert.Equal(t, "Ana", chars[0].Name)
	assert.Equal(t, "Dwarf", chars[0].Race)
	assert.Equal(t, "Bruno", chars[1].Name)
	assert.Equal(t, "Elf", chars[1].Race)
}

// TestNextContentFallbacks 生成失败时按模式选择兜底内容
func TestNextContentFallbacks(t *testing.T) {
	llm := &stubLLM{err: errors.New("boom")}
	g := newTestGenerator(llm)
	sess := generatorSession()

	for _, mode := range []GenerationMode{ModeFirstScene, ModeStandardScene} {
		unit := g.NextContent(context.Background(), sess, mode)
		require.Equal(t, models.ContentScene, unit.Kind, string(mode))
		assert.True(t, unit.Fallback, string(mode))
		assert.Equal(t, "fallback-awakening", unit.Scene.SceneID, string(mode))
		assert.Len(t, unit.Scene.Options, 3, string(mode))
	}

	unit := g.NextContent(context.Background(), sess, ModeRiddleTurn)
	require.Equal(t, models.ContentRiddle, unit.Kind)
	assert.True(t, unit.Fallback)
	require.Len(t, unit.Riddle.Options, 3)
	assert.True(t, unit.Riddle.Options[1].IsCorrect)
}

// TestNextContentParsesScene 合法场景输出解析成类型化单元
func TestNextContentParsesScene(t *testing.T) {
	llm := &stubLLM{reply: `{
		"scene_id": "descent-1",
		"title": "The Descent",
		"narrative": [
			{"speaker": "narrator", "text": "The water parts before you.", "voice": {"role": "narrator", "style": "epic", "accent": "en-GB"}}
		],
		"riddle": {"present": false},
		"choices": [
			{"id": "A", "text": "Dive in.", "is_risky": true, "state_delta": {"risk": 20}},
			{"id": "B", "text": "Wait for the tide.", "state_delta": {}}
		],
		"image_prompt": "A parted sea revealing stone stairs."
	}`}
	g := newTestGenerator(llm)

	unit := g.NextContent(context.Background(), generatorSession(), ModeStandardScene)

	require.Equal(t, models.ContentScene, unit.Kind)
	assert.False(t, unit.Fallback)
	assert.Equal(t, "descent-1", unit.Scene.SceneID)
	assert.Equal(t, "The water parts before you.", unit.Scene.Story)
	require.Len(t, unit.Scene.Options, 2)
	assert.True(t, unit.Scene.Options[0].IsRisky)
	require.NotNil(t, unit.Scene.Options[0].StateDelta)
	assert.Equal(t, 20, *unit.Scene.Options[0].StateDelta.Risk)
	// 空delta归一化为nil
	assert.Nil(t, unit.Scene.Options[1].StateDelta)
}

// TestNextContentRiddleValidation 谜题结构违规一律回退
func TestNextContentRiddleValidation(t *testing.T) {
	cases := map[string]string{
		"两个正确答案": `{
			"narrative": [{"speaker": "narrator", "text": "A voice speaks."}],
			"riddle": {"present": true, "prompt": "What walks on four legs?"},
			"choices": [
				{"id": "A", "text": "Man", "is_correct": true},
				{"id": "B", "text": "Dog", "is_correct": true},
				{"id": "C", "text": "Cat", "is_correct": false}
			]
		}`,
		"选项数量不对": `{
			"narrative": [{"speaker": "narrator", "text": "A voice speaks."}],
			"riddle": {"present": true, "prompt": "What walks on four legs?"},
			"choices": [
				{"id": "A", "text": "Man", "is_correct": true},
				{"id": "B", "text": "Dog", "is_correct": false}
			]
		}`,
		"缺少题面": `{
			"narrative": [{"speaker": "narrator", "text": "A voice speaks."}],
			"riddle": {"present": true, "prompt": ""},
			"choices": [
				{"id": "A", "text": "Man", "is_correct": true},
				{"id": "B", "text": "Dog", "is_correct": false},
				{"id": "C", "text": "Cat", "is_correct": false}
			]
		}`,
		"谜题回合返回普通场景": `{
			"narrative": [{"speaker": "narrator", "text": "A scene instead."}],
			"riddle": {"present": false},
			"choices": [{"id": "A", "text": "Go on."}]
		}`,
	}

	for name, reply := range cases {
		g := newTestGenerator(&stubLLM{reply: reply})
		unit := g.NextContent(context.Background(), generatorSession(), ModeRiddleTurn)

		require.Equal(t, models.ContentRiddle, unit.Kind, name)
		assert.True(t, unit.Fallback, name)
	}
}

// TestNextContentRiddleParsed 合法谜题输出
func TestNextContentRiddleParsed(t *testing.T) {
	llm := &stubLLM{reply: `{
		"narrative": [{"speaker": "narrator", "text": "A rune glows."}],
		"riddle": {"present": true, "prompt": "What has keys but no locks?", "answer_hint": "It makes music."},
		"choices": [
			{"id": "A", "text": "A piano", "is_correct": true},
			{"id": "B", "text": "A map", "is_correct": false},
			{"id": "C", "text": "A door", "is_correct": false}
		]
	}`}
	g := newTestGenerator(llm)

	unit := g.NextContent(context.Background(), generatorSession(), ModeRiddleTurn)

	require.Equal(t, models.ContentRiddle, unit.Kind)
	assert.False(t, unit.Fallback)
	assert.Equal(t, "What has keys but no locks?", unit.Riddle.Prompt)
	assert.True(t, unit.Riddle.Options[0].IsCorrect)
}

// TestGenerateEnding 成功与固定结语兜底
func TestGenerateEnding(t *testing.T) {
	sess := generatorSession()

	g := newTestGenerator(&stubLLM{reply: "  The citadel sank once more, taking its secrets with it.  "})
	unit := g.GenerateEnding(context.Background(), sess, models.EndReasonTimeUp)
	require.Equal(t, models.ContentEnding, unit.Kind)
	assert.Equal(t, "The citadel sank once more, taking its secrets with it.", unit.Ending.Text)
	assert.False(t, unit.Fallback)

	g = newTestGenerator(&stubLLM{err: errors.New("boom")})
	unit = g.GenerateEnding(context.Background(), sess, models.EndReasonPartyDefeated)
	require.Equal(t, models.ContentEnding, unit.Kind)
	assert.Equal(t, FallbackEpilogue, unit.Ending.Text)
	assert.True(t, unit.Fallback)

	// 空白输出也算失败
	g = newTestGenerator(&stubLLM{reply: "   \n"})
	unit = g.GenerateEnding(context.Background(), sess, models.EndReasonTimeUp)
	assert.Equal(t, FallbackEpilogue, unit.Ending.Text)
}

// TestStripCodeFence 围栏剥离
func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

// TestAccentFor 口音约定
func TestAccentFor(t *testing.T) {
	assert.Equal(t, "en-GB", accentFor("en"))
	assert.Equal(t, "en-GB", accentFor(""))
	assert.Equal(t, "es-ES", accentFor("es"))
	assert.Equal(t, "fr-FR", accentFor("fr"))
}
