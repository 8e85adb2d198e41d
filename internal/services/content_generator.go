package services

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/aiwuxian/chronica/internal/models"
	"go.uber.org/zap"
)

//go:embed prompts/*.txt
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.txt"))

// GenerationMode 生成模式，由调用方（回合调度结果）选择
type GenerationMode string

const (
	ModeFirstScene          GenerationMode = "first_scene"
	ModeRiddleTurn          GenerationMode = "riddle_turn"
	ModeStandardScene       GenerationMode = "standard_scene"
	ModePlotGeneration      GenerationMode = "plot_generation"
	ModeCharacterGeneration GenerationMode = "character_generation"
	ModeEndingGeneration    GenerationMode = "ending_generation"
)

// 摘要兜底文案
const (
	summaryFirstTurn = "This is the first turn."
	summaryFallback  = "The story continues..."
)

// FallbackEpilogue 终局生成失败时的固定结语
const FallbackEpilogue = "And so, the adventure concluded, its final tales lost to the winds of time."

// 剧情索引越界后的通用场景目标
const genericSceneGoal = "The story continues, with the heroes charting their own path."

// ContentGenerator 按会话状态组装prompt并把模型输出解析成类型化内容单元。
// 每次调用无内部状态；任何传输或结构错误都以固定兜底内容收场，绝不外抛解析异常。
type ContentGenerator struct {
	llm    Completer
	logger *zap.Logger
}

func NewContentGenerator(llm Completer, logger *zap.Logger) *ContentGenerator {
	return &ContentGenerator{llm: llm, logger: logger}
}

// renderPrompt 模板填充是确定性的，数据都来自我们自己的结构
func (g *ContentGenerator) renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("渲染prompt模板%s失败: %w", name, err)
	}
	return buf.String(), nil
}

// Summarize 把最近事件窗口压缩成一段自然语言概要。
// 失败时退化为占位文案，不会让整个回合失败。
func (g *ContentGenerator) Summarize(ctx context.Context, history []models.Event) string {
	if len(history) == 0 {
		return summaryFirstTurn
	}

	// history最新在前，拼接时还原成时间顺序
	var parts []string
	for i := len(history) - 1; i >= 0; i-- {
		event := history[i]
		choiceText := ""
		if event.Choice != nil {
			choiceText = event.Choice.Action
		}
		parts = append(parts, fmt.Sprintf("> %s\n%s", choiceText, event.Story))
	}

	prompt, err := g.renderPrompt("summary.txt", map[string]string{
		"Story": strings.Join(parts, "\n\n"),
	})
	if err != nil {
		return summaryFallback
	}

	summary, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		g.logger.Warn("⚠️ 历史摘要生成失败，使用占位文案", zap.Error(err))
		return summaryFallback
	}

	return strings.TrimSpace(summary)
}

// GeneratePlot 根据标题生成整体剧情（5-10幕）。失败时返回通用三幕剧情。
func (g *ContentGenerator) GeneratePlot(ctx context.Context, title, language string) *models.Plot {
	prompt, err := g.renderPrompt("plot.txt", map[string]string{
		"Title":    title,
		"Language": language,
	})
	if err == nil {
		var raw string
		if raw, err = g.llm.Complete(ctx, prompt); err == nil {
			var plot models.Plot
			if err = json.Unmarshal([]byte(stripCodeFence(raw)), &plot); err == nil && len(plot.Scenes) > 0 {
				if plot.Title == "" {
					plot.Title = title
				}
				return &plot
			}
			if err == nil {
				err = fmt.Errorf("剧情缺少场景")
			}
		}
	}

	g.logger.Warn("⚠️ 剧情生成失败，使用兜底剧情", zap.String("title", title), zap.Error(err))
	return fallbackPlot(title)
}

// GenerateCharacters 为每个玩家名生成一个角色。
// 数量不符或名字对不上都算结构违规，整体回退到兜底角色。
func (g *ContentGenerator) GenerateCharacters(ctx context.Context, names []string, title, language string) []models.Participant {
	prompt, err := g.renderPrompt("characters.txt", map[string]string{
		"Title":    title,
		"Language": language,
		"Names":    strings.Join(names, ", "),
	})
	if err == nil {
		var raw string
		if raw, err = g.llm.Complete(ctx, prompt); err == nil {
			var chars []models.Participant
			if err = json.Unmarshal([]byte(stripCodeFence(raw)), &chars); err == nil {
				if matched := matchCharacters(names, chars); matched != nil {
					return matched
				}
				err = fmt.Errorf("返回的角色与玩家名单不匹配")
			}
		}
	}

	g.logger.Warn("⚠️ 角色生成失败，使用兜底角色", zap.Error(err))
	return fallbackCharacters(names)
}

// matchCharacters 按请求顺序对齐输出；数量或名字不一致返回nil
func matchCharacters(names []string, chars []models.Participant) []models.Participant {
	if len(chars) != len(names) {
		return nil
	}

	byName := make(map[string]models.Participant, len(chars))
	for _, c := range chars {
		byName[c.Name] = c
	}

	matched := make([]models.Participant, 0, len(names))
	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			return nil
		}
		matched = append(matched, c)
	}

	return matched
}

// NextContent 为下一个回合生成内容单元。mode只接受三种场景模式。
func (g *ContentGenerator) NextContent(ctx context.Context, sess *models.Session, mode GenerationMode) *models.ContentUnit {
	// 原实现在谜题回合也会先跑摘要，这里保持同样的流程
	summary := g.Summarize(ctx, sess.History)

	prompt, err := g.buildScenePrompt(sess, mode, summary)
	if err == nil {
		var raw string
		if raw, err = g.llm.Complete(ctx, prompt); err == nil {
			var unit *models.ContentUnit
			if unit, err = parseSceneResponse(raw, mode); err == nil {
				return unit
			}
		}
	}

	g.logger.Warn("⚠️ 内容生成失败，使用兜底内容",
		zap.String("mode", string(mode)), zap.Error(err))

	if mode == ModeRiddleTurn {
		return fallbackRiddleUnit()
	}
	return fallbackSceneUnit()
}

// GenerateEnding 生成终局结语，失败时使用固定结语
func (g *ContentGenerator) GenerateEnding(ctx context.Context, sess *models.Session, reason string) *models.ContentUnit {
	type finalPlayer struct {
		Name    string `json:"name"`
		Health  int    `json:"health"`
		IsAlive bool   `json:"is_alive"`
	}
	party := make([]finalPlayer, 0, len(sess.Players))
	for _, p := range sess.Players {
		party = append(party, finalPlayer{Name: p.Name, Health: p.Health, IsAlive: p.IsAlive})
	}
	partyJSON, _ := json.Marshal(party)

	prompt, err := g.renderPrompt("ending.txt", map[string]string{
		"Language":   sess.Language,
		"StoryTitle": sess.StoryTitle,
		"Reason":     reason,
		"Party":      string(partyJSON),
	})
	if err == nil {
		var text string
		if text, err = g.llm.Complete(ctx, prompt); err == nil && strings.TrimSpace(text) != "" {
			return &models.ContentUnit{
				Kind:   models.ContentEnding,
				Ending: &models.Ending{Text: strings.TrimSpace(text)},
			}
		}
	}

	g.logger.Warn("⚠️ 结语生成失败，使用固定结语", zap.Error(err))
	return &models.ContentUnit{
		Kind:     models.ContentEnding,
		Ending:   &models.Ending{Text: FallbackEpilogue},
		Fallback: true,
	}
}

// buildScenePrompt 确定性模板填充：当前行动者、场景目标、队伍名册、库存与世界状态快照
func (g *ContentGenerator) buildScenePrompt(sess *models.Session, mode GenerationMode, summary string) (string, error) {
	current := sess.CurrentPlayer()
	if current == nil {
		return "", fmt.Errorf("当前行动者下标越界: %d", sess.Turn)
	}

	switch mode {
	case ModeFirstScene:
		sceneGoal := genericSceneGoal
		if len(sess.Plot.Scenes) > 0 {
			sceneGoal = sess.Plot.Scenes[0].Description
		}
		return g.renderPrompt("first_scene.txt", map[string]any{
			"Language":    sess.Language,
			"Title":       sess.Plot.Title,
			"Summary":     sess.Plot.Summary,
			"Characters":  rosterJSON(sess.Players, true),
			"SceneGoal":   sceneGoal,
			"FirstPlayer": sess.Players[0].Name,
			"Accent":      accentFor(sess.Language),
		})

	case ModeRiddleTurn:
		avoid := ""
		if len(sess.UsedRiddles) > 0 {
			avoid = "- " + strings.Join(sess.UsedRiddles, "\n- ")
		}
		return g.renderPrompt("riddle.txt", map[string]any{
			"Language":      sess.Language,
			"StoryTitle":    sess.StoryTitle,
			"CurrentPlayer": current.Name,
			"UsedRiddles":   avoid,
			"Round":         sess.Round,
			"Accent":        accentFor(sess.Language),
		})

	default:
		sceneGoal := genericSceneGoal
		converge := true
		if sess.SceneIndex < len(sess.Plot.Scenes) {
			sceneGoal = sess.Plot.Scenes[sess.SceneIndex].Description
			converge = false
		}
		lastChoice := ""
		if sess.LastChoice != nil {
			lastChoice = sess.LastChoice.Action
			if sess.LastChoice.Roll > 0 {
				lastChoice = fmt.Sprintf("%s (rolled %d)", sess.LastChoice.Action, sess.LastChoice.Roll)
			}
		}
		inventoryJSON, _ := json.Marshal(sess.Inventory)
		worldStateJSON, _ := json.Marshal(sess.WorldState)
		return g.renderPrompt("standard_scene.txt", map[string]any{
			"Language":          sess.Language,
			"StoryTitle":        sess.StoryTitle,
			"Summary":           summary,
			"SceneGoal":         sceneGoal,
			"Converge":          converge,
			"LastChoice":        lastChoice,
			"CurrentPlayer":     current.Name,
			"CurrentPlayerSlug": characterSlug(current.Name),
			"Characters":        rosterJSON(sess.Players, false),
			"Inventory":         string(inventoryJSON),
			"WorldState":        string(worldStateJSON),
			"Accent":            accentFor(sess.Language),
		})
	}
}

// sceneResponse 模型输出的原始结构，在这里一次性判定内容类型
type sceneResponse struct {
	Language  string                  `json:"language"`
	SceneID   string                  `json:"scene_id"`
	Title     string                  `json:"title"`
	Narrative []models.NarrativeBlock `json:"narrative"`
	Riddle    struct {
		Present    bool   `json:"present"`
		Prompt     string `json:"prompt"`
		AnswerHint string `json:"answer_hint"`
	} `json:"riddle"`
	Choices []struct {
		ID         string             `json:"id"`
		Text       string             `json:"text"`
		IsRisky    bool               `json:"is_risky"`
		IsCorrect  bool               `json:"is_correct"`
		StateDelta *models.StateDelta `json:"state_delta"`
	} `json:"choices"`
	ImagePrompt string `json:"image_prompt"`
}

func parseSceneResponse(raw string, mode GenerationMode) (*models.ContentUnit, error) {
	var resp sceneResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		return nil, fmt.Errorf("解析场景JSON失败: %w", err)
	}

	if resp.Riddle.Present {
		if resp.Riddle.Prompt == "" {
			return nil, fmt.Errorf("谜题缺少题面")
		}
		if len(resp.Choices) != 3 {
			return nil, fmt.Errorf("谜题选项数量应为3，实际%d", len(resp.Choices))
		}
		correct := 0
		options := make([]models.RiddleOption, 0, 3)
		for _, c := range resp.Choices {
			if c.IsCorrect {
				correct++
			}
			options = append(options, models.RiddleOption{ID: c.ID, Text: c.Text, IsCorrect: c.IsCorrect})
		}
		if correct != 1 {
			return nil, fmt.Errorf("谜题应恰好有1个正确答案，实际%d", correct)
		}
		return &models.ContentUnit{
			Kind: models.ContentRiddle,
			Riddle: &models.Riddle{
				Prompt:      resp.Riddle.Prompt,
				AnswerHint:  resp.Riddle.AnswerHint,
				Story:       joinNarrative(resp.Narrative),
				Narrative:   resp.Narrative,
				Options:     options,
				ImagePrompt: resp.ImagePrompt,
			},
		}, nil
	}

	if mode == ModeRiddleTurn {
		return nil, fmt.Errorf("谜题回合却返回了普通场景")
	}

	if len(resp.Narrative) == 0 {
		return nil, fmt.Errorf("场景缺少叙事")
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("场景缺少选项")
	}

	options := make([]models.SceneOption, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		delta := c.StateDelta
		if delta.IsEmpty() {
			delta = nil
		}
		options = append(options, models.SceneOption{
			ID: c.ID, Text: c.Text, IsRisky: c.IsRisky, StateDelta: delta,
		})
	}

	return &models.ContentUnit{
		Kind: models.ContentScene,
		Scene: &models.Scene{
			SceneID:     resp.SceneID,
			Title:       resp.Title,
			Story:       joinNarrative(resp.Narrative),
			Narrative:   resp.Narrative,
			Options:     options,
			ImagePrompt: resp.ImagePrompt,
		},
	}, nil
}

// stripCodeFence 模型偶尔会包一层markdown围栏
func stripCodeFence(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

func joinNarrative(blocks []models.NarrativeBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, " ")
}

// accentFor 英语固定用en-GB，其余语言按 lang-LANG 约定
func accentFor(lang string) string {
	if lang == "en" || lang == "" {
		return "en-GB"
	}
	return lang + "-" + strings.ToUpper(lang)
}

func characterSlug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// rosterJSON 队伍名册，作为prompt上下文。阵亡者带defeated标记。
func rosterJSON(players []models.Participant, withDescription bool) string {
	type promptVoice struct {
		Role   string `json:"role"`
		Gender string `json:"gender"`
		Age    string `json:"age"`
		Style  string `json:"style"`
		Accent string `json:"accent"`
	}
	type promptCharacter struct {
		ID          string      `json:"id"`
		DisplayName string      `json:"display_name"`
		Voice       promptVoice `json:"voice"`
		Traits      []string    `json:"traits"`
	}

	roster := make([]promptCharacter, 0, len(players))
	for _, p := range players {
		traits := []string{p.Race, p.Class}
		if withDescription {
			traits = append(traits, p.Description)
		} else if !p.IsAlive {
			traits = append(traits, "defeated")
		}
		roster = append(roster, promptCharacter{
			ID:          "personaje:" + characterSlug(p.Name),
			DisplayName: p.Name,
			Voice:       promptVoice{Role: "hero", Gender: "neutral", Age: "adult", Style: "neutral", Accent: "auto"},
			Traits:      traits,
		})
	}

	data, _ := json.Marshal(roster)
	return string(data)
}
