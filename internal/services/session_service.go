package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aiwuxian/chronica/internal/models"
	"github.com/aiwuxian/chronica/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService 串起一个完整回合：套用delta、推进回合、落盘事件、
// 取上下文、请求下一个内容单元、识别终局。
type SessionService struct {
	storage   *storage.Storage
	generator *ContentGenerator
	scheduler *TurnScheduler
	deltas    *DeltaEngine
	config    models.GameConfig
	logger    *zap.Logger
}

func NewSessionService(store *storage.Storage, generator *ContentGenerator,
	scheduler *TurnScheduler, deltas *DeltaEngine, config models.GameConfig,
	logger *zap.Logger) *SessionService {
	return &SessionService{
		storage:   store,
		generator: generator,
		scheduler: scheduler,
		deltas:    deltas,
		config:    config,
		logger:    logger,
	}
}

// TurnInput 表现层提交的玩家行动（选项、冒险选项或自由输入）
type TurnInput struct {
	Action      string
	IsRisky     bool
	Delta       *models.StateDelta // 所选选项携带的状态变化
	Story       string             // 刚结束的场景叙事，进事件日志
	ImagePrompt string
}

// TurnResult 一个回合循环的产出
type TurnResult struct {
	Session    *models.Session     `json:"session"`
	Content    *models.ContentUnit `json:"content,omitempty"`
	ForcedRisk bool                `json:"forced_risk,omitempty"`
	Roll       int                 `json:"roll,omitempty"` // 本回合掷出的骰子，0表示没掷
	Ended      bool                `json:"ended,omitempty"`
	EndReason  string              `json:"end_reason,omitempty"`
}

// CreateSession 开始新故事：生成剧情与角色，建会话，生成开场
func (ss *SessionService) CreateSession(ctx context.Context, title, language string,
	playerNames []string, timeLimit int) (*models.Session, *models.ContentUnit, error) {

	if len(playerNames) == 0 {
		playerNames = []string{"Player"}
	}
	if len(playerNames) > ss.config.MaxPlayers {
		return nil, nil, fmt.Errorf("玩家数量超出上限%d", ss.config.MaxPlayers)
	}
	seen := make(map[string]bool, len(playerNames))
	for _, name := range playerNames {
		if name == "" || seen[name] {
			return nil, nil, fmt.Errorf("玩家名必须非空且不重复")
		}
		seen[name] = true
	}
	if language == "" {
		language = "en"
	}

	// 剧情与角色生成自带兜底，不会失败
	plot := ss.generator.GeneratePlot(ctx, title, language)
	chars := ss.generator.GenerateCharacters(ctx, playerNames, title, language)

	players := make([]models.Participant, 0, len(chars))
	for _, c := range chars {
		c.Health = ss.config.DefaultHealth
		c.Mana = ss.config.DefaultMana
		c.IsAlive = true
		players = append(players, c)
	}

	sess := &models.Session{
		ID:         uuid.New().String(),
		Language:   language,
		StoryTitle: plot.Title,
		Plot:       *plot,
		SceneIndex: 0,
		Players:    players,
		Turn:       0,
		Round:      0,
		Risk:       0,
		Inventory:  map[string]int{},
		WorldState: map[string]string{},
		Status:     models.SessionActive,
		TimeLimit:  timeLimit,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if err := ss.storage.CreateSession(sess); err != nil {
		return nil, nil, fmt.Errorf("保存会话失败: %w", err)
	}

	ss.logger.Info("🎲 新故事开始",
		zap.String("session_id", sess.ID),
		zap.String("title", sess.StoryTitle),
		zap.Int("players", len(players)))

	unit := ss.generator.NextContent(ctx, sess, ModeFirstScene)

	return sess, unit, nil
}

// ProcessTurn 处理一次玩家行动并生成下一个内容单元
func (ss *SessionService) ProcessTurn(ctx context.Context, sessionID string, input TurnInput) (*TurnResult, error) {
	sess, err := ss.loadActive(sessionID)
	if err != nil {
		return nil, err
	}

	choice := &models.Choice{Action: input.Action}
	delta := input.Delta
	if input.IsRisky {
		choice, delta = ss.scheduler.ResolveRisky(input.Action, input.Delta)
		ss.logger.Info("🎲 冒险检定",
			zap.String("session_id", sess.ID),
			zap.String("action", input.Action),
			zap.Int("roll", choice.Roll),
			zap.Bool("critical", choice.Roll >= critThreshold))
	}

	return ss.advanceCycle(ctx, sess, choice, delta, input.Story, input.ImagePrompt)
}

// AnswerRiddle 裁决谜题回答：固定奖惩delta，之后与普通选择一样走回合循环
func (ss *SessionService) AnswerRiddle(ctx context.Context, sessionID, prompt, answer string, correct bool) (*TurnResult, error) {
	sess, err := ss.loadActive(sessionID)
	if err != nil {
		return nil, err
	}

	// 已出过的谜题只记一次
	if prompt != "" {
		sess.UsedRiddles = append(sess.UsedRiddles, prompt)
	}

	delta := ss.scheduler.ResolveRiddle(correct)

	ss.logger.Info("🧩 谜题裁决",
		zap.String("session_id", sess.ID),
		zap.Bool("correct", correct))

	return ss.advanceCycle(ctx, sess, &models.Choice{Action: answer}, delta, prompt, "")
}

// EndSession 外部终局（倒计时到点）。终局只会触发一次。
func (ss *SessionService) EndSession(ctx context.Context, sessionID, reason string) (*TurnResult, error) {
	sess, err := ss.loadActive(sessionID)
	if err != nil {
		return nil, err
	}

	unit, err := ss.endSession(ctx, sess, reason)
	if err != nil {
		return nil, err
	}

	return &TurnResult{Session: sess, Content: unit, Ended: true, EndReason: reason}, nil
}

// advanceCycle 回合循环主体。顺序固定：
// 套delta → 全灭检查 → 推进回合 → 落盘事件与快照 → 刷新历史窗口 →
// 强制冒险短路 → 内容生成。
func (ss *SessionService) advanceCycle(ctx context.Context, sess *models.Session,
	choice *models.Choice, delta *models.StateDelta, story, imagePrompt string) (*TurnResult, error) {

	wiped := ss.deltas.ApplyDelta(sess, delta)
	if wiped {
		ss.logger.Info("💀 全员阵亡", zap.String("session_id", sess.ID))
		// 全灭事件也要进日志，之后直接进终局
		sess.LastChoice = choice
		if _, err := ss.appendTurnEvent(sess, choice, delta, story, imagePrompt); err != nil {
			return nil, err
		}
		unit, err := ss.endSession(ctx, sess, models.EndReasonPartyDefeated)
		if err != nil {
			return nil, err
		}
		return &TurnResult{
			Session: sess, Content: unit, Roll: choice.Roll,
			Ended: true, EndReason: models.EndReasonPartyDefeated,
		}, nil
	}

	ss.scheduler.AdvanceTurn(sess)
	sess.SceneIndex++
	sess.LastChoice = choice

	// 下一次生成用的模式在推进后立刻判定
	mode := ModeStandardScene
	if ss.scheduler.IsRiddleTurn(sess) {
		mode = ModeRiddleTurn
	}
	forced := ss.scheduler.CheckForcedRisk(sess)

	// 日志写入先于生成调用，部分失败不会破坏会话不变量，只会延迟持久化
	if _, err := ss.appendTurnEvent(sess, choice, delta, story, imagePrompt); err != nil {
		return nil, err
	}

	ss.refreshHistory(sess)

	if forced {
		ss.logger.Info("⚡ 风险值饱和，插入强制冒险", zap.String("session_id", sess.ID))
		return &TurnResult{
			Session:    sess,
			ForcedRisk: true,
			Roll:       choice.Roll,
			Content:    forcedRiskUnit(),
		}, nil
	}

	unit := ss.generator.NextContent(ctx, sess, mode)

	return &TurnResult{Session: sess, Content: unit, Roll: choice.Roll}, nil
}

// appendTurnEvent 落盘刚结束的事件与完整会话快照
func (ss *SessionService) appendTurnEvent(sess *models.Session, choice *models.Choice,
	delta *models.StateDelta, story, imagePrompt string) (int64, error) {

	if delta.IsEmpty() {
		delta = nil
	}

	id, err := ss.storage.AppendEvent(&models.Event{
		SessionID:   sess.ID,
		Turn:        sess.Turn,
		Choice:      choice,
		StateDelta:  delta,
		Story:       story,
		ImagePrompt: imagePrompt,
	})
	if err != nil {
		return 0, fmt.Errorf("写入事件日志失败: %w", err)
	}

	if err := ss.storage.UpdateSession(sess); err != nil {
		return 0, fmt.Errorf("保存会话快照失败: %w", err)
	}

	return id, nil
}

// refreshHistory 历史窗口只是生成上下文，读失败降级为空窗口
func (ss *SessionService) refreshHistory(sess *models.Session) {
	history, err := ss.storage.RecentEvents(sess.ID, ss.config.HistoryLimit)
	if err != nil {
		ss.logger.Warn("⚠️ 读取历史窗口失败，继续无上下文生成",
			zap.String("session_id", sess.ID), zap.Error(err))
		sess.History = nil
		return
	}
	sess.History = history
}

// endSession 标记终局并生成结语，结语作为事件落盘
func (ss *SessionService) endSession(ctx context.Context, sess *models.Session, reason string) (*models.ContentUnit, error) {
	sess.Status = models.SessionEnded
	sess.EndReason = reason

	unit := ss.generator.GenerateEnding(ctx, sess, reason)

	_, err := ss.storage.AppendEvent(&models.Event{
		SessionID:  sess.ID,
		Turn:       sess.Turn,
		Story:      unit.Ending.Text,
		IsEpilogue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("写入结语事件失败: %w", err)
	}

	if err := ss.storage.UpdateSession(sess); err != nil {
		return nil, fmt.Errorf("保存终局会话失败: %w", err)
	}

	ss.logger.Info("📖 故事结束",
		zap.String("session_id", sess.ID),
		zap.String("reason", reason))

	return unit, nil
}

// forcedRiskUnit 强制冒险的固定框架：一段固定叙述+一个必须掷骰的选项，
// 不携带delta，也不经过生成调用
func forcedRiskUnit() *models.ContentUnit {
	return &models.ContentUnit{
		Kind: models.ContentScene,
		Scene: &models.Scene{
			SceneID: "forced-risk",
			Title:   "A Twist of Fate",
			Story:   ForcedRiskAction,
			Narrative: []models.NarrativeBlock{{
				Speaker: "narrator",
				Text:    ForcedRiskAction,
				Voice: models.VoiceSpec{
					Role: "narrator", Gender: "neutral", Age: "adult", Style: "urgent", Accent: "en-GB",
				},
				Sentiment: "tension",
				Urgent:    true,
			}},
			Options: []models.SceneOption{
				{ID: "roll", Text: ForcedRiskAction, IsRisky: true},
			},
		},
	}
}

// loadActive 取出会话并校验仍在进行中，同时带上历史窗口
func (ss *SessionService) loadActive(sessionID string) (*models.Session, error) {
	sess, err := ss.storage.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("获取会话失败: %w", err)
	}
	if sess.Status != models.SessionActive {
		return nil, fmt.Errorf("故事已结束")
	}

	// 轮到不存在或已阵亡的角色行动属于契约错误，正常流程不可达
	actor := sess.CurrentPlayer()
	if actor == nil || !actor.IsAlive {
		return nil, fmt.Errorf("非法的当前行动者: turn=%d", sess.Turn)
	}

	ss.refreshHistory(sess)

	return sess, nil
}

// GetSession 查询会话（带历史窗口）
func (ss *SessionService) GetSession(sessionID string) (*models.Session, error) {
	sess, err := ss.storage.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("获取会话失败: %w", err)
	}
	ss.refreshHistory(sess)
	return sess, nil
}

// ListSessions 会话列表
func (ss *SessionService) ListSessions() ([]models.Session, error) {
	return ss.storage.ListSessions()
}

// DeleteSession 删除会话及其事件
func (ss *SessionService) DeleteSession(sessionID string) error {
	return ss.storage.DeleteSession(sessionID)
}

// Events 完整事件日志，按写入顺序
func (ss *SessionService) Events(sessionID string) ([]models.Event, error) {
	return ss.storage.AllEvents(sessionID)
}

// UpdatePlot 管理员改写剧情，这是剧情创建后唯一的修改入口
func (ss *SessionService) UpdatePlot(sessionID string, plot models.Plot) (*models.Session, error) {
	sess, err := ss.storage.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("获取会话失败: %w", err)
	}

	if len(plot.Scenes) == 0 {
		return nil, fmt.Errorf("剧情至少要有一幕")
	}

	sess.Plot = plot
	if plot.Title != "" {
		sess.StoryTitle = plot.Title
	}

	if err := ss.storage.UpdateSession(sess); err != nil {
		return nil, fmt.Errorf("保存会话失败: %w", err)
	}

	return sess, nil
}
