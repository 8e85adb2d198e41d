package models

import (
	"encoding/json"
	"time"
)

// Participant 队伍中的一名玩家角色
type Participant struct {
	Name        string `json:"name"` // 会话内唯一
	Race        string `json:"race"`
	Class       string `json:"class"`
	Description string `json:"description"`
	Health      int    `json:"health"` // 0-100
	Mana        int    `json:"mana"`   // 0-100
	IsAlive     bool   `json:"is_alive"`
}

// PlotScene 剧情中的一幕（场景目标）
type PlotScene struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Plot 整体剧情：创建时生成一次，之后只有管理员可改
type Plot struct {
	Title   string      `json:"title"`
	Summary string      `json:"summary"`
	Scenes  []PlotScene `json:"scenes"`
}

// Choice 玩家已确定的行动。Roll为0表示普通选择，>0表示带骰子的冒险选择
type Choice struct {
	Action string `json:"action"`
	Roll   int    `json:"roll,omitempty"`
}

// Session 一次故事的完整游戏状态（引擎内唯一事实来源）
type Session struct {
	ID         string        `json:"id"`
	Language   string        `json:"language"` // 所有生成文本的语言
	StoryTitle string        `json:"story_title"`
	Plot       Plot          `json:"plot"`
	SceneIndex int           `json:"scene_index"` // 每回合+1，索引plot.scenes
	Players    []Participant `json:"players"`     // 顺序即回合轮转顺序，创建后固定
	Turn       int           `json:"turn"`        // 当前行动者在players中的下标
	Round      int           `json:"round"`       // 完整轮转次数
	Risk       int           `json:"risk"`        // 队伍共享风险值 0-100

	Inventory   map[string]int    `json:"inventory"`    // 数量<=0的条目会被移除
	WorldState  map[string]string `json:"world_state"`  // 只增不删
	UsedRiddles []string          `json:"used_riddles"` // 已出过的谜题，避免重复
	LastChoice  *Choice           `json:"last_choice,omitempty"`

	// History 最近事件窗口（最新在前），仅作生成上下文，完整日志在事件存储中
	History []Event `json:"-"`

	Status    string    `json:"status"` // active, ended
	EndReason string    `json:"end_reason,omitempty"`
	TimeLimit int       `json:"time_limit"` // 分钟，0表示不限时
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 会话状态
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// 终局原因
const (
	EndReasonTimeUp        = "time_up"
	EndReasonPartyDefeated = "party_defeated"
)

// CurrentPlayer 返回当前行动者
func (s *Session) CurrentPlayer() *Participant {
	if s.Turn < 0 || s.Turn >= len(s.Players) {
		return nil
	}
	return &s.Players[s.Turn]
}

// AliveCount 存活人数
func (s *Session) AliveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.IsAlive {
			n++
		}
	}
	return n
}

// Event 已持久化的回合事件（只追加，不修改）
type Event struct {
	ID          int64       `json:"id"`
	SessionID   string      `json:"session_id"`
	Turn        int         `json:"turn"`
	Choice      *Choice     `json:"choice,omitempty"`
	StateDelta  *StateDelta `json:"state_delta,omitempty"`
	Story       string      `json:"story"`
	ImagePrompt string      `json:"image_prompt,omitempty"`
	IsEpilogue  bool        `json:"is_epilogue,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// StateDelta 生成内容携带的状态变化，字段均可缺省。
// health/mana作用于当前行动者，risk/inventory/world_state为队伍共享。
type StateDelta struct {
	Health     *int              `json:"health,omitempty"`
	Mana       *int              `json:"mana,omitempty"`
	Risk       *int              `json:"risk,omitempty"`
	Inventory  map[string]int    `json:"inventory,omitempty"`
	WorldState map[string]string `json:"world_state,omitempty"`
}

// IsEmpty 是否为空变化
func (d *StateDelta) IsEmpty() bool {
	return d == nil || (d.Health == nil && d.Mana == nil && d.Risk == nil &&
		len(d.Inventory) == 0 && len(d.WorldState) == 0)
}

// UnmarshalJSON 宽容解析：delta由生成器控制，类型不对的字段直接忽略，
// 绝不因畸形输出让会话崩溃
func (d *StateDelta) UnmarshalJSON(data []byte) error {
	*d = StateDelta{}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// 整体不是对象也按空变化处理
		return nil
	}

	intField := func(key string) *int {
		msg, ok := raw[key]
		if !ok {
			return nil
		}
		var f float64
		if err := json.Unmarshal(msg, &f); err != nil {
			return nil
		}
		v := int(f)
		return &v
	}

	d.Health = intField("health")
	d.Mana = intField("mana")
	d.Risk = intField("risk")

	if msg, ok := raw["inventory"]; ok {
		var inv map[string]float64
		if err := json.Unmarshal(msg, &inv); err == nil {
			d.Inventory = make(map[string]int, len(inv))
			for item, qty := range inv {
				d.Inventory[item] = int(qty)
			}
		}
	}

	if msg, ok := raw["world_state"]; ok {
		var ws map[string]string
		if err := json.Unmarshal(msg, &ws); err == nil {
			d.WorldState = ws
		}
	}

	return nil
}

// VoiceSpec 叙事块的配音偏好
type VoiceSpec struct {
	Role   string `json:"role"`
	Gender string `json:"gender"`
	Age    string `json:"age"`
	Style  string `json:"style"` // calm, urgent, whisper, epic, dramatic
	Accent string `json:"accent"`
}

// NarrativeBlock 一段可朗读的叙事文本
type NarrativeBlock struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Voice     VoiceSpec `json:"voice"`
	Sentiment string    `json:"sentiment"`
	Urgent    bool      `json:"urgent"`
}

// SceneOption 场景的一个可选行动
type SceneOption struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	IsRisky    bool        `json:"is_risky"`
	StateDelta *StateDelta `json:"state_delta,omitempty"`
}

// Scene 一个普通场景内容单元
type Scene struct {
	SceneID     string           `json:"scene_id"`
	Title       string           `json:"title"`
	Story       string           `json:"story"` // 叙事全文，用于事件日志
	Narrative   []NarrativeBlock `json:"narrative"`
	Options     []SceneOption    `json:"options"` // 2-3个
	ImagePrompt string           `json:"image_prompt"`
}

// RiddleOption 谜题的一个候选答案
type RiddleOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Riddle 谜题内容单元：恰好三个选项，其中恰好一个正确
type Riddle struct {
	Prompt      string           `json:"prompt"`
	AnswerHint  string           `json:"answer_hint"`
	Story       string           `json:"story"`
	Narrative   []NarrativeBlock `json:"narrative"`
	Options     []RiddleOption   `json:"options"`
	ImagePrompt string           `json:"image_prompt"`
}

// Ending 终局文本
type Ending struct {
	Text string `json:"text"`
}

// ContentKind 内容单元类型，在生成器边界一次性判定
type ContentKind string

const (
	ContentScene  ContentKind = "scene"
	ContentRiddle ContentKind = "riddle"
	ContentEnding ContentKind = "ending"
)

// ContentUnit 生成器对一个回合的输出
type ContentUnit struct {
	Kind     ContentKind `json:"kind"`
	Scene    *Scene      `json:"scene,omitempty"`
	Riddle   *Riddle     `json:"riddle,omitempty"`
	Ending   *Ending     `json:"ending,omitempty"`
	Fallback bool        `json:"fallback,omitempty"` // 是否为静态兜底内容
}
