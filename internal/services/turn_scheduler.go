package services

import (
	"math/rand"
	"time"

	"github.com/aiwuxian/chronica/internal/models"
)

// 回合规则常量
const (
	riddleRoundInterval = 3  // 每完成3轮，首位行动者遇到谜题
	critThreshold       = 18 // D20 >= 18 判定为大成功
	critManaBonus       = 10
	riddleManaReward    = 15
	riddlePenalty       = 15
)

// ForcedRiskAction 风险值打满时强制事件的固定叙述
const ForcedRiskAction = "A forced consequence of mounting risk!"

// TurnScheduler 推进回合与轮次，裁决谜题与冒险检定。
// 随机源显式注入，测试中可复现。
type TurnScheduler struct {
	rng *rand.Rand
}

func NewTurnScheduler() *TurnScheduler {
	return NewTurnSchedulerWithSource(rand.NewSource(time.Now().UnixNano()))
}

func NewTurnSchedulerWithSource(src rand.Source) *TurnScheduler {
	return &TurnScheduler{rng: rand.New(src)}
}

// AdvanceTurn 找到下一个存活的行动者（环形），每越过0号位记一轮。
// 全员阵亡时不动作，全灭已由DeltaEngine上报。
func (ts *TurnScheduler) AdvanceTurn(sess *models.Session) {
	if sess.AliveCount() == 0 {
		return
	}

	n := len(sess.Players)
	for i := 1; i <= n; i++ {
		next := (sess.Turn + i) % n
		if sess.Players[next].IsAlive {
			if sess.Turn+i >= n {
				sess.Round++
			}
			sess.Turn = next
			return
		}
	}
}

// IsRiddleTurn 每第三个完整轮次的首位行动者遇到谜题
func (ts *TurnScheduler) IsRiddleTurn(sess *models.Session) bool {
	return sess.Round > 0 && sess.Round%riddleRoundInterval == 0 && sess.Turn == 0
}

// CheckForcedRisk 风险值饱和时触发一次强制冒险，并立即清零
func (ts *TurnScheduler) CheckForcedRisk(sess *models.Session) bool {
	if sess.Risk >= 100 {
		sess.Risk = 0
		return true
	}
	return false
}

// RollD20 均匀的 [1,20]
func (ts *TurnScheduler) RollD20() int {
	return ts.rng.Intn(20) + 1
}

// ResolveRiddle 答对奖励法力，答错扣血
func (ts *TurnScheduler) ResolveRiddle(correct bool) *models.StateDelta {
	if correct {
		return &models.StateDelta{Mana: intPtr(riddleManaReward)}
	}
	return &models.StateDelta{Health: intPtr(-riddlePenalty)}
}

// ResolveRisky 掷骰裁决冒险选择：大成功在原有delta之上追加法力奖励。
// 返回带roll的choice与裁决后的delta，不修改传入的delta。
func (ts *TurnScheduler) ResolveRisky(action string, base *models.StateDelta) (*models.Choice, *models.StateDelta) {
	roll := ts.RollD20()
	delta := cloneDelta(base)

	if roll >= critThreshold {
		if delta == nil {
			delta = &models.StateDelta{}
		}
		bonus := critManaBonus
		if delta.Mana != nil {
			bonus += *delta.Mana
		}
		delta.Mana = &bonus
	}

	return &models.Choice{Action: action, Roll: roll}, delta
}

func cloneDelta(d *models.StateDelta) *models.StateDelta {
	if d == nil {
		return nil
	}

	out := &models.StateDelta{}
	if d.Health != nil {
		out.Health = intPtr(*d.Health)
	}
	if d.Mana != nil {
		out.Mana = intPtr(*d.Mana)
	}
	if d.Risk != nil {
		out.Risk = intPtr(*d.Risk)
	}
	if len(d.Inventory) > 0 {
		out.Inventory = make(map[string]int, len(d.Inventory))
		for k, v := range d.Inventory {
			out.Inventory[k] = v
		}
	}
	if len(d.WorldState) > 0 {
		out.WorldState = make(map[string]string, len(d.WorldState))
		for k, v := range d.WorldState {
			out.WorldState[k] = v
		}
	}

	return out
}

func intPtr(v int) *int {
	return &v
}
