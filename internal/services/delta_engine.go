package services

import "github.com/aiwuxian/chronica/internal/models"

// DeltaEngine 把生成内容携带的状态变化套用到会话上。
// health/mana只作用于当前行动者，risk/inventory/world_state为队伍共享。
type DeltaEngine struct{}

func NewDeltaEngine() *DeltaEngine {
	return &DeltaEngine{}
}

// ApplyDelta 原地修改会话，返回是否触发全灭。
// 空delta等价于无操作；字段类型错误在解析边界就已被丢弃。
func (e *DeltaEngine) ApplyDelta(sess *models.Session, delta *models.StateDelta) bool {
	if delta.IsEmpty() {
		return sess.AliveCount() == 0
	}

	// 世界状态只增不删，同key后写覆盖
	if len(delta.WorldState) > 0 {
		if sess.WorldState == nil {
			sess.WorldState = make(map[string]string)
		}
		for key, desc := range delta.WorldState {
			sess.WorldState[key] = desc
		}
	}

	if actor := sess.CurrentPlayer(); actor != nil {
		if delta.Health != nil {
			actor.Health += *delta.Health
		}
		if delta.Mana != nil {
			actor.Mana += *delta.Mana
		}

		actor.Health = clamp(actor.Health, 0, 100)
		actor.Mana = clamp(actor.Mana, 0, 100)

		// 死亡是单向转换，引擎内不存在复活
		if actor.Health == 0 {
			actor.IsAlive = false
		}
	}

	if delta.Risk != nil {
		sess.Risk = clamp(sess.Risk+*delta.Risk, 0, 100)
	}

	if len(delta.Inventory) > 0 {
		if sess.Inventory == nil {
			sess.Inventory = make(map[string]int)
		}
		for item, qty := range delta.Inventory {
			sess.Inventory[item] += qty
			if sess.Inventory[item] <= 0 {
				delete(sess.Inventory, item)
			}
		}
	}

	return sess.AliveCount() == 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
