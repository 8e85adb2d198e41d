package services

import (
	"testing"

	"github.com/aiwuxian/chronica/internal/models"
	"github.com/stretchr/testify/assert"
)

func newTestSession(players ...models.Participant) *models.Session {
	return &models.Session{
		ID:         "test",
		Players:    players,
		Inventory:  map[string]int{},
		WorldState: map[string]string{},
		Status:     models.SessionActive,
	}
}

func alivePlayer(name string) models.Participant {
	return models.Participant{Name: name, Health: 100, Mana: 100, IsAlive: true}
}

// TestApplyDeltaClampAndDeath 超额伤害夹到0并判定死亡
func TestApplyDeltaClampAndDeath(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"), alivePlayer("Bruno"))

	wiped := engine.ApplyDelta(sess, &models.StateDelta{Health: intPtr(-1000)})

	assert.False(t, wiped)
	assert.Equal(t, 0, sess.Players[0].Health)
	assert.False(t, sess.Players[0].IsAlive)
	// 队友不受影响
	assert.Equal(t, 100, sess.Players[1].Health)
	assert.True(t, sess.Players[1].IsAlive)
}

// TestApplyDeltaPartyWipe 最后一名存活者死亡触发全灭
func TestApplyDeltaPartyWipe(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"))

	wiped := engine.ApplyDelta(sess, &models.StateDelta{Health: intPtr(-200)})

	assert.True(t, wiped)
	assert.Equal(t, 0, sess.AliveCount())
}

// TestApplyDeltaManaClamp 法力在[0,100]内夹紧
func TestApplyDeltaManaClamp(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"))
	sess.Players[0].Mana = 95

	engine.ApplyDelta(sess, &models.StateDelta{Mana: intPtr(15)})
	assert.Equal(t, 100, sess.Players[0].Mana)

	engine.ApplyDelta(sess, &models.StateDelta{Mana: intPtr(-500)})
	assert.Equal(t, 0, sess.Players[0].Mana)
	// 法力见底不致死
	assert.True(t, sess.Players[0].IsAlive)
}

// TestApplyDeltaRiskClamp 风险值双向夹紧
func TestApplyDeltaRiskClamp(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"))

	engine.ApplyDelta(sess, &models.StateDelta{Risk: intPtr(150)})
	assert.Equal(t, 100, sess.Risk)

	engine.ApplyDelta(sess, &models.StateDelta{Risk: intPtr(-999)})
	assert.Equal(t, 0, sess.Risk)
}

// TestApplyDeltaInventory 数量累加，归零或负数的条目移除
func TestApplyDeltaInventory(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"))
	sess.Inventory = map[string]int{"torch": 2, "rope": 1}

	engine.ApplyDelta(sess, &models.StateDelta{Inventory: map[string]int{
		"torch": -2,
		"rope":  1,
		"coin":  -5, // 从未持有，直接丢弃
	}})

	assert.NotContains(t, sess.Inventory, "torch")
	assert.NotContains(t, sess.Inventory, "coin")
	assert.Equal(t, 2, sess.Inventory["rope"])
}

// TestApplyDeltaWorldState 世界状态只增不删，同key覆盖
func TestApplyDeltaWorldState(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"))
	sess.WorldState = map[string]string{"gate": "closed"}

	engine.ApplyDelta(sess, &models.StateDelta{WorldState: map[string]string{
		"gate":   "open",
		"bridge": "collapsed",
	}})

	assert.Equal(t, "open", sess.WorldState["gate"])
	assert.Equal(t, "collapsed", sess.WorldState["bridge"])
}

// TestApplyDeltaEmpty 空变化等价于无操作
func TestApplyDeltaEmpty(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"))
	sess.Risk = 40

	wiped := engine.ApplyDelta(sess, nil)
	assert.False(t, wiped)
	assert.Equal(t, 40, sess.Risk)
	assert.Equal(t, 100, sess.Players[0].Health)

	wiped = engine.ApplyDelta(sess, &models.StateDelta{})
	assert.False(t, wiped)
	assert.Equal(t, 40, sess.Risk)
}

// TestApplyDeltaNoRevival 死亡是单向的，正向血量不会复活
func TestApplyDeltaNoRevival(t *testing.T) {
	engine := NewDeltaEngine()
	sess := newTestSession(alivePlayer("Ana"), alivePlayer("Bruno"))
	sess.Players[0].Health = 0
	sess.Players[0].IsAlive = false

	engine.ApplyDelta(sess, &models.StateDelta{Health: intPtr(50)})

	// 血量可以回升，但存活标记不翻转
	assert.False(t, sess.Players[0].IsAlive)
}
