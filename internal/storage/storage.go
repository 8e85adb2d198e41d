package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aiwuxian/chronica/internal/models"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		story_title TEXT NOT NULL,
		plot TEXT, -- JSON object
		scene_index INTEGER DEFAULT 0,
		players TEXT, -- JSON array
		turn INTEGER DEFAULT 0,
		round INTEGER DEFAULT 0,
		risk INTEGER DEFAULT 0,
		inventory TEXT, -- JSON object
		world_state TEXT, -- JSON object
		used_riddles TEXT, -- JSON array
		last_choice TEXT, -- JSON object
		status TEXT DEFAULT 'active',
		end_reason TEXT DEFAULT '',
		time_limit INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		choice TEXT, -- JSON object
		state_delta TEXT, -- JSON object
		story TEXT,
		image_prompt TEXT,
		is_epilogue INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Session operations

func (s *Storage) CreateSession(sess *models.Session) error {
	plotJSON, _ := json.Marshal(sess.Plot)
	playersJSON, _ := json.Marshal(sess.Players)
	inventoryJSON, _ := json.Marshal(sess.Inventory)
	worldStateJSON, _ := json.Marshal(sess.WorldState)
	riddlesJSON, _ := json.Marshal(sess.UsedRiddles)
	choiceJSON, _ := json.Marshal(sess.LastChoice)

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, language, story_title, plot, scene_index, players, turn, round, risk,
			inventory, world_state, used_riddles, last_choice, status, end_reason, time_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Language, sess.StoryTitle, plotJSON, sess.SceneIndex, playersJSON,
		sess.Turn, sess.Round, sess.Risk, inventoryJSON, worldStateJSON, riddlesJSON,
		choiceJSON, sess.Status, sess.EndReason, sess.TimeLimit, sess.CreatedAt, sess.UpdatedAt)

	return err
}

// UpdateSession 每回合整体落盘，用于断线续玩
func (s *Storage) UpdateSession(sess *models.Session) error {
	plotJSON, _ := json.Marshal(sess.Plot)
	playersJSON, _ := json.Marshal(sess.Players)
	inventoryJSON, _ := json.Marshal(sess.Inventory)
	worldStateJSON, _ := json.Marshal(sess.WorldState)
	riddlesJSON, _ := json.Marshal(sess.UsedRiddles)
	choiceJSON, _ := json.Marshal(sess.LastChoice)

	_, err := s.db.Exec(`
		UPDATE sessions
		SET story_title=?, plot=?, scene_index=?, players=?, turn=?, round=?, risk=?,
			inventory=?, world_state=?, used_riddles=?, last_choice=?, status=?, end_reason=?, updated_at=?
		WHERE id=?
	`, sess.StoryTitle, plotJSON, sess.SceneIndex, playersJSON, sess.Turn, sess.Round, sess.Risk,
		inventoryJSON, worldStateJSON, riddlesJSON, choiceJSON, sess.Status, sess.EndReason,
		time.Now(), sess.ID)

	return err
}

func (s *Storage) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, language, story_title, plot, scene_index, players, turn, round, risk,
			inventory, world_state, used_riddles, last_choice, status, end_reason, time_limit, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	return scanSession(row)
}

func (s *Storage) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, language, story_title, plot, scene_index, players, turn, round, risk,
			inventory, world_state, used_riddles, last_choice, status, end_reason, time_limit, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		sessions = append(sessions, *sess)
	}

	return sessions, nil
}

func (s *Storage) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var plotJSON, playersJSON, inventoryJSON, worldStateJSON, riddlesJSON, choiceJSON string

	err := row.Scan(&sess.ID, &sess.Language, &sess.StoryTitle, &plotJSON, &sess.SceneIndex,
		&playersJSON, &sess.Turn, &sess.Round, &sess.Risk, &inventoryJSON, &worldStateJSON,
		&riddlesJSON, &choiceJSON, &sess.Status, &sess.EndReason, &sess.TimeLimit,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(plotJSON), &sess.Plot)
	json.Unmarshal([]byte(playersJSON), &sess.Players)
	json.Unmarshal([]byte(inventoryJSON), &sess.Inventory)
	json.Unmarshal([]byte(worldStateJSON), &sess.WorldState)
	json.Unmarshal([]byte(riddlesJSON), &sess.UsedRiddles)
	if choiceJSON != "" && choiceJSON != "null" {
		var choice models.Choice
		if json.Unmarshal([]byte(choiceJSON), &choice) == nil {
			sess.LastChoice = &choice
		}
	}

	if sess.Inventory == nil {
		sess.Inventory = map[string]int{}
	}
	if sess.WorldState == nil {
		sess.WorldState = map[string]string{}
	}

	return &sess, nil
}

// Event operations（只追加，不修改）

func (s *Storage) AppendEvent(event *models.Event) (int64, error) {
	choiceJSON, _ := json.Marshal(event.Choice)
	deltaJSON, _ := json.Marshal(event.StateDelta)

	res, err := s.db.Exec(`
		INSERT INTO events (session_id, turn, choice, state_delta, story, image_prompt, is_epilogue, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.SessionID, event.Turn, choiceJSON, deltaJSON, event.Story, event.ImagePrompt,
		event.IsEpilogue, time.Now())
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// RecentEvents 最近limit条事件，最新在前
func (s *Storage) RecentEvents(sessionID string, limit int) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, turn, choice, state_delta, story, image_prompt, is_epilogue, created_at
		FROM events WHERE session_id = ?
		ORDER BY id DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// AllEvents 全部事件，按写入顺序
func (s *Storage) AllEvents(sessionID string) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, turn, choice, state_delta, story, image_prompt, is_epilogue, created_at
		FROM events WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var event models.Event
		var choiceJSON, deltaJSON string

		err := rows.Scan(&event.ID, &event.SessionID, &event.Turn, &choiceJSON, &deltaJSON,
			&event.Story, &event.ImagePrompt, &event.IsEpilogue, &event.CreatedAt)
		if err != nil {
			continue
		}

		if choiceJSON != "" && choiceJSON != "null" {
			var choice models.Choice
			if json.Unmarshal([]byte(choiceJSON), &choice) == nil {
				event.Choice = &choice
			}
		}
		if deltaJSON != "" && deltaJSON != "null" {
			var delta models.StateDelta
			if json.Unmarshal([]byte(deltaJSON), &delta) == nil && !delta.IsEmpty() {
				event.StateDelta = &delta
			}
		}

		events = append(events, event)
	}

	return events, nil
}
