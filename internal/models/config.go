package models

// Config 配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Game     GameConfig     `yaml:"game"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai / gemini
	APIKey      string  `yaml:"api_key"`
	APIBase     string  `yaml:"api_base"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type GameConfig struct {
	DefaultHealth int `yaml:"default_health"`
	DefaultMana   int `yaml:"default_mana"`
	HistoryLimit  int `yaml:"history_limit"` // 生成上下文的最近事件窗口
	MaxPlayers    int `yaml:"max_players"`
}

type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"` // json / console
	Output string        `yaml:"output"` // stdout / file / both
	File   LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Path       string `yaml:"path"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxAge     int    `yaml:"max_age"`  // 天
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// Normalize 填充缺省值
func (c *Config) Normalize() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/chronica.db"
	}
	if c.Game.DefaultHealth == 0 {
		c.Game.DefaultHealth = 100
	}
	if c.Game.DefaultMana == 0 {
		c.Game.DefaultMana = 100
	}
	if c.Game.HistoryLimit == 0 {
		c.Game.HistoryLimit = 5
	}
	if c.Game.MaxPlayers == 0 {
		c.Game.MaxPlayers = 6
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}
