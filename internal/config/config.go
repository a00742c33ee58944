package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	Contest   []string   `yaml:"contest"`
	Languages []Language `yaml:"languages"`
	Logger    Logger     `yaml:"logger"`
	Storage   Storage    `yaml:"storage"`
	Auth      Auth       `yaml:"auth"`
	Listen    string     `yaml:"listen"`
	Judgehost Listener   `yaml:"judgehost"`
	Admin     Listener   `yaml:"admin"`
	CORS      CORS       `yaml:"cors"`
	Scoring   Scoring    `yaml:"scoring"`
	Queue     Queue      `yaml:"queue"`
	Redis     Redis      `yaml:"redis"`
	Kafka     Kafka      `yaml:"kafka"`
	MinIO     MinIO      `yaml:"minio"`
}

type Language struct {
	ID         string  `yaml:"id" json:"id"`
	Name       string  `yaml:"name" json:"name"`
	TimeFactor float64 `yaml:"time_factor" json:"time_factor"`
	AllowJudge *bool   `yaml:"allow_judge" json:"-"`
}

func (l *Language) Judgeable() bool {
	return l.AllowJudge == nil || *l.AllowJudge
}

type Logger struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Storage struct {
	Driver   string `yaml:"driver"`
	Database string `yaml:"database"`
}

type Auth struct {
	JWT        JWT       `yaml:"jwt"`
	Judgehosts []Account `yaml:"judgehosts"`
	Jury       []Account `yaml:"jury"`
}

type JWT struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

// Account is a machine or jury login. PasswordHash is a bcrypt hash.
type Account struct {
	Name         string       `yaml:"name"`
	PasswordHash string       `yaml:"password_hash"`
	Restrictions Restrictions `yaml:"restrictions"`
}

type Restrictions struct {
	Contests   []string `yaml:"contests" json:"contests,omitempty"`
	Problems   []string `yaml:"problems" json:"problems,omitempty"`
	Languages  []string `yaml:"languages" json:"languages,omitempty"`
	RejudgeOwn *bool    `yaml:"rejudge_own" json:"rejudge_own,omitempty"`
}

type Listener struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type Scoring struct {
	PenaltyTime    *int              `yaml:"penalty_time"`
	CompilePenalty bool              `yaml:"compile_penalty"`
	ScoreInSeconds bool              `yaml:"score_in_seconds"`
	LazyEval       *bool             `yaml:"lazy_eval"`
	ResultsPrio    map[string]int    `yaml:"results_prio"`
	ResultsRemap   map[string]string `yaml:"results_remap"`
}

type Queue struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	MaxWait         time.Duration `yaml:"max_wait"`
	ClaimRetries    int           `yaml:"claim_retries"`
	AbandonTimeout  time.Duration `yaml:"abandon_timeout"`
}

type Redis struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MinIO struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/csjudge.db"
	}
	if c.Auth.JWT.ExpireHours <= 0 {
		c.Auth.JWT.ExpireHours = 24
	}
	if c.Scoring.PenaltyTime == nil {
		penalty := 20
		c.Scoring.PenaltyTime = &penalty
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 500 * time.Millisecond
	}
	if c.Queue.MaxPollInterval < c.Queue.PollInterval {
		c.Queue.MaxPollInterval = 5 * time.Second
	}
	if c.Queue.MaxWait <= 0 {
		c.Queue.MaxWait = 30 * time.Second
	}
	if c.Queue.ClaimRetries <= 0 {
		c.Queue.ClaimRetries = 5
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "csjudge"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "csjudge.solves"
	}
	if c.MinIO.URLExpiry <= 0 {
		c.MinIO.URLExpiry = time.Hour
	}
	for i := range c.Languages {
		if c.Languages[i].TimeFactor <= 0 {
			c.Languages[i].TimeFactor = 1
		}
	}
}
