package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了路由服务运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	TradeID  TradeIDConfig  `mapstructure:"trade_id"`
	Plugins  []PluginConfig `mapstructure:"plugins"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 描述 HTTP 接入层。
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TradeIDConfig 控制交易标识格式，可选 uuid 或 sequence。
type TradeIDConfig struct {
	Format string `mapstructure:"format"`
}

// PluginConfig 描述一个业务逻辑插件。列表顺序即注册顺序，也是事件路由的决胜顺序。
type PluginConfig struct {
	ID       string         `mapstructure:"id"`
	Kind     string         `mapstructure:"kind"`
	Settings map[string]any `mapstructure:"settings"`
}

// LedgerConfig 描述验证器事件订阅。
type LedgerConfig struct {
	Verifiers []VerifierConfig `mapstructure:"verifiers"`
	Retry     RetryConfig      `mapstructure:"retry"`
}

// VerifierConfig 为单个验证器的 websocket 事件源。
type VerifierConfig struct {
	ID  string `mapstructure:"id"`
	URL string `mapstructure:"url"`
}

// RetryConfig 控制事件源断线重连。
type RetryConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DatabaseConfig 管理审计日志数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MetricsConfig 控制 /metrics 暴露。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		err = multierr.Append(err, errors.New("server 超时不能为负"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	switch strings.ToLower(c.TradeID.Format) {
	case "uuid", "sequence":
	default:
		err = multierr.Append(err, fmt.Errorf("trade_id.format 不支持 %q", c.TradeID.Format))
	}

	if len(c.Plugins) == 0 {
		err = multierr.Append(err, errors.New("plugins 至少包含一个业务逻辑插件"))
	}
	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		if strings.TrimSpace(p.ID) == "" {
			err = multierr.Append(err, fmt.Errorf("plugins[%d].id 不能为空", i))
			continue
		}
		if p.Kind == "" {
			err = multierr.Append(err, fmt.Errorf("plugins[%d].kind 不能为空", i))
		}
		id := strings.TrimSpace(p.ID)
		if _, dup := seen[id]; dup {
			err = multierr.Append(err, fmt.Errorf("plugins[%d].id %q 重复", i, id))
		}
		seen[id] = struct{}{}
	}

	for i, v := range c.Ledger.Verifiers {
		if v.ID == "" {
			err = multierr.Append(err, fmt.Errorf("ledger.verifiers[%d].id 不能为空", i))
		}
		if !strings.HasPrefix(v.URL, "ws://") && !strings.HasPrefix(v.URL, "wss://") {
			err = multierr.Append(err, fmt.Errorf("ledger.verifiers[%d].url 必须为 ws:// 或 wss:// 地址", i))
		}
	}
	if c.Ledger.Retry.MinDelay <= 0 || c.Ledger.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("ledger.retry.delay 必须为正"))
	}
	if c.Ledger.Retry.MinDelay > c.Ledger.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("ledger.retry.min_delay 不能大于 max_delay"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		err = multierr.Append(err, errors.New("metrics.path 必须以 / 开头"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
